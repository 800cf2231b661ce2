// Package configpatch persists the configuration patch an installer
// declares in its output. The patch is opaque JSON written whole to
// a file next to the bootstrap state, with snapshot/restore hooks
// for rollback.
package configpatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultFileName is the patch file placed next to the bootstrap
// state when no explicit path is configured.
const DefaultFileName = "config_patch.json"

// Snapshot captures the patch file's state immediately before a
// mutating write.
type Snapshot struct {
	Existed bool
	Content []byte
}

// Store reads and writes the config patch file.
type Store struct {
	path string
}

// NewStore addresses the patch file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath places the patch file in the same directory as the
// bootstrap state file.
func DefaultPath(statePath string) string {
	dir := filepath.Dir(statePath)
	if dir == "" || dir == "." {
		return DefaultFileName
	}
	return filepath.Join(dir, DefaultFileName)
}

// Path returns the patch file location.
func (s *Store) Path() string { return s.path }

// Snapshot captures the file's current content, or its absence.
func (s *Store) Snapshot() (*Snapshot, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot config patch %s: %w", s.path, err)
	}
	return &Snapshot{Existed: true, Content: content}, nil
}

// Write replaces the patch file with the given patch, pretty
// printed. An absent patch is recorded as JSON null.
func (s *Store) Write(patch json.RawMessage) error {
	rendered := []byte("null")
	if len(patch) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, patch, "", "  "); err != nil {
			return fmt.Errorf("encode config patch: %w", err)
		}
		rendered = buf.Bytes()
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config patch directory: %w", err)
	}
	if err := os.WriteFile(s.path, rendered, 0o644); err != nil {
		return fmt.Errorf("write config patch %s: %w", s.path, err)
	}
	return nil
}

// Restore writes the snapshotted content back, or removes the file
// when it did not exist before the run.
func (s *Store) Restore(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if !snap.Existed {
		err := os.Remove(s.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove config patch %s: %w", s.path, err)
		}
		return nil
	}
	if err := os.WriteFile(s.path, snap.Content, 0o644); err != nil {
		return fmt.Errorf("restore config patch %s: %w", s.path, err)
	}
	return nil
}
