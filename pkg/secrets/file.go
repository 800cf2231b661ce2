package secrets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/packlift/packlift/pkg/flow"
)

// FileStore persists secrets as one JSON object on disk. Writes
// merge into the existing object rather than replacing it, so
// secrets from earlier runs survive.
type FileStore struct {
	path string
}

// NewFileStore addresses the JSON secrets file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Describe returns the backend URI.
func (s *FileStore) Describe() string { return "file:" + s.path }

// Snapshot captures the file's current content, or its absence.
func (s *FileStore) Snapshot() (*Snapshot, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot secrets file %s: %w", s.path, err)
	}
	return &Snapshot{Existed: true, Content: content}, nil
}

// Write merges the given writes into the stored object. Nothing is
// written unless every write carries a value.
func (s *FileStore) Write(writes []flow.SecretWrite) error {
	if len(writes) == 0 {
		return nil
	}

	store, err := s.load()
	if err != nil {
		return err
	}
	for _, write := range writes {
		if write.Value == nil {
			return &MissingValueError{Key: write.Key}
		}
		store[storageKey(write)] = StoredSecret{
			Value:    *write.Value,
			Scope:    write.Scope,
			Metadata: write.Metadata,
		}
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("encode secrets file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create secrets directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write secrets file %s: %w", s.path, err)
	}
	return nil
}

// Restore writes the snapshotted content back, or removes the file
// when it did not exist before the run.
func (s *FileStore) Restore(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if !snap.Existed {
		err := os.Remove(s.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove secrets file %s: %w", s.path, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create secrets directory: %w", err)
	}
	if err := os.WriteFile(s.path, snap.Content, 0o600); err != nil {
		return fmt.Errorf("restore secrets file %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) load() (map[string]StoredSecret, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]StoredSecret{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets file %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return map[string]StoredSecret{}, nil
	}
	var store map[string]StoredSecret
	if err := json.Unmarshal(content, &store); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", s.path, err)
	}
	return store, nil
}
