// Package state persists the bootstrap state record: which platform
// pack is installed, when, and how to refer back to the previous
// version after an upgrade.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ErrNotInstalled is returned by the upgrade preflight when no state
// record exists.
var ErrNotInstalled = errors.New("platform not installed; run platform install first")

// ErrMissingVersion is returned when the state record exists but
// carries no version to compare against.
var ErrMissingVersion = errors.New("bootstrap state missing version; reinstall required")

// NotNewerError rejects an upgrade to a version that is not strictly
// newer than the installed one.
type NotNewerError struct {
	Current   string
	Requested string
}

func (e *NotNewerError) Error() string {
	return fmt.Sprintf("upgrade requires a newer pack version (current %s, requested %s)", e.Current, e.Requested)
}

// BootstrapState is the persisted installation record. Absent fields
// serialize as explicit JSON nulls.
type BootstrapState struct {
	Version         *string `json:"version"`
	Digest          *string `json:"digest"`
	InstalledAt     *int64  `json:"installed_at"`
	EnvironmentKind *string `json:"environment_kind"`
	LastUpgradeAt   *int64  `json:"last_upgrade_at"`
	RollbackRef     *string `json:"rollback_ref"`
}

// InstalledNow builds the state record for a fresh install.
func InstalledNow(version, digest string) *BootstrapState {
	now := nowTS()
	return &BootstrapState{
		Version:     optional(version),
		Digest:      optional(digest),
		InstalledAt: &now,
	}
}

// UpgradedFrom builds the state record after an upgrade: the
// original install timestamp and environment kind survive, the
// upgrade timestamp and rollback reference are set fresh.
func UpgradedFrom(current *BootstrapState, version, digest, rollbackRef string) *BootstrapState {
	now := nowTS()
	installedAt := &now
	var environmentKind *string
	if current != nil {
		if current.InstalledAt != nil {
			installedAt = current.InstalledAt
		}
		environmentKind = current.EnvironmentKind
	}
	return &BootstrapState{
		Version:         optional(version),
		Digest:          optional(digest),
		InstalledAt:     installedAt,
		EnvironmentKind: environmentKind,
		LastUpgradeAt:   &now,
		RollbackRef:     optional(rollbackRef),
	}
}

// EnsureUpgradeAllowed runs the upgrade preflight: the platform must
// be installed, its version known, and the target strictly newer.
func EnsureUpgradeAllowed(current *BootstrapState, target *semver.Version) (*BootstrapState, error) {
	if current == nil {
		return nil, ErrNotInstalled
	}
	if current.Version == nil || *current.Version == "" {
		return nil, ErrMissingVersion
	}
	installed, err := semver.NewVersion(*current.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid version in state: %w", err)
	}
	if target.Compare(installed) <= 0 {
		return nil, &NotNewerError{Current: installed.String(), Requested: target.String()}
	}
	return current, nil
}

// Store reads and writes the state record on disk.
type Store struct {
	path string
}

// NewFileStore addresses the state file at path.
func NewFileStore(path string) *Store {
	return &Store{path: path}
}

// ParseBackend resolves a state backend URI. Only the file backend
// is available; cluster-backed state is recognized but not built.
func ParseBackend(uri string) (*Store, error) {
	if path, ok := strings.CutPrefix(uri, "file:"); ok {
		if path == "" {
			return nil, errors.New("file bootstrap state backend requires a path")
		}
		return NewFileStore(path), nil
	}
	if strings.HasPrefix(uri, "k8s:") {
		return nil, errors.New("k8s bootstrap state backend not available in this build")
	}
	return nil, fmt.Errorf("unsupported bootstrap state backend: %s", uri)
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load reads the state record. A missing file is not an error; it
// returns nil state.
func (s *Store) Load() (*BootstrapState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bootstrap state %s: %w", s.path, err)
	}
	var state BootstrapState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse bootstrap state %s: %w", s.path, err)
	}
	return &state, nil
}

// Save writes the state record, creating parent directories as
// needed.
func (s *Store) Save(state *BootstrapState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bootstrap state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write bootstrap state %s: %w", s.path, err)
	}
	return nil
}

func nowTS() int64 { return time.Now().Unix() }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
