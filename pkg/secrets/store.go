// Package secrets persists installer-declared secret values. Two
// backends exist: a JSON file store that merges writes into an
// existing map, and a stub that renders Kubernetes Secret manifests
// to disk. Both are addressed through backend URIs of the form
// "file:<path>" or "k8s:<namespace>/<name>".
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/packlift/packlift/pkg/flow"
)

// MissingValueError reports a secret write without a concrete
// value. Bootstrap mode never accepts placeholders.
type MissingValueError struct {
	Key string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("secret write %q missing value (installers must supply values in bootstrap mode)", e.Key)
}

// Snapshot captures a backend's state immediately before a mutating
// write so a failed run can put it back.
type Snapshot struct {
	// Existed reports whether the backend target was present.
	Existed bool

	// Content is the prior content when Existed is true.
	Content []byte
}

// Store writes secrets and supports best-effort rollback through
// snapshots.
type Store interface {
	// Snapshot captures the current backend content. A nil snapshot
	// with a nil error means the backend cannot be restored and
	// rollback skips it.
	Snapshot() (*Snapshot, error)

	// Write merges the given secret writes into the backend.
	Write(writes []flow.SecretWrite) error

	// Restore puts the backend back to the snapshotted state.
	Restore(snap *Snapshot) error

	// Describe returns the backend URI for logs and status output.
	Describe() string
}

// StoredSecret is the per-key record in the file backend.
type StoredSecret struct {
	Value    string          `json:"value"`
	Scope    string          `json:"scope,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ParseBackend resolves a backend URI. k8sDir overrides where the
// cluster stub writes manifests; empty means the default directory.
func ParseBackend(uri, k8sDir string) (Store, error) {
	if path, ok := strings.CutPrefix(uri, "file:"); ok {
		if path == "" {
			return nil, errors.New("file secrets backend requires a path")
		}
		return NewFileStore(path), nil
	}
	if rest, ok := strings.CutPrefix(uri, "k8s:"); ok {
		namespace, name, err := parseK8sTarget(rest)
		if err != nil {
			return nil, err
		}
		return NewK8sStore(namespace, name, k8sDir), nil
	}
	return nil, fmt.Errorf("unsupported secrets backend: %s", uri)
}

// parseK8sTarget accepts "ns/name" and "namespace=ns,name=secret".
func parseK8sTarget(rest string) (namespace, name string, err error) {
	switch {
	case strings.Contains(rest, "/"):
		namespace, name, _ = strings.Cut(rest, "/")
		if namespace == "" {
			return "", "", errors.New("k8s backend missing namespace")
		}
		if name == "" {
			return "", "", errors.New("k8s backend missing secret name")
		}
		return namespace, name, nil

	case strings.Contains(rest, "="):
		for _, part := range strings.Split(rest, ",") {
			key, value, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			switch key {
			case "namespace":
				namespace = value
			case "name":
				name = value
			}
		}
		if namespace == "" {
			return "", "", errors.New("k8s backend requires namespace=<ns>")
		}
		if name == "" {
			return "", "", errors.New("k8s backend requires name=<secret>")
		}
		return namespace, name, nil
	}
	return "", "", errors.New("k8s backend expects k8s:<namespace>/<name> or k8s:namespace=<ns>,name=<secret>")
}

// storageKey derives the map key for a write: "scope/key" when
// scoped, bare key otherwise.
func storageKey(write flow.SecretWrite) string {
	if write.Scope != "" {
		return write.Scope + "/" + write.Key
	}
	return write.Key
}
