package secrets

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/packlift/packlift/pkg/flow"
)

// K8sStore renders secret writes into a minimal Kubernetes Secret
// manifest on disk instead of talking to a cluster. It cannot
// snapshot or restore; rollback skips it.
type K8sStore struct {
	namespace string
	name      string
	dir       string
}

// NewK8sStore addresses the Secret name in namespace. Manifests are
// written under dir; empty dir selects a directory under the system
// temp root.
func NewK8sStore(namespace, name, dir string) *K8sStore {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "packlift-k8s-secrets")
	}
	return &K8sStore{namespace: namespace, name: name, dir: dir}
}

// Describe returns the backend URI.
func (s *K8sStore) Describe() string {
	return fmt.Sprintf("k8s:%s/%s", s.namespace, s.name)
}

// ManifestPath is where the rendered Secret manifest lands.
func (s *K8sStore) ManifestPath() string {
	return filepath.Join(s.dir, s.namespace, s.name+".yaml")
}

// Snapshot returns nil: the manifest stub carries no prior state.
func (s *K8sStore) Snapshot() (*Snapshot, error) { return nil, nil }

type secretManifest struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   secretMetadata    `yaml:"metadata"`
	Type       string            `yaml:"type"`
	Data       map[string]string `yaml:"data"`
}

type secretMetadata struct {
	Name        string            `yaml:"name"`
	Namespace   string            `yaml:"namespace"`
	Annotations map[string]string `yaml:"annotations"`
}

// Write renders all writes into one Secret manifest with
// base64-encoded values.
func (s *K8sStore) Write(writes []flow.SecretWrite) error {
	if len(writes) == 0 {
		return nil
	}

	data := make(map[string]string, len(writes))
	for _, write := range writes {
		if write.Value == nil {
			return &MissingValueError{Key: write.Key}
		}
		data[storageKey(write)] = base64.StdEncoding.EncodeToString([]byte(*write.Value))
	}

	manifest := secretManifest{
		APIVersion: "v1",
		Kind:       "Secret",
		Metadata: secretMetadata{
			Name:        s.name,
			Namespace:   s.namespace,
			Annotations: map[string]string{"managed-by": "packlift"},
		},
		Type: "Opaque",
		Data: data,
	}
	out, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode secret manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(s.dir, s.namespace), 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	path := s.ManifestPath()
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write secret manifest %s: %w", path, err)
	}
	return nil
}

// Restore is unsupported for the cluster stub.
func (s *K8sStore) Restore(snap *Snapshot) error {
	return errors.New("k8s secrets backend restore not implemented in stub")
}
