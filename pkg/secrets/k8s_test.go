package secrets

import (
	"encoding/base64"
	"errors"
	"os"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/packlift/packlift/pkg/flow"
)

func TestK8sStoreWritesManifest(t *testing.T) {
	dir := t.TempDir()
	store := NewK8sStore("platform", "bootstrap-secrets", dir)

	writes := []flow.SecretWrite{
		{Key: "api_key", Value: strPtr("s3cr3t"), Scope: "app"},
		{Key: "db_password", Value: strPtr("hunter2")},
	}
	if err := store.Write(writes); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	raw, err := os.ReadFile(store.ManifestPath())
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest secretManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}

	if manifest.APIVersion != "v1" || manifest.Kind != "Secret" || manifest.Type != "Opaque" {
		t.Fatalf("unexpected manifest envelope: %+v", manifest)
	}
	if manifest.Metadata.Name != "bootstrap-secrets" || manifest.Metadata.Namespace != "platform" {
		t.Fatalf("unexpected metadata: %+v", manifest.Metadata)
	}
	if manifest.Metadata.Annotations["managed-by"] != "packlift" {
		t.Fatalf("missing managed-by annotation: %+v", manifest.Metadata.Annotations)
	}

	decoded, err := base64.StdEncoding.DecodeString(manifest.Data["app/api_key"])
	if err != nil {
		t.Fatalf("decode secret value: %v", err)
	}
	if string(decoded) != "s3cr3t" {
		t.Fatalf("scoped value round-tripped to %q", decoded)
	}
	decoded, err = base64.StdEncoding.DecodeString(manifest.Data["db_password"])
	if err != nil {
		t.Fatalf("decode secret value: %v", err)
	}
	if string(decoded) != "hunter2" {
		t.Fatalf("unscoped value round-tripped to %q", decoded)
	}
}

func TestK8sStoreMissingValue(t *testing.T) {
	store := NewK8sStore("platform", "bootstrap-secrets", t.TempDir())

	err := store.Write([]flow.SecretWrite{{Key: "bad"}})
	var missing *MissingValueError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingValueError, got %v", err)
	}
	if _, statErr := os.Stat(store.ManifestPath()); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("rejected write must not produce a manifest")
	}
}

func TestK8sStoreSnapshotAndRestore(t *testing.T) {
	store := NewK8sStore("platform", "bootstrap-secrets", t.TempDir())

	snap, err := store.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap != nil {
		t.Fatal("cluster stub must not produce a snapshot")
	}
	if err := store.Restore(nil); err == nil {
		t.Fatal("expected restore to be unsupported")
	}
}
