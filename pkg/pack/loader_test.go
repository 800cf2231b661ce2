package pack

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestPack(t *testing.T, manifest Manifest, flows map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "platform.gtpack")
	if err := WriteArchive(path, manifest, flows); err != nil {
		t.Fatalf("WriteArchive failed: %v", err)
	}
	return path
}

func testManifest() Manifest {
	return Manifest{
		Name:    "platform",
		Version: "1.2.0",
		Flows: []FlowEntry{
			{ID: "platform_install", Title: "Install"},
			{ID: "platform_upgrade", Title: "Upgrade"},
		},
	}
}

func TestLoadComputesDigestAndManifest(t *testing.T) {
	path := writeTestPack(t, testManifest(), map[string][]byte{
		"platform_install": []byte(`{"steps":[]}`),
	})

	info, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if info.Manifest.Name != "platform" || info.Manifest.Version != "1.2.0" {
		t.Errorf("manifest = %+v, want name=platform version=1.2.0", info.Manifest)
	}
	if len(info.Manifest.Flows) != 2 {
		t.Errorf("flows = %d, want 2", len(info.Manifest.Flows))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pack: %v", err)
	}
	sum := sha256.Sum256(raw)
	want := "sha256:" + hex.EncodeToString(sum[:])
	if info.Digest != want {
		t.Errorf("Digest = %q, want %q", info.Digest, want)
	}
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.gtpack"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, ErrNotAFile) {
		t.Fatalf("expected ErrNotAFile, got %v", err)
	}
}

func TestLoadJSONManifestFallback(t *testing.T) {
	manifest := testManifest()
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	path := filepath.Join(t.TempDir(), "platform.gtpack")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create pack: %v", err)
	}
	tw := tar.NewWriter(f)
	hdr := &tar.Header{Name: "manifest.json", Mode: 0o644, Size: int64(len(data))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := tw.Write(data); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	f.Close()

	info, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if info.Manifest.Name != "platform" {
		t.Errorf("manifest name = %q, want platform", info.Manifest.Name)
	}
}

func TestLoadNoManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.gtpack")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create pack: %v", err)
	}
	tw := tar.NewWriter(f)
	if err := tw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	f.Close()

	_, err = Load(path)
	if err == nil || !strings.Contains(err.Error(), "no manifest entry") {
		t.Fatalf("expected missing-manifest error, got %v", err)
	}
}

func TestReadFlow(t *testing.T) {
	doc := []byte(`{"steps":[{"kind":"installer_call"}]}`)
	path := writeTestPack(t, testManifest(), map[string][]byte{
		"platform_install": doc,
	})

	got, err := ReadFlow(path, "platform_install")
	if err != nil {
		t.Fatalf("ReadFlow failed: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("flow doc = %q, want %q", got, doc)
	}

	if _, err := ReadFlow(path, "missing_flow"); err == nil {
		t.Error("expected error for missing flow")
	}
}
