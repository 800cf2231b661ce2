package configpatch

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPath(t *testing.T) {
	tests := []struct {
		name      string
		statePath string
		want      string
	}{
		{name: "nested state path", statePath: "/var/lib/packlift/state.json", want: "/var/lib/packlift/config_patch.json"},
		{name: "bare file name", statePath: "state.json", want: "config_patch.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultPath(tt.statePath); got != tt.want {
				t.Fatalf("DefaultPath(%q) = %q, want %q", tt.statePath, got, tt.want)
			}
		})
	}
}

func TestStoreWritePrettyPrints(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "config_patch.json"))

	if err := store.Write(json.RawMessage(`{"cluster":{"size":3}}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	content, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read patch: %v", err)
	}
	want := "{\n  \"cluster\": {\n    \"size\": 3\n  }\n}"
	if string(content) != want {
		t.Fatalf("patch rendered as %q, want %q", content, want)
	}
}

func TestStoreWriteAbsentPatch(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "config_patch.json"))

	if err := store.Write(nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	content, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read patch: %v", err)
	}
	if string(content) != "null" {
		t.Fatalf("absent patch rendered as %q", content)
	}
}

func TestStoreSnapshotRestore(t *testing.T) {
	t.Run("restore removes file that did not exist", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "config_patch.json"))

		snap, err := store.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Existed {
			t.Fatal("snapshot of missing file must report Existed=false")
		}

		if err := store.Write(json.RawMessage(`{"a":1}`)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := store.Restore(snap); err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		if _, err := os.Stat(store.Path()); !errors.Is(err, os.ErrNotExist) {
			t.Fatal("restore must remove the file created during the run")
		}
	})

	t.Run("restore puts prior content back", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config_patch.json")
		prior := `{"cluster":{"size":1}}`
		if err := os.WriteFile(path, []byte(prior), 0o644); err != nil {
			t.Fatalf("seed patch: %v", err)
		}

		store := NewStore(path)
		snap, err := store.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if !snap.Existed {
			t.Fatal("snapshot must report the file existed")
		}

		if err := store.Write(json.RawMessage(`{"cluster":{"size":9}}`)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := store.Restore(snap); err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read patch: %v", err)
		}
		if string(content) != prior {
			t.Fatalf("restored content %q, want %q", content, prior)
		}
	})
}
