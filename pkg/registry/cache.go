package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// blobExtension is the filename extension for cached pack blobs.
const blobExtension = ".gtpack"

// CacheIndex maps logical reference keys (host/repo:tag) to the
// content digest of the blob cached for them. The index is a single
// JSON file, read at resolve time and overwritten after a successful
// fetch. Last writer wins; concurrent processes sharing a cache root
// may race.
type CacheIndex struct {
	Entries map[string]string `json:"entries"`
}

// LoadIndex reads a cache index from path. A missing file yields an
// empty index.
func LoadIndex(path string) (*CacheIndex, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &CacheIndex{Entries: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache index %s: %w", path, err)
	}

	var idx CacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode cache index %s: %w", path, err)
	}
	if idx.Entries == nil {
		idx.Entries = map[string]string{}
	}
	return &idx, nil
}

// Save writes the index to path, creating parent directories as
// needed.
func (ix *CacheIndex) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write cache index %s: %w", path, err)
	}
	return nil
}

// cacheDir returns the cache directory under a cache root.
func cacheDir(root string) string {
	return filepath.Join(root, "cache")
}

// indexPath returns the cache index location under a cache root.
func indexPath(root string) string {
	return filepath.Join(cacheDir(root), "index.json")
}

// blobPath returns the on-disk location for a digest's blob. Colons
// are not portable in filenames, so the digest separator becomes a
// dash: sha256:abc -> sha256-abc.gtpack.
func blobPath(root, digest string) string {
	name := strings.ReplaceAll(digest, ":", "-") + blobExtension
	return filepath.Join(cacheDir(root), name)
}
