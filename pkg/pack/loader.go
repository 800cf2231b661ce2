package pack

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when the pack path does not exist.
var ErrNotFound = errors.New("pack not found")

// ErrNotAFile is returned when the pack path is not a regular file.
var ErrNotAFile = errors.New("pack path is not a file")

// Info is a loaded pack: its decoded manifest and the sha256 digest
// of the whole archive. Read-only after Load.
type Info struct {
	Manifest Manifest
	Digest   string
}

// Load opens a pack archive, computes its digest with a streaming
// hash, and decodes the manifest entry.
func Load(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat pack %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotAFile, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return nil, fmt.Errorf("hash pack %s: %w", path, err)
	}
	digest := "sha256:" + hex.EncodeToString(hasher.Sum(nil))

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind pack %s: %w", path, err)
	}

	manifest, err := readManifest(f)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", path, err)
	}

	return &Info{Manifest: manifest, Digest: digest}, nil
}

// readManifest scans the archive for the manifest entry, preferring
// CBOR over the JSON fallback.
func readManifest(r io.Reader) (Manifest, error) {
	var jsonData []byte

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Manifest{}, fmt.Errorf("read archive: %w", err)
		}
		switch hdr.Name {
		case manifestCBOREntry:
			data, err := io.ReadAll(tr)
			if err != nil {
				return Manifest{}, fmt.Errorf("read %s: %w", hdr.Name, err)
			}
			return decodeManifest(manifestCBOREntry, data)
		case manifestJSONEntry:
			data, err := io.ReadAll(tr)
			if err != nil {
				return Manifest{}, fmt.Errorf("read %s: %w", hdr.Name, err)
			}
			jsonData = data
		}
	}

	if jsonData != nil {
		return decodeManifest(manifestJSONEntry, jsonData)
	}
	return Manifest{}, errors.New("archive has no manifest entry")
}

// ReadFlow extracts the flow document with the given id from a pack
// archive.
func ReadFlow(path, flowID string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w", path, err)
	}
	defer f.Close()

	want := flowEntryPrefix + flowID + flowEntrySuffix
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive %s: %w", path, err)
		}
		if hdr.Name == want {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read flow %s: %w", flowID, err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("flow %q not found in pack %s", flowID, path)
}
