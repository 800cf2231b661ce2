package pack

import (
	"archive/tar"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// WriteArchive writes a pack archive to path: a CBOR manifest entry
// plus one flow document per entry in flows. Used by tests and
// development tooling; production packs come from the registry.
func WriteArchive(path string, manifest Manifest, flows map[string][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create pack %s: %w", path, err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)

	manifestData, err := cbor.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeEntry(tw, manifestCBOREntry, manifestData); err != nil {
		return err
	}

	for id, doc := range flows {
		name := flowEntryPrefix + id + flowEntrySuffix
		if err := writeEntry(tw, name, doc); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize pack %s: %w", path, err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write entry header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}
