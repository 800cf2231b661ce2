package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/packlift/packlift/pkg/netpolicy"
)

// stubFetcher serves a fixed manifest and blob set, counting calls
// so tests can assert the cache short-circuits the network.
type stubFetcher struct {
	manifest       Manifest
	manifestDigest string
	blobs          map[string][]byte

	manifestCalls int
	blobCalls     int
}

func (s *stubFetcher) FetchManifest(ctx context.Context, ref Reference) (*ManifestResponse, error) {
	s.manifestCalls++
	raw := []byte(`{"layers":[]}`)
	return &ManifestResponse{
		Manifest: s.manifest,
		Digest:   s.manifestDigest,
		Raw:      raw,
	}, nil
}

func (s *stubFetcher) FetchBlob(ctx context.Context, ref Reference, digest string) ([]byte, error) {
	s.blobCalls++
	blob, ok := s.blobs[digest]
	if !ok {
		return nil, fmt.Errorf("unknown blob %s", digest)
	}
	return blob, nil
}

// newPackStub builds a stub serving a single pack layer whose digest
// matches content.
func newPackStub(content []byte) (*stubFetcher, string) {
	digest := sha256Digest(content)
	return &stubFetcher{
		manifest: Manifest{
			Layers: []Layer{
				{MediaType: "application/vnd.packlift.pack.v1+gtpack", Digest: digest, Size: int64(len(content))},
			},
		},
		blobs: map[string][]byte{digest: content},
	}, digest
}

func testResolver(t *testing.T, fetcher Fetcher) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	r := NewResolver(ResolverConfig{
		CacheRoot: root,
		Fetcher:   fetcher,
		Logger:    zerolog.New(nil).Level(zerolog.Disabled),
	})
	return r, root
}

func TestResolveFetchesAndCaches(t *testing.T) {
	content := []byte("pack-bytes-v1")
	stub, digest := newPackStub(content)
	r, root := testResolver(t, stub)

	ref, err := ParseReference("oci://registry.example.com/acme/platform:1.0.0")
	if err != nil {
		t.Fatalf("ParseReference failed: %v", err)
	}

	path, err := r.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cached blob: %v", err)
	}
	if string(data) != string(content) {
		t.Error("cached blob content differs from fetched bytes")
	}

	idx, err := LoadIndex(filepath.Join(root, "cache", "index.json"))
	if err != nil {
		t.Fatalf("load index: %v", err)
	}
	if got := idx.Entries[ref.Key()]; got != digest {
		t.Errorf("index entry = %q, want %q", got, digest)
	}
}

func TestResolveSecondCallIsCacheHit(t *testing.T) {
	stub, _ := newPackStub([]byte("pack-bytes-v1"))
	r, _ := testResolver(t, stub)

	ref, err := ParseReference("oci://registry.example.com/acme/platform:1.0.0")
	if err != nil {
		t.Fatalf("ParseReference failed: %v", err)
	}

	first, err := r.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	if stub.manifestCalls != 1 || stub.blobCalls != 1 {
		t.Fatalf("first Resolve made %d/%d calls, want 1/1", stub.manifestCalls, stub.blobCalls)
	}

	second, err := r.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if second != first {
		t.Errorf("second Resolve returned %q, want %q", second, first)
	}
	if stub.manifestCalls != 1 || stub.blobCalls != 1 {
		t.Errorf("cache hit still fetched: %d manifest, %d blob calls", stub.manifestCalls, stub.blobCalls)
	}
}

func TestResolveCorruptBlobNotCached(t *testing.T) {
	content := []byte("pack-bytes-v1")
	stub, digest := newPackStub(content)
	// Serve bytes that do not hash to the declared digest.
	stub.blobs[digest] = []byte("tampered-bytes")
	r, root := testResolver(t, stub)

	ref, err := ParseReference("oci://registry.example.com/acme/platform:1.0.0")
	if err != nil {
		t.Fatalf("ParseReference failed: %v", err)
	}

	_, err = r.Resolve(context.Background(), ref)
	var mismatch *DigestMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *DigestMismatchError, got %v", err)
	}
	if mismatch.Expected != digest {
		t.Errorf("Expected = %q, want %q", mismatch.Expected, digest)
	}

	if _, err := os.Stat(blobPath(root, digest)); !os.IsNotExist(err) {
		t.Error("corrupt blob was written to the cache")
	}
	idx, err := LoadIndex(filepath.Join(root, "cache", "index.json"))
	if err != nil {
		t.Fatalf("load index: %v", err)
	}
	if _, ok := idx.Entries[ref.Key()]; ok {
		t.Error("index gained an entry for a corrupt blob")
	}
}

func TestResolveManifestDigestMismatch(t *testing.T) {
	stub, _ := newPackStub([]byte("pack-bytes-v1"))
	stub.manifestDigest = "sha256:0000000000000000000000000000000000000000000000000000000000000000"
	r, _ := testResolver(t, stub)

	ref, err := ParseReference("oci://registry.example.com/acme/platform:1.0.0")
	if err != nil {
		t.Fatalf("ParseReference failed: %v", err)
	}

	_, err = r.Resolve(context.Background(), ref)
	var mismatch *DigestMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *DigestMismatchError, got %v", err)
	}
	if mismatch.Context != "manifest" {
		t.Errorf("Context = %q, want %q", mismatch.Context, "manifest")
	}
	if stub.blobCalls != 0 {
		t.Errorf("blob fetched after manifest digest mismatch (%d calls)", stub.blobCalls)
	}
}

func TestResolveNoLayers(t *testing.T) {
	stub := &stubFetcher{manifest: Manifest{}}
	r, _ := testResolver(t, stub)

	ref, err := ParseReference("oci://registry.example.com/acme/platform:1.0.0")
	if err != nil {
		t.Fatalf("ParseReference failed: %v", err)
	}

	_, err = r.Resolve(context.Background(), ref)
	if !errors.Is(err, ErrNoLayers) {
		t.Fatalf("expected ErrNoLayers, got %v", err)
	}
}

func TestResolveEnforcesPolicy(t *testing.T) {
	stub, _ := newPackStub([]byte("pack-bytes-v1"))
	root := t.TempDir()
	r := NewResolver(ResolverConfig{
		CacheRoot: root,
		Fetcher:   stub,
		Policy:    netpolicy.New(true, true, netpolicy.AllowList{}),
		Logger:    zerolog.New(nil).Level(zerolog.Disabled),
	})

	ref, err := ParseReference("oci://registry.example.com/acme/platform:1.0.0")
	if err != nil {
		t.Fatalf("ParseReference failed: %v", err)
	}

	_, err = r.Resolve(context.Background(), ref)
	if !errors.Is(err, netpolicy.ErrDenied) {
		t.Fatalf("expected netpolicy.ErrDenied, got %v", err)
	}
	if stub.manifestCalls != 0 {
		t.Errorf("fetcher contacted despite denial (%d calls)", stub.manifestCalls)
	}
}

func TestSelectLayer(t *testing.T) {
	pack := Layer{MediaType: "application/vnd.packlift.pack.v1+gtpack", Digest: "sha256:aa"}
	octet := Layer{MediaType: "application/octet-stream", Digest: "sha256:bb"}
	other := Layer{MediaType: "application/vnd.something.else", Digest: "sha256:cc"}

	tests := []struct {
		name   string
		layers []Layer
		want   string
	}{
		{"pack media type preferred", []Layer{other, octet, pack}, "sha256:aa"},
		{"octet-stream fallback", []Layer{other, octet}, "sha256:bb"},
		{"first layer fallback", []Layer{other}, "sha256:cc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layer, err := selectLayer(tt.layers)
			if err != nil {
				t.Fatalf("selectLayer failed: %v", err)
			}
			if layer.Digest != tt.want {
				t.Errorf("selected %q, want %q", layer.Digest, tt.want)
			}
		})
	}

	if _, err := selectLayer(nil); !errors.Is(err, ErrNoLayers) {
		t.Errorf("expected ErrNoLayers for empty layer list, got %v", err)
	}
}

func TestBaseURLScheme(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"localhost:5000", "http://localhost:5000"},
		{"127.0.0.1:5000", "http://127.0.0.1:5000"},
		{"[::1]:5000", "http://[::1]:5000"},
		{"registry.example.com", "https://registry.example.com"},
	}
	for _, tt := range tests {
		if got := baseURL(tt.host); got != tt.want {
			t.Errorf("baseURL(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}
