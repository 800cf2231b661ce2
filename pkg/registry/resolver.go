package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/packlift/packlift/pkg/netpolicy"
	"github.com/packlift/packlift/pkg/telemetry"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// CacheRoot is the directory holding the cache/ subdirectory
	// with the index and blob files.
	CacheRoot string

	// Policy gates outbound fetches. Nil means no policy is
	// enforced.
	Policy *netpolicy.Policy

	// Fetcher overrides the transport. Nil selects the HTTP
	// fetcher.
	Fetcher Fetcher

	// Logger receives resolve diagnostics.
	Logger zerolog.Logger

	// Metrics records cache and digest outcomes. Optional.
	Metrics *telemetry.Metrics
}

// Resolver turns oci:// references into local pack files, consulting
// the content-addressed cache before touching the network.
type Resolver struct {
	cacheRoot string
	policy    *netpolicy.Policy
	fetcher   Fetcher
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
}

// NewResolver creates a Resolver from cfg.
func NewResolver(cfg ResolverConfig) *Resolver {
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher()
	}
	return &Resolver{
		cacheRoot: cfg.CacheRoot,
		policy:    cfg.Policy,
		fetcher:   fetcher,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Resolve returns a local path for the referenced pack. Cache hits
// return immediately without a network call. On a miss the manifest
// and selected layer are fetched and digest-verified; nothing is
// cached unless every check passes. One round of requests, no retry.
func (r *Resolver) Resolve(ctx context.Context, ref Reference) (string, error) {
	if r.policy != nil {
		if err := r.policy.Enforce(ref.Host); err != nil {
			return "", err
		}
	}

	idxPath := indexPath(r.cacheRoot)
	idx, err := LoadIndex(idxPath)
	if err != nil {
		return "", err
	}

	key := ref.Key()
	if digest, ok := idx.Entries[key]; ok {
		path := blobPath(r.cacheRoot, digest)
		if _, err := os.Stat(path); err == nil {
			r.metrics.RecordCacheHit()
			r.logger.Debug().
				Str("reference", key).
				Str("digest", digest).
				Msg("Pack cache hit")
			return path, nil
		}
	}
	r.metrics.RecordCacheMiss()

	mresp, err := r.fetcher.FetchManifest(ctx, ref)
	if err != nil {
		return "", err
	}
	if mresp.Digest != "" {
		actual := sha256Digest(mresp.Raw)
		if actual != mresp.Digest {
			r.metrics.RecordDigestFailure()
			return "", &DigestMismatchError{
				Context:  "manifest",
				Expected: mresp.Digest,
				Actual:   actual,
			}
		}
	}

	layer, err := selectLayer(mresp.Manifest.Layers)
	if err != nil {
		return "", fmt.Errorf("reference %s: %w", key, err)
	}

	blob, err := r.fetcher.FetchBlob(ctx, ref, layer.Digest)
	if err != nil {
		return "", err
	}
	actual := sha256Digest(blob)
	if actual != layer.Digest {
		r.metrics.RecordDigestFailure()
		return "", &DigestMismatchError{
			Context:  "blob " + layer.Digest,
			Expected: layer.Digest,
			Actual:   actual,
		}
	}

	path := blobPath(r.cacheRoot, layer.Digest)
	if err := os.MkdirAll(cacheDir(r.cacheRoot), 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return "", fmt.Errorf("write pack blob %s: %w", path, err)
	}

	idx.Entries[key] = layer.Digest
	if err := idx.Save(idxPath); err != nil {
		return "", err
	}

	r.logger.Info().
		Str("reference", key).
		Str("digest", layer.Digest).
		Int("bytes", len(blob)).
		Msg("Pack fetched and cached")
	return path, nil
}

// sha256Digest hashes data into the canonical sha256:<hex> form.
func sha256Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
