package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// manifestAccept lists the manifest media types requested from the
// registry.
const manifestAccept = "application/vnd.oci.image.manifest.v1+json,application/vnd.docker.distribution.manifest.v2+json"

// digestHeader is the response header carrying the manifest digest.
const digestHeader = "Docker-Content-Digest"

// packMediaTypes are the layer media types recognized as pack
// content, in preference order.
var packMediaTypes = []string{
	"application/vnd.packlift.pack.v1+gtpack",
	"application/octet-stream",
}

// ErrNoLayers is returned when a manifest declares no layers.
var ErrNoLayers = errors.New("manifest has no layers")

// DigestMismatchError reports fetched bytes that do not hash to
// their advertised digest. Context names the artifact ("manifest" or
// the blob digest).
type DigestMismatchError struct {
	Context  string
	Expected string
	Actual   string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch for %s: expected %s, got %s", e.Context, e.Expected, e.Actual)
}

// Manifest is the registry manifest document listing content layers.
type Manifest struct {
	SchemaVersion int     `json:"schemaVersion,omitempty"`
	MediaType     string  `json:"mediaType,omitempty"`
	Layers        []Layer `json:"layers"`
}

// Layer is a single content layer entry in a manifest.
type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size,omitempty"`
}

// ManifestResponse is the result of fetching a manifest: the decoded
// document, the digest the transport advertised for it (empty when
// the registry sent none), and the raw bytes for verification.
type ManifestResponse struct {
	Manifest Manifest
	Digest   string
	Raw      []byte
}

// Fetcher is the transport seam for registry access. Implementations
// perform a single request per call with no retry.
type Fetcher interface {
	FetchManifest(ctx context.Context, ref Reference) (*ManifestResponse, error)
	FetchBlob(ctx context.Context, ref Reference, digest string) ([]byte, error)
}

// HTTPFetcher talks to a registry over its v2 HTTP endpoints.
// Loopback hosts are contacted over plaintext HTTP, everything else
// over HTTPS. Redirects are not followed.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a fetcher with a 10 second request timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// FetchManifest retrieves and decodes the manifest for ref.
func (f *HTTPFetcher) FetchManifest(ctx context.Context, ref Reference) (*ManifestResponse, error) {
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", baseURL(ref.Host), ref.Repository, ref.Tag)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build manifest request for %s: %w", ref.Raw, err)
	}
	req.Header.Set("Accept", manifestAccept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest for %s: %w", ref.Raw, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch for %s returned status %d", ref.Raw, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read manifest for %s: %w", ref.Raw, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest for %s: %w", ref.Raw, err)
	}

	return &ManifestResponse{
		Manifest: manifest,
		Digest:   resp.Header.Get(digestHeader),
		Raw:      raw,
	}, nil
}

// FetchBlob retrieves the raw bytes of a content layer.
func (f *HTTPFetcher) FetchBlob(ctx context.Context, ref Reference, digest string) ([]byte, error) {
	url := fmt.Sprintf("%s/v2/%s/blobs/%s", baseURL(ref.Host), ref.Repository, digest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build blob request for %s: %w", digest, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s from %s: %w", digest, ref.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob fetch %s from %s returned status %d", digest, ref.Host, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", digest, err)
	}
	return data, nil
}

// baseURL picks the scheme for a registry host: loopback hosts get
// plaintext HTTP, everything else HTTPS.
func baseURL(host string) string {
	if isLoopback(host) {
		return "http://" + host
	}
	return "https://" + host
}

func isLoopback(host string) bool {
	return strings.Contains(host, "localhost") ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(host, "[::1]")
}

// selectLayer picks the layer carrying pack content: the first layer
// with a known pack media type, falling back to the first layer.
func selectLayer(layers []Layer) (Layer, error) {
	if len(layers) == 0 {
		return Layer{}, ErrNoLayers
	}
	for _, want := range packMediaTypes {
		for _, layer := range layers {
			if layer.MediaType == want {
				return layer, nil
			}
		}
	}
	return layers[0], nil
}
