// Package registry resolves oci:// pack references to verified local
// files through a content-addressed cache.
package registry

import (
	"fmt"
	"strings"
)

// Reference is a parsed oci://host/repo[:tag] pack reference.
// Immutable once parsed.
type Reference struct {
	// Raw is the reference exactly as supplied.
	Raw string

	// Host is the registry host, including any port.
	Host string

	// Repository is the repository path below the host.
	Repository string

	// Tag is the reference tag, defaulting to "latest".
	Tag string
}

// Scheme is the reference scheme accepted by ParseReference.
const Scheme = "oci://"

// DefaultTag is used when a reference omits the tag.
const DefaultTag = "latest"

// ParseReference parses an oci://host/repo[:tag] string. The tag
// defaults to "latest" when absent.
func ParseReference(raw string) (Reference, error) {
	if !strings.HasPrefix(raw, Scheme) {
		return Reference{}, fmt.Errorf("unsupported pack reference %q (expected oci://host/repo[:tag])", raw)
	}
	rest := strings.TrimPrefix(raw, Scheme)

	host, remainder, ok := strings.Cut(rest, "/")
	if !ok || host == "" || remainder == "" {
		return Reference{}, fmt.Errorf("invalid pack reference %q: missing repository", raw)
	}

	repository := remainder
	tag := DefaultTag
	if i := strings.LastIndexByte(remainder, ':'); i >= 0 {
		repository, tag = remainder[:i], remainder[i+1:]
		if tag == "" {
			return Reference{}, fmt.Errorf("invalid pack reference %q: empty tag", raw)
		}
	}
	if repository == "" {
		return Reference{}, fmt.Errorf("invalid pack reference %q: empty repository", raw)
	}

	return Reference{
		Raw:        raw,
		Host:       host,
		Repository: repository,
		Tag:        tag,
	}, nil
}

// Key returns the logical cache key for the reference,
// host/repo:tag.
func (r Reference) Key() string {
	return fmt.Sprintf("%s/%s:%s", r.Host, r.Repository, r.Tag)
}

// IsReference reports whether raw looks like an oci:// reference
// rather than a local path.
func IsReference(raw string) bool {
	return strings.HasPrefix(raw, Scheme)
}
