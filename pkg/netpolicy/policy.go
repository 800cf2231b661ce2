// Package netpolicy gates every network operation the bootstrap
// orchestrator performs: outbound registry fetches, broker
// connections, and inbound interaction listeners.
package netpolicy

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ErrDenied is the sentinel matched by errors.Is for every policy
// denial, regardless of which rule rejected the target.
var ErrDenied = errors.New("network access denied")

// DeniedError reports a target rejected by the policy.
type DeniedError struct {
	// Target is the host, URL, or broker address that was evaluated.
	// Empty for denials that do not depend on the target.
	Target string

	// Reason is the human-readable denial message.
	Reason string
}

func (e *DeniedError) Error() string { return e.Reason }

// Is makes errors.Is(err, ErrDenied) succeed for all denials.
func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

// AllowList holds the permitted network targets: exact hostnames
// (lowercase) and CIDR blocks. The zero value permits nothing by
// itself; Policy treats an empty list as "no restriction".
type AllowList struct {
	hosts []string
	cidrs []netip.Prefix
}

// ParseAllowList parses a comma-separated allowlist. Each entry is
// tried as a CIDR block first, then normalized to a host; entries
// that normalize to a CIDR (scheme or port stripped) are kept as
// CIDR. Empty entries are skipped.
func ParseAllowList(raw string) AllowList {
	var al AllowList
	for _, token := range strings.Split(raw, ",") {
		entry := strings.TrimSpace(token)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			al.cidrs = append(al.cidrs, p)
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			al.cidrs = append(al.cidrs, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		host := NormalizeHost(entry)
		if host == "" {
			continue
		}
		// CIDR notation can survive normalization, e.g. when the
		// entry carried a scheme prefix.
		if p, err := netip.ParsePrefix(host); err == nil {
			al.cidrs = append(al.cidrs, p)
			continue
		}
		if a, err := netip.ParseAddr(host); err == nil {
			al.cidrs = append(al.cidrs, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		al.hosts = append(al.hosts, host)
	}
	return al
}

// IsEmpty reports whether the allowlist has no entries.
func (al AllowList) IsEmpty() bool {
	return len(al.hosts) == 0 && len(al.cidrs) == 0
}

// IsAllowed reports whether the target's normalized host matches an
// allowlist entry, either exactly or by CIDR containment.
func (al AllowList) IsAllowed(target string) bool {
	host := NormalizeHost(target)
	if host == "" {
		return false
	}
	for _, allowed := range al.hosts {
		if host == allowed {
			return true
		}
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		for _, cidr := range al.cidrs {
			if cidr.Contains(addr) {
				return true
			}
		}
	}
	return false
}

// Policy decides whether a network operation is permitted. Rules are
// evaluated in a fixed order: offline-only denies unconditionally,
// then the global network toggle, then allowlist membership. An
// empty allowlist imposes no restriction.
type Policy struct {
	allowNetwork bool
	offlineOnly  bool
	allowlist    AllowList
}

// New builds a Policy from the resolved runtime flags.
func New(allowNetwork, offlineOnly bool, allowlist AllowList) *Policy {
	return &Policy{
		allowNetwork: allowNetwork,
		offlineOnly:  offlineOnly,
		allowlist:    allowlist,
	}
}

// AllowNetwork reports whether outbound network access is enabled.
func (p *Policy) AllowNetwork() bool { return p.allowNetwork }

// OfflineOnly reports whether the policy is in offline-only mode.
func (p *Policy) OfflineOnly() bool { return p.offlineOnly }

// AllowlistConfigured reports whether an allowlist was supplied.
func (p *Policy) AllowlistConfigured() bool { return !p.allowlist.IsEmpty() }

// Enforce returns nil when the target is permitted and a
// *DeniedError otherwise.
func (p *Policy) Enforce(target string) error {
	if p.offlineOnly {
		return &DeniedError{
			Target: target,
			Reason: "offline-only mode blocks outbound network access",
		}
	}
	if !p.allowNetwork {
		return &DeniedError{
			Target: target,
			Reason: "network access disabled; pass --allow-network to enable outbound calls",
		}
	}
	if !p.allowlist.IsEmpty() && !p.allowlist.IsAllowed(target) {
		return &DeniedError{
			Target: target,
			Reason: fmt.Sprintf("network target %q not in allowlist; set --net-allowlist to permit it", target),
		}
	}
	return nil
}

// NormalizeHost reduces a target (URL, host:port, bracketed IPv6) to
// a bare lowercase hostname or IP. Scheme, userinfo, path, port, and
// IPv6 brackets are stripped.
func NormalizeHost(target string) string {
	host := strings.TrimSpace(target)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndexByte(host, '@'); i >= 0 {
		host = host[i+1:]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return strings.ToLower(host)
}
