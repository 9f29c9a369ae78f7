// Package urlcheck decides whether a URL is safe to fetch. It is the
// SSRF gate in front of every outbound request: only http(s) URLs whose
// host resolves exclusively to public addresses are allowed through.
package urlcheck

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// Validator is the capability injected into every component that performs
// outbound fetches. Tests substitute a fake instead of stubbing DNS.
type Validator interface {
	ValidateURL(ctx context.Context, rawURL string) error
}

// Resolver looks up the IP addresses of a hostname. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ValidationError describes why a URL was rejected. Reason is a stable,
// human-readable string surfaced to callers at write time.
type ValidationError struct {
	URL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("unsafe url %q: %s", e.URL, e.Reason)
}

// Rejection reasons.
const (
	ReasonMalformed   = "malformed URL"
	ReasonScheme      = "unsupported protocol"
	ReasonMissingHost = "missing host"
	ReasonPrivate     = "private or internal addresses"
)

// Checker is the DNS-backed Validator implementation.
type Checker struct {
	resolver Resolver
}

// New creates a Checker using the default system resolver.
func New() *Checker {
	return &Checker{resolver: net.DefaultResolver}
}

// NewWithResolver creates a Checker with a custom resolver (useful for testing).
func NewWithResolver(r Resolver) *Checker {
	return &Checker{resolver: r}
}

// ValidateURL reports whether rawURL may be fetched. Literal IP hosts are
// classified directly; hostnames are resolved and every A/AAAA answer must
// be public. A lookup that returns no data is accepted optimistically: DNS
// may be transiently down, and the fetch layer re-validates before each
// connection anyway. Only "found an unsafe address" rejects.
func (c *Checker) ValidateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{URL: rawURL, Reason: ReasonMalformed}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return &ValidationError{URL: rawURL, Reason: ReasonScheme}
	}

	host := u.Hostname()
	if host == "" {
		return &ValidationError{URL: rawURL, Reason: ReasonMissingHost}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsUnsafeIP(addr) {
			return &ValidationError{URL: rawURL, Reason: ReasonPrivate}
		}
		return nil
	}

	addrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return nil
	}
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		if IsUnsafeIP(addr) {
			return &ValidationError{URL: rawURL, Reason: ReasonPrivate}
		}
	}
	return nil
}

// Address blocks that never belong to a public feed host. The Is* helpers
// on netip.Addr already cover RFC 1918, loopback, link-local and multicast;
// these close the remaining reserved gaps.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),        // "this network"
	netip.MustParsePrefix("100.64.0.0/10"),    // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),     // IETF protocol assignments
	netip.MustParsePrefix("192.0.2.0/24"),     // TEST-NET-1
	netip.MustParsePrefix("198.18.0.0/15"),    // benchmarking
	netip.MustParsePrefix("198.51.100.0/24"),  // TEST-NET-2
	netip.MustParsePrefix("203.0.113.0/24"),   // TEST-NET-3
	netip.MustParsePrefix("240.0.0.0/4"),      // reserved
	netip.MustParsePrefix("2001:db8::/32"),    // documentation
	netip.MustParsePrefix("64:ff9b:1::/48"),   // local NAT64
	netip.MustParsePrefix("100::/64"),         // discard-only
}

// IsUnsafeIP reports whether connecting to addr could reach a private or
// internal network. IPv4-mapped IPv6 addresses are classified as their
// embedded IPv4 address.
func IsUnsafeIP(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() {
		return true
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() {
		return true
	}
	if addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return true
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
