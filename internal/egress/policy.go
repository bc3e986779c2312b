// Package egress implements the SSRF guard and payload-size limits (C4)
// that gate every outbound HTTP call made by the runtime: tool calls, STT/
// vision enrichment, media downloads, and MCP server traffic.
package egress

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"centurion/internal/apperr"
)

// Error is a PolicyViolation-classified rejection from AssertAllowed.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func policyErr(reason string) error {
	return apperr.New(apperr.PolicyViolation, "egress.AssertAllowed", &Error{Reason: reason})
}

// Policy is a minimal SSRF guard plus an optional host allowlist for
// outbound HTTP requests. If Allowlist is empty, any public IP/domain is
// allowed; when set, only those domains (or their subdomains) are allowed.
type Policy struct {
	Allowlist            []string
	BlockPrivateNetworks bool
	ResolveTimeout       time.Duration

	// resolver is overridable in tests; defaults to net.DefaultResolver.
	resolver interface {
		LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	}
}

// NewPolicy builds a Policy with the given allowlist, blocking private
// networks by default with a 1.5s DNS resolution timeout.
func NewPolicy(allowlist []string) *Policy {
	return &Policy{
		Allowlist:            allowlist,
		BlockPrivateNetworks: true,
		ResolveTimeout:       1500 * time.Millisecond,
		resolver:             net.DefaultResolver,
	}
}

// AssertAllowed rejects non-http(s) URLs, URLs with embedded credentials,
// hosts outside an explicit allowlist, and hosts resolving to private,
// loopback, link-local, multicast, unspecified, or other reserved ranges.
// DNS resolution is bounded by its own timeout, separate from the caller's
// overall request deadline.
func (p *Policy) AssertAllowed(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return policyErr("invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return policyErr("only http/https URLs are allowed")
	}
	if u.User != nil {
		return policyErr("credentials in URL are not allowed")
	}
	host := strings.TrimSpace(u.Hostname())
	if host == "" {
		return policyErr("missing hostname")
	}

	if len(p.Allowlist) > 0 && !hostInAllowlist(host, p.Allowlist) {
		return policyErr(fmt.Sprintf("hostname not in allowlist: %s", host))
	}

	if !p.BlockPrivateNetworks {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return policyErr("blocked IP range")
		}
		return nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, p.resolveTimeout())
	defer cancel()
	resolver := p.resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(resolveCtx, host)
	if err != nil {
		if resolveCtx.Err() != nil {
			return policyErr("DNS resolution timed out")
		}
		return policyErr("DNS resolution failed")
	}
	for _, addr := range addrs {
		if isBlockedIP(addr.IP) {
			return policyErr("hostname resolves to blocked IP range")
		}
	}
	return nil
}

func (p *Policy) resolveTimeout() time.Duration {
	if p.ResolveTimeout <= 0 {
		return 1500 * time.Millisecond
	}
	return p.ResolveTimeout
}

func hostInAllowlist(hostname string, allowlist []string) bool {
	host := strings.ToLower(strings.Trim(hostname, "."))
	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		entry = strings.Trim(entry, ".")
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	return isReservedIP(ip)
}

// reservedBlocks covers ranges net.IP's own helpers don't classify but
// Python's ipaddress.is_reserved does (IETF/future-use and documentation
// blocks), so the policy rejects the same ranges the original implementation
// did.
var reservedBlocks = []string{
	"0.0.0.0/8",
	"100.64.0.0/10", // carrier-grade NAT
	"192.0.0.0/24",
	"192.0.2.0/24", // TEST-NET-1
	"198.18.0.0/15",
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"240.0.0.0/4",     // reserved for future use
	"::/8",
	"2001:db8::/32", // documentation
	"3fff::/20",
}

func isReservedIP(ip net.IP) bool {
	for _, cidr := range reservedBlocks {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
