package sandbox

import "strings"

// DefaultBlockedHosts are SSRF-style hostnames the policy engine honors
// before any user rule is consulted, per the runtime's fixed safety
// baseline. Immutable after process startup.
var DefaultBlockedHosts = []string{
	"localhost",
	"127.0.0.1",
	"::1",
	"169.254.169.254",
	"metadata.google.internal",
}

// defaultBlockedCIDRs are the RFC1918 private ranges blocked by default.
var defaultBlockedCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// DefaultBlockedCIDRs exposes the private-range blocklist for callers
// that need to render it (config validation errors, diagnostics).
func DefaultBlockedCIDRs() []string {
	out := make([]string, len(defaultBlockedCIDRs))
	copy(out, defaultBlockedCIDRs)
	return out
}

// DefaultBlockedSecretPatterns are secret-name glob patterns blocked by
// default regardless of user policy.
var DefaultBlockedSecretPatterns = []string{
	"*_API_KEY",
	"*_SECRET",
	"*_TOKEN",
	"*_PASSWORD",
}

// IsDefaultBlockedHost reports whether host matches the default SSRF
// blocklist (exact hostname or an RFC1918 literal address).
func IsDefaultBlockedHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, blocked := range DefaultBlockedHosts {
		if host == blocked {
			return true
		}
	}
	return isPrivateLiteral(host)
}

// isPrivateLiteral reports whether host is a dotted-quad literal inside
// an RFC1918 range. Hostnames that are not literal IPv4 addresses (the
// common case) are never matched here; DNS resolution is deliberately
// out of scope (§5: "path/host resolution may touch the filesystem/DNS
// only when explicitly enabled").
func isPrivateLiteral(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	octets := make([]int, 4)
	for i, p := range parts {
		n := 0
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
			n = n*10 + int(r-'0')
		}
		if n > 255 {
			return false
		}
		octets[i] = n
	}
	switch {
	case octets[0] == 10:
		return true
	case octets[0] == 172 && octets[1] >= 16 && octets[1] <= 31:
		return true
	case octets[0] == 192 && octets[1] == 168:
		return true
	}
	return false
}

// IsDefaultBlockedSecret reports whether name matches the default
// blocked secret-name glob patterns.
func IsDefaultBlockedSecret(name string) bool {
	for _, pattern := range DefaultBlockedSecretPatterns {
		if matchSingleStar(pattern, name, 0) {
			return true
		}
	}
	return false
}
