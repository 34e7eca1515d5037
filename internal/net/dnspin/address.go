package dnspin

import (
	"net/netip"
	"strings"
)

// normalizeHostname trims whitespace, lowercases, removes a trailing dot
// and unwraps IPv6 brackets.
func normalizeHostname(hostname string) string {
	normalized := strings.ToLower(strings.TrimSpace(hostname))
	normalized = strings.TrimSuffix(normalized, ".")
	if strings.HasPrefix(normalized, "[") && strings.HasSuffix(normalized, "]") {
		normalized = normalized[1 : len(normalized)-1]
	}
	return normalized
}

// isPrivateIPv4 reports whether an IPv4 address is private or reserved:
// 0.0.0.0/8, 10.0.0.0/8, 127.0.0.0/8, 169.254.0.0/16, 172.16.0.0/12,
// 192.168.0.0/16 and 100.64.0.0/10.
func isPrivateIPv4(parts [4]byte) bool {
	octet1, octet2 := parts[0], parts[1]
	switch {
	case octet1 == 0, octet1 == 10, octet1 == 127:
		return true
	case octet1 == 169 && octet2 == 254:
		return true
	case octet1 == 172 && octet2 >= 16 && octet2 <= 31:
		return true
	case octet1 == 192 && octet2 == 168:
		return true
	case octet1 == 100 && octet2 >= 64 && octet2 <= 127:
		return true
	}
	return false
}

// isPublicAddress rejects answers no public API host can have. A resolver
// handing out such an address for the pinned host is hijacked or broken.
func isPublicAddress(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if addr.Is4() {
		return !isPrivateIPv4(addr.As4())
	}
	return !(addr.IsLoopback() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() ||
		addr.IsPrivate() || addr.IsMulticast())
}
