// Package arpa converts IP addresses to reverse-DNS names and normalizes
// domain names for comparison.
package arpa

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// ErrInvalidAddress is returned for malformed IP input.
var ErrInvalidAddress = errors.New("invalid address")

const (
	// IPv4Suffix is the reverse-mapping domain for IPv4 addresses.
	IPv4Suffix = "in-addr.arpa"
	// IPv6Suffix is the reverse-mapping domain for IPv6 addresses.
	IPv6Suffix = "ip6.arpa"

	hexDigits = "0123456789abcdef"
)

// IPv4ToReverseName returns the in-addr.arpa name for ip,
// e.g. "193.191.176.5" -> "5.176.191.193.in-addr.arpa".
func IPv4ToReverseName(ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", fmt.Errorf("%w: empty IPv4 address", ErrInvalidAddress)
	}
	if n := strings.Count(ip, ".") + 1; n != 4 {
		return "", fmt.Errorf("%w: %q has %d octets, want 4", ErrInvalidAddress, ip, n)
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return "", fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidAddress, ip)
	}

	name, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return strings.TrimSuffix(name, "."), nil
}

// IPv6ToReverseName returns the ip6.arpa name for ip. The address is fully
// expanded to 32 nibbles first, so every textual form of the same address
// yields the same name.
func IPv6ToReverseName(ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", fmt.Errorf("%w: empty IPv6 address", ErrInvalidAddress)
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is6() || addr.Zone() != "" {
		return "", fmt.Errorf("%w: %q is not an IPv6 address", ErrInvalidAddress, ip)
	}

	b := addr.As16()
	var sb strings.Builder
	sb.Grow(64 + len(IPv6Suffix))
	for i := len(b) - 1; i >= 0; i-- {
		sb.WriteByte(hexDigits[b[i]&0x0f])
		sb.WriteByte('.')
		sb.WriteByte(hexDigits[b[i]>>4])
		sb.WriteByte('.')
	}
	sb.WriteString(IPv6Suffix)
	return sb.String(), nil
}

// ReverseName dispatches on the address family of ip.
func ReverseName(ip string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}
	if addr.Is4() {
		return IPv4ToReverseName(ip)
	}
	return IPv6ToReverseName(ip)
}

// Fqdn lower-cases name and ensures the trailing dot.
func Fqdn(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return dns.Fqdn(strings.ToLower(name))
}

// EqualNames reports whether a and b denote the same domain name.
func EqualNames(a, b string) bool {
	return Fqdn(a) == Fqdn(b)
}

// IsUnder reports whether name is zone itself or a name below it.
func IsUnder(name, zone string) bool {
	if name == "" || zone == "" {
		return false
	}
	return dns.IsSubDomain(Fqdn(zone), Fqdn(name))
}

// IsStrictlyUnder reports whether name is below zone but not zone itself.
func IsStrictlyUnder(name, zone string) bool {
	return IsUnder(name, zone) && !EqualNames(name, zone)
}

// CanonicalAddress returns the canonical textual form of ip, or ip unchanged
// when it does not parse.
func CanonicalAddress(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ip
	}
	return addr.String()
}
