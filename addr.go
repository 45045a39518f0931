package ruddr

import (
	"fmt"
	"net/netip"
)

// Family selects one of the two address families an updater can publish.
type Family int

const (
	IPv4 Family = iota + 1
	IPv6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// SplicePrefix returns an address whose high prefix.Bits() bits come from
// prefix and whose remaining low bits come from host. A 128-bit prefix is
// returned unchanged; there is no host portion left to splice.
//
// Both arguments must be IPv6. The notifier layer only ever learns the
// network prefix, so this is how a prefix change propagates to a full
// per-host address.
func SplicePrefix(prefix netip.Prefix, host netip.Addr) (netip.Addr, error) {
	if !prefix.Addr().Is6() || prefix.Addr().Is4In6() {
		return netip.Addr{}, fmt.Errorf("splice: prefix %s is not IPv6", prefix)
	}
	if !host.Is6() || host.Is4In6() {
		return netip.Addr{}, fmt.Errorf("splice: host address %s is not IPv6", host)
	}
	bits := prefix.Bits()
	if bits < 0 || bits > 128 {
		return netip.Addr{}, fmt.Errorf("splice: invalid prefix length %d", bits)
	}
	if bits == 128 {
		return prefix.Addr(), nil
	}

	p := prefix.Addr().As16()
	h := host.As16()
	out := h
	copy(out[:bits/8], p[:bits/8])
	if rem := bits % 8; rem != 0 {
		i := bits / 8
		mask := byte(0xff << (8 - rem))
		out[i] = p[i]&mask | h[i]&^mask
	}
	return netip.AddrFrom16(out), nil
}

var (
	linkLocal4 = netip.MustParsePrefix("169.254.0.0/16")
	linkLocal6 = netip.MustParsePrefix("fe80::/10")

	private4 = []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
	}
	private6 = []netip.Prefix{
		netip.MustParsePrefix("fd00::/8"),
	}
)

// isLinkLocal reports whether addr is link-local. Link-local addresses are
// never worth publishing and notifiers always drop them.
func isLinkLocal(addr netip.Addr) bool {
	if addr.Is4() {
		return linkLocal4.Contains(addr)
	}
	return linkLocal6.Contains(addr)
}

// isPrivate reports whether addr is in private address space. Private
// addresses are dropped unless a notifier is configured with allow_private.
func isPrivate(addr netip.Addr) bool {
	ranges := private6
	if addr.Is4() {
		ranges = private4
	}
	for _, p := range ranges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// usable reports whether a notifier should consider addr at all.
func usable(addr netip.Addr, allowPrivate bool) bool {
	if !addr.IsValid() || addr.IsLoopback() || isLinkLocal(addr) {
		return false
	}
	if isPrivate(addr) && !allowPrivate {
		return false
	}
	return true
}

// canonical normalizes an address for storage and comparison: IPv4 becomes
// a /32 prefix, IPv6 keeps its prefix length (a full address is /128).
func canonical(p netip.Prefix) netip.Prefix {
	return netip.PrefixFrom(p.Addr().Unmap(), p.Bits()).Masked()
}
