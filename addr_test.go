package ruddr

import (
	"net/netip"
	"testing"
)

func TestSplicePrefix(t *testing.T) {
	cases := []struct {
		prefix string
		host   string
		want   string
	}{
		{"2001:db8:47::/64", "2001:db8:1:2::1a2b:3c3d", "2001:db8:47::1a2b:3c3d"},
		{"2001:db8::/32", "fd00:aaaa:bbbb:cccc:dddd:eeee:ffff:1", "2001:db8:bbbb:cccc:dddd:eeee:ffff:1"},
		// Prefix lengths that end mid-byte keep the host's low bits of the
		// shared byte.
		{"2001:db8:8000::/33", "::7fff:ffff:ffff:ffff:ffff:ffff", "2001:db8:ffff:ffff:ffff:ffff:ffff:ffff"},
		{"2001:db8::/128", "fe80::1", "2001:db8::"},
		{"::/0", "2001:db8::99", "2001:db8::99"},
	}
	for _, tc := range cases {
		got, err := SplicePrefix(netip.MustParsePrefix(tc.prefix), netip.MustParseAddr(tc.host))
		if err != nil {
			t.Fatalf("SplicePrefix(%s, %s) failed: %s", tc.prefix, tc.host, err)
		}
		if want := netip.MustParseAddr(tc.want); got != want {
			t.Errorf("SplicePrefix(%s, %s): expected %q; got %q", tc.prefix, tc.host, want, got)
		}
	}
}

func TestSplicePrefixRejectsNonIPv6(t *testing.T) {
	if _, err := SplicePrefix(netip.MustParsePrefix("192.0.2.0/24"), netip.MustParseAddr("2001:db8::1")); err == nil {
		t.Error("expected error for IPv4 prefix; got nil")
	}
	if _, err := SplicePrefix(netip.MustParsePrefix("2001:db8::/64"), netip.MustParseAddr("198.51.100.1")); err == nil {
		t.Error("expected error for IPv4 host; got nil")
	}
	if _, err := SplicePrefix(netip.MustParsePrefix("2001:db8::/64"), netip.MustParseAddr("::ffff:198.51.100.1")); err == nil {
		t.Error("expected error for 4-in-6 host; got nil")
	}
}

func TestAddressClassification(t *testing.T) {
	cases := []struct {
		addr                    string
		linkLocal, private      bool
		usableOpen, usablePriv  bool // without and with allow_private
	}{
		{"198.51.100.1", false, false, true, true},
		{"169.254.12.1", true, false, false, false},
		{"10.1.2.3", false, true, false, true},
		{"172.16.0.9", false, true, false, true},
		{"172.32.0.9", false, false, true, true},
		{"192.168.1.1", false, true, false, true},
		{"127.0.0.1", false, false, false, false},
		{"2001:db8::1", false, false, true, true},
		{"fe80::1", true, false, false, false},
		{"fd12::1", false, true, false, true},
		{"::1", false, false, false, false},
	}
	for _, tc := range cases {
		a := netip.MustParseAddr(tc.addr)
		if got := isLinkLocal(a); got != tc.linkLocal {
			t.Errorf("isLinkLocal(%s): expected %v; got %v", tc.addr, tc.linkLocal, got)
		}
		if got := isPrivate(a); got != tc.private {
			t.Errorf("isPrivate(%s): expected %v; got %v", tc.addr, tc.private, got)
		}
		if got := usable(a, false); got != tc.usableOpen {
			t.Errorf("usable(%s, false): expected %v; got %v", tc.addr, tc.usableOpen, got)
		}
		if got := usable(a, true); got != tc.usablePriv {
			t.Errorf("usable(%s, true): expected %v; got %v", tc.addr, tc.usablePriv, got)
		}
	}
}

func TestCanonicalMasksAndUnmaps(t *testing.T) {
	got := canonical(netip.PrefixFrom(netip.MustParseAddr("2001:db8::dead:beef"), 64))
	if want := netip.MustParsePrefix("2001:db8::/64"); got != want {
		t.Fatalf("expected %q; got %q", want, got)
	}
	got = canonical(netip.PrefixFrom(netip.MustParseAddr("::ffff:198.51.100.7"), 32))
	if want := netip.MustParsePrefix("198.51.100.7/32"); got != want {
		t.Fatalf("expected %q; got %q", want, got)
	}
}
