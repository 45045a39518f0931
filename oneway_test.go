package ruddr

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

func TestParseHosts(t *testing.T) {
	o, err := parseHosts("up", "a.example.com/- b.example.com/lookup.example.com c.example.com/::1a2b:3c4d", "")
	if err != nil {
		t.Fatalf("parseHosts failed: %s", err)
	}
	want := []string{"a.example.com", "b.example.com", "c.example.com"}
	if got := o.Targets(); len(got) != len(want) {
		t.Fatalf("expected targets %v; got %v", want, got)
	}
	for i, w := range want {
		if o.Targets()[i] != w {
			t.Fatalf("expected target %q at %d; got %q", w, i, o.Targets()[i])
		}
	}

	// "-" means the target takes no IPv6 updates at all.
	if _, err := o.HostIPv6(context.Background(), "a.example.com"); !errors.Is(err, errSkipIPv6) {
		t.Fatalf("expected errSkipIPv6 for '-'; got %v", err)
	}
	// A hardcoded host address comes straight back.
	got, err := o.HostIPv6(context.Background(), "c.example.com")
	if err != nil {
		t.Fatalf("HostIPv6 failed: %s", err)
	}
	if want := netip.MustParseAddr("::1a2b:3c4d"); got != want {
		t.Fatalf("expected %q; got %q", want, got)
	}
}

func TestParseHostsRejectsBadSpecs(t *testing.T) {
	cases := []string{
		"",                                  // no entries
		"a.example.com",                     // missing IPv6 source
		"a.example.com/- a.example.com/-",   // duplicate
	}
	for _, spec := range cases {
		if _, err := parseHosts("up", spec, ""); err == nil {
			t.Errorf("expected error for %q; got nil", spec)
		}
	}
}

func TestPickAAAAPrefersGlobal(t *testing.T) {
	global := netip.MustParseAddr("2001:db8::1")
	private := netip.MustParseAddr("fd00::1")
	linkLocal := netip.MustParseAddr("fe80::1")

	if got := pickAAAA([]netip.Addr{linkLocal, private, global}); got != global {
		t.Fatalf("expected the global address; got %q", got)
	}
	if got := pickAAAA([]netip.Addr{linkLocal, private}); got != private {
		t.Fatalf("expected the private address; got %q", got)
	}
	if got := pickAAAA([]netip.Addr{linkLocal}); got != linkLocal {
		t.Fatalf("expected the link-local address; got %q", got)
	}
	if got := pickAAAA(nil); got.IsValid() {
		t.Fatalf("expected no address; got %q", got)
	}
}
