package ruddr

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
)

func TestAddrfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addrfile.json")
	key4 := AddrKey{Updater: "main", Family: IPv4, Target: "example.com"}
	key6 := AddrKey{Updater: "main", Family: IPv6, Target: "example.com"}

	f := OpenAddrfile(path, nil)
	if _, ok := f.Get(key4); ok {
		t.Fatal("expected empty addrfile to have no entries")
	}
	if err := f.Set(key4, netip.MustParsePrefix("198.51.100.1/32")); err != nil {
		t.Fatalf("Set failed: %s", err)
	}
	if err := f.Set(key6, netip.MustParsePrefix("2001:db8:47::/64")); err != nil {
		t.Fatalf("Set failed: %s", err)
	}

	// A fresh open must see what the last process confirmed.
	f = OpenAddrfile(path, nil)
	if got, ok := f.Get(key4); !ok || got != netip.MustParsePrefix("198.51.100.1/32") {
		t.Fatalf("expected 198.51.100.1/32; got %q (ok=%v)", got, ok)
	}
	if got, ok := f.Get(key6); !ok || got != netip.MustParsePrefix("2001:db8:47::/64") {
		t.Fatalf("expected 2001:db8:47::/64; got %q (ok=%v)", got, ok)
	}
}

func TestAddrfileInvalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addrfile.json")
	key := AddrKey{Updater: "main", Family: IPv4, Target: "example.com"}

	f := OpenAddrfile(path, nil)
	if err := f.Set(key, netip.MustParsePrefix("198.51.100.1/32")); err != nil {
		t.Fatalf("Set failed: %s", err)
	}
	if err := f.Invalidate(key); err != nil {
		t.Fatalf("Invalidate failed: %s", err)
	}
	if _, ok := f.Get(key); ok {
		t.Fatal("expected entry to be gone after Invalidate")
	}

	// Durably gone, not just in memory.
	f = OpenAddrfile(path, nil)
	if _, ok := f.Get(key); ok {
		t.Fatal("expected invalidated entry to stay gone across reopen")
	}

	// Invalidating an absent entry is not an error.
	if err := f.Invalidate(key); err != nil {
		t.Fatalf("Invalidate of absent entry failed: %s", err)
	}
}

func TestAddrfileToleratesBadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addrfile.json")
	content := `{
  "main/ipv4/good.example.com": "198.51.100.1",
  "main/ipv4/bad.example.com": "not an address",
  "main/ipv6/wrongfam.example.com": "198.51.100.2",
  "nonsense": "198.51.100.3"
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	f := OpenAddrfile(path, nil)
	good := AddrKey{Updater: "main", Family: IPv4, Target: "good.example.com"}
	if got, ok := f.Get(good); !ok || got != netip.MustParsePrefix("198.51.100.1/32") {
		t.Fatalf("expected the good entry to survive; got %q (ok=%v)", got, ok)
	}
	for _, target := range []string{"bad.example.com", "wrongfam.example.com"} {
		if _, ok := f.Get(AddrKey{Updater: "main", Family: IPv4, Target: target}); ok {
			t.Errorf("expected entry for %s to be dropped", target)
		}
	}
}

func TestAddrfileUnparseableFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addrfile.json")
	if err := os.WriteFile(path, []byte("{{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := OpenAddrfile(path, nil)
	key := AddrKey{Updater: "main", Family: IPv4, Target: "example.com"}
	if _, ok := f.Get(key); ok {
		t.Fatal("expected no entries from a corrupt file")
	}
	// And the next write replaces it cleanly.
	if err := f.Set(key, netip.MustParsePrefix("198.51.100.1/32")); err != nil {
		t.Fatalf("Set after corrupt load failed: %s", err)
	}
	f = OpenAddrfile(path, nil)
	if _, ok := f.Get(key); !ok {
		t.Fatal("expected entry after rewrite of corrupt file")
	}
}
