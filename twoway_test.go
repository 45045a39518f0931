package ruddr

import (
	"context"
	"errors"
	"testing"
)

func TestZoneCachePicksLongestMatch(t *testing.T) {
	fetches := 0
	z := newZoneCache(func(context.Context) ([]string, error) {
		fetches++
		return []string{"example.com", "sub.example.com", "example.org"}, nil
	})

	cases := map[string]string{
		"www.example.com":       "example.com",
		"a.b.sub.example.com":   "sub.example.com",
		"sub.example.com":       "sub.example.com",
		"example.org":           "example.org",
		"deep.www.example.org.": "example.org",
	}
	for fqdn, want := range cases {
		got, err := z.zoneFor(context.Background(), fqdn)
		if err != nil {
			t.Fatalf("zoneFor(%q) failed: %s", fqdn, err)
		}
		if got != want {
			t.Errorf("zoneFor(%q): expected %q; got %q", fqdn, want, got)
		}
	}
	if fetches != 1 {
		t.Fatalf("expected the zone list fetched once; got %d", fetches)
	}
}

func TestZoneCacheNoMatchIsFatal(t *testing.T) {
	z := newZoneCache(func(context.Context) ([]string, error) {
		return []string{"example.com"}, nil
	})
	_, err := z.zoneFor(context.Background(), "www.example.net")
	if err == nil {
		t.Fatal("expected error for a name outside every zone")
	}
	// Retrying cannot grow the account's zone list.
	if !IsFatal(err) {
		t.Fatalf("expected a fatal error; got %v", err)
	}

	// "notexample.com" is not a subdomain of "example.com" even though the
	// string is a suffix.
	if _, err := z.zoneFor(context.Background(), "notexample.com"); err == nil {
		t.Fatal("expected suffix-but-not-subdomain to miss")
	}
}

func TestZoneCachePropagatesFetchErrors(t *testing.T) {
	boom := errors.New("api down")
	z := newZoneCache(func(context.Context) ([]string, error) {
		return nil, boom
	})
	if _, err := z.zoneFor(context.Background(), "www.example.com"); !errors.Is(err, boom) {
		t.Fatalf("expected the fetch error; got %v", err)
	}
}

func TestSubdomainOf(t *testing.T) {
	cases := []struct {
		fqdn, zone, want string
	}{
		{"www.example.com", "example.com", "www"},
		{"a.b.example.com", "example.com", "a.b"},
		{"example.com", "example.com", ""},
		{"WWW.Example.COM.", "example.com", "www"},
	}
	for _, tc := range cases {
		if got := subdomainOf(tc.fqdn, tc.zone); got != tc.want {
			t.Errorf("subdomainOf(%q, %q): expected %q; got %q", tc.fqdn, tc.zone, tc.want, got)
		}
	}
}

func TestSplitTargets(t *testing.T) {
	targets, zones, err := splitTargets("up", "www.example.com a.example.org/example.org")
	if err != nil {
		t.Fatalf("splitTargets failed: %s", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets; got %v", targets)
	}
	if zones["a.example.org"] != "example.org" {
		t.Fatalf("expected explicit zone recorded; got %v", zones)
	}
	if _, ok := zones["www.example.com"]; ok {
		t.Fatal("expected no explicit zone for the bare entry")
	}

	if _, _, err := splitTargets("up", ""); err == nil {
		t.Error("expected error for empty hosts")
	}
	if _, _, err := splitTargets("up", "www.example.com www.example.com"); err == nil {
		t.Error("expected error for duplicate host")
	}
	if _, _, err := splitTargets("up", "www.example.com/example.org"); err == nil {
		t.Error("expected error for host outside its explicit zone")
	}
}
