package ruddr

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// zoneCache maps record names to the DNS zone that owns them, for two-way
// providers whose query and update calls are zone-scoped. The provider's
// zone list is fetched once and both it and the per-name resolution are
// cached for the life of the process; zones do not move between accounts
// while a daemon runs.
type zoneCache struct {
	fetch func(ctx context.Context) ([]string, error)

	mu       sync.Mutex
	zones    []string
	byTarget map[string]string
}

func newZoneCache(fetch func(ctx context.Context) ([]string, error)) *zoneCache {
	return &zoneCache{fetch: fetch, byTarget: make(map[string]string)}
}

// zoneFor resolves the zone owning fqdn: the longest zone in the
// provider's zone list that fqdn is a subdomain of.
func (z *zoneCache) zoneFor(ctx context.Context, fqdn string) (string, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if zone, ok := z.byTarget[fqdn]; ok {
		return zone, nil
	}
	if z.zones == nil {
		zones, err := z.fetch(ctx)
		if err != nil {
			return "", fmt.Errorf("listing zones: %w", err)
		}
		z.zones = zones
	}

	var best string
	for _, zone := range z.zones {
		if inZone(fqdn, zone) && len(zone) > len(best) {
			best = zone
		}
	}
	if best == "" {
		return "", fatalf("no zone in the account contains %s", fqdn)
	}
	z.byTarget[fqdn] = best
	return best, nil
}

// inZone reports whether fqdn equals zone or is a subdomain of it.
func inZone(fqdn, zone string) bool {
	fqdn = strings.TrimSuffix(strings.ToLower(fqdn), ".")
	zone = strings.TrimSuffix(strings.ToLower(zone), ".")
	return fqdn == zone || strings.HasSuffix(fqdn, "."+zone)
}

// subdomainOf returns the subdomain portion of fqdn relative to zone,
// empty for the zone's root domain.
func subdomainOf(fqdn, zone string) string {
	fqdn = strings.TrimSuffix(strings.ToLower(fqdn), ".")
	zone = strings.TrimSuffix(strings.ToLower(zone), ".")
	if fqdn == zone {
		return ""
	}
	return strings.TrimSuffix(fqdn, "."+zone)
}

// splitTargets parses a whitespace-separated list of record names for
// two-way updaters, each optionally with an explicit zone as
// "name.example.com/example.com".
func splitTargets(updater, spec string) (targets []string, zones map[string]string, err error) {
	zones = make(map[string]string)
	for _, entry := range strings.Fields(spec) {
		fqdn, zone, found := strings.Cut(entry, "/")
		for _, t := range targets {
			if t == fqdn {
				return nil, nil, configErrorf(updater, "host %q is listed twice", fqdn)
			}
		}
		if found {
			if !inZone(fqdn, zone) {
				return nil, nil, configErrorf(updater, "host %q is not in zone %q", fqdn, zone)
			}
			zones[fqdn] = zone
		}
		targets = append(targets, fqdn)
	}
	if len(targets) == 0 {
		return nil, nil, configErrorf(updater, "'hosts' option has no entries")
	}
	return targets, zones, nil
}
