package ruddr

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"
)

// cloudflareUpdater keeps A and AAAA records in Cloudflare zones current.
// Cloudflare's API can read records back, so the host portion for IPv6
// splicing comes from the record itself rather than configuration.
type cloudflareUpdater struct {
	name    string
	log     *zap.Logger
	api     *cloudflare.API
	targets []string
	zoneOf  map[string]string
	zones   *zoneCache

	mu      sync.Mutex
	zoneIDs map[string]string
}

// NewCloudflareUpdater returns an updater for records hosted on
// Cloudflare. Options: "token" (required; API token with DNS edit
// permission) and "hosts" (required; record names, each optionally with an
// explicit zone as "name.example.com/example.com" when the account's zone
// list should not decide).
func NewCloudflareUpdater(name string, cfg map[string]string, logger *zap.Logger) (Updater, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	targets, zoneOf, err := splitTargets(name, cfg["hosts"])
	if err != nil {
		return nil, err
	}
	token := cfg["token"]
	if token == "" {
		return nil, configErrorf(name, "'token' option is required")
	}
	api, err := cloudflare.NewWithAPIToken(token)
	if err != nil {
		return nil, configErrorf(name, "creating cloudflare api client: %v", err)
	}

	u := &cloudflareUpdater{
		name:    name,
		log:     logger.Named("updater." + name),
		api:     api,
		targets: targets,
		zoneOf:  zoneOf,
		zoneIDs: make(map[string]string),
	}
	u.zones = newZoneCache(u.fetchZones)
	return u, nil
}

func (u *cloudflareUpdater) Name() string      { return u.name }
func (u *cloudflareUpdater) Targets() []string { return u.targets }

// fetchZones lists the account's zones, remembering each zone's ID for the
// record calls.
func (u *cloudflareUpdater) fetchZones(ctx context.Context) ([]string, error) {
	zones, err := u.api.ListZones(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(zones))
	u.mu.Lock()
	for _, z := range zones {
		names = append(names, z.Name)
		u.zoneIDs[strings.ToLower(z.Name)] = z.ID
	}
	u.mu.Unlock()
	return names, nil
}

// zoneID resolves the zone owning target to its Cloudflare zone ID. An
// explicitly configured zone still has to appear in the account.
func (u *cloudflareUpdater) zoneID(ctx context.Context, target string) (string, error) {
	zone, ok := u.zoneOf[target]
	if !ok {
		var err error
		if zone, err = u.zones.zoneFor(ctx, target); err != nil {
			return "", err
		}
	} else if _, err := u.zones.zoneFor(ctx, zone); err != nil {
		return "", err
	}
	u.mu.Lock()
	id := u.zoneIDs[strings.ToLower(zone)]
	u.mu.Unlock()
	if id == "" {
		return "", fatalf("zone %s is not in the cloudflare account", zone)
	}
	return id, nil
}

func (u *cloudflareUpdater) records(ctx context.Context, target, typ string) (string, []cloudflare.DNSRecord, error) {
	zid, err := u.zoneID(ctx, target)
	if err != nil {
		return "", nil, err
	}
	records, _, err := u.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.ListDNSRecordsParams{
		Type: typ,
		Name: strings.TrimSuffix(target, "."),
	})
	if err != nil {
		return "", nil, fmt.Errorf("listing %s records for %s: %w", typ, target, err)
	}
	return zid, records, nil
}

// publish updates every existing record of the given type to addr. An A
// record is created when the target has none; an AAAA record is not, since
// a record that never existed has no host portion to splice onto and an
// update for it would publish a guess.
func (u *cloudflareUpdater) publish(ctx context.Context, target, typ string, addr netip.Addr) error {
	zid, records, err := u.records(ctx, target, typ)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		if typ == "AAAA" {
			return fatalf("no existing AAAA record for %s to update", target)
		}
		_, err := u.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.CreateDNSRecordParams{
			Type:    typ,
			Name:    target,
			Content: addr.String(),
			TTL:     1, // automatic
			Comment: "managed by ruddr",
		})
		if err != nil {
			return fmt.Errorf("creating %s record for %s: %w", typ, target, err)
		}
		return nil
	}
	for _, r := range records {
		if r.Content == addr.String() {
			continue
		}
		_, err := u.api.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.UpdateDNSRecordParams{
			ID:      r.ID,
			Type:    typ,
			Name:    r.Name,
			Content: addr.String(),
		})
		if err != nil {
			return fmt.Errorf("updating %s record %s for %s: %w", typ, r.ID, target, err)
		}
	}
	return nil
}

func (u *cloudflareUpdater) PublishIPv4(ctx context.Context, target string, addr netip.Addr) error {
	return u.publish(ctx, target, "A", addr)
}

func (u *cloudflareUpdater) PublishIPv6(ctx context.Context, target string, addr netip.Addr) error {
	return u.publish(ctx, target, "AAAA", addr)
}

// HostIPv6 reads the target's current AAAA record back from the API.
// Targets without one get no IPv6 updates.
func (u *cloudflareUpdater) HostIPv6(ctx context.Context, target string) (netip.Addr, error) {
	_, records, err := u.records(ctx, target, "AAAA")
	if err != nil {
		return netip.Addr{}, err
	}
	if len(records) == 0 {
		u.log.Debug("target has no AAAA record; skipping IPv6", zap.String("target", target))
		return netip.Addr{}, errSkipIPv6
	}
	addr, err := netip.ParseAddr(records[0].Content)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parsing AAAA content for %s: %w", target, err)
	}
	return addr.Unmap(), nil
}
