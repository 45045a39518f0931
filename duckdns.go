package ruddr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	duckDNSEndpoint   = "https://www.duckdns.org/update"
	duckDNSNameserver = "ns1.duckdns.org"
)

// duckDNSUpdater publishes through the Duck DNS token API. Duck DNS is
// push-only; host IPv6 addresses come from AAAA lookups of the
// <host>.duckdns.org names, against Duck DNS's own nameserver so a lookup
// reflects what is published rather than a stale cached answer.
type duckDNSUpdater struct {
	*oneWay
	name     string
	log      *zap.Logger
	token    string
	endpoint string
	client   *http.Client
}

// NewDuckDNSUpdater returns an updater for duckdns.org subdomains.
// Options: "token" (required), "hosts" (required; bare subdomain labels,
// each optionally with an IPv6 source suffix like the standard updater's),
// "nameserver".
func NewDuckDNSUpdater(name string, cfg map[string]string, logger *zap.Logger) (Updater, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	token := cfg["token"]
	if token == "" {
		return nil, configErrorf(name, "'token' option is required")
	}
	nameserver := cfg["nameserver"]
	if nameserver == "" {
		nameserver = duckDNSNameserver
	}

	// A bare label defaults to looking its own record up for host bits.
	var entries []string
	for _, entry := range strings.Fields(cfg["hosts"]) {
		label, _, found := strings.Cut(entry, "/")
		label = strings.TrimSuffix(label, ".duckdns.org")
		if !found {
			entry = label + "/" + label + ".duckdns.org"
		} else {
			entry = label + entry[strings.Index(entry, "/"):]
		}
		entries = append(entries, entry)
	}
	hosts, err := parseHosts(name, strings.Join(entries, " "), nameserver)
	if err != nil {
		return nil, err
	}

	return &duckDNSUpdater{
		oneWay:   hosts,
		name:     name,
		log:      logger.Named("updater." + name),
		token:    token,
		endpoint: duckDNSEndpoint,
		client:   http.DefaultClient,
	}, nil
}

func (u *duckDNSUpdater) Name() string { return u.name }

func (u *duckDNSUpdater) PublishIPv4(ctx context.Context, target string, addr netip.Addr) error {
	return u.send(ctx, target, url.Values{"ip": {addr.String()}})
}

func (u *duckDNSUpdater) PublishIPv6(ctx context.Context, target string, addr netip.Addr) error {
	return u.send(ctx, target, url.Values{"ipv6": {addr.String()}})
}

func (u *duckDNSUpdater) send(ctx context.Context, target string, params url.Values) error {
	params.Set("domains", target)
	params.Set("token", u.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building update request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting duckdns update: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	text := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("duckdns returned HTTP %d: %s", resp.StatusCode, text)
	}

	switch text {
	case "OK":
		u.log.Info("hostname updated", zap.String("target", target))
		return nil
	// KO means the token or domain is wrong; retrying cannot fix either.
	case "KO":
		return fatalf("duckdns rejected the update for %s", target)
	default:
		return fmt.Errorf("unexpected duckdns response: %s", text)
	}
}
