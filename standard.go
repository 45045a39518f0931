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

// standardUpdater publishes through the de facto standard /nic/update
// protocol (DynDNS, No-IP, and most compatible providers). The protocol is
// one-way, so IPv6 host bits come from configuration or DNS.
type standardUpdater struct {
	*oneWay
	name     string
	log      *zap.Logger
	endpoint string
	username string
	password string
	dialect  ipv6Dialect
	client   *http.Client
}

// ipv6Dialect selects how the provider expects IPv6 updates: a separate
// myipv6 parameter, a separate parameter with myip=no, or reusing myip.
type ipv6Dialect string

const (
	dialectSeparate   ipv6Dialect = "separate"
	dialectSeparateNo ipv6Dialect = "separate_no"
	dialectCombined   ipv6Dialect = "combined"
)

// NewStandardUpdater returns an updater for /nic/update providers.
// Options: "hosts" (required; see parseHosts for the entry format),
// "endpoint" (required; base URL), "username", "password", "nameserver",
// "ipv6_dialect" (separate, separate_no, or combined).
func NewStandardUpdater(name string, cfg map[string]string, logger *zap.Logger) (Updater, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	hosts, err := parseHosts(name, cfg["hosts"], cfg["nameserver"])
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSuffix(cfg["endpoint"], "/")
	if endpoint == "" {
		return nil, configErrorf(name, "'endpoint' option is required")
	}
	username := cfg["username"]
	if username == "" {
		return nil, configErrorf(name, "'username' option is required")
	}
	password := cfg["password"]
	if password == "" {
		return nil, configErrorf(name, "'password' option is required")
	}

	dialect := ipv6Dialect(cfg["ipv6_dialect"])
	if dialect == "" {
		dialect = dialectSeparate
	}
	switch dialect {
	case dialectSeparate, dialectSeparateNo, dialectCombined:
	default:
		return nil, configErrorf(name, "unknown ipv6_dialect %q", dialect)
	}

	return &standardUpdater{
		oneWay:   hosts,
		name:     name,
		log:      logger.Named("updater." + name),
		endpoint: endpoint + "/nic/update",
		username: username,
		password: password,
		dialect:  dialect,
		client:   http.DefaultClient,
	}, nil
}

func (u *standardUpdater) Name() string { return u.name }

func (u *standardUpdater) PublishIPv4(ctx context.Context, target string, addr netip.Addr) error {
	params := url.Values{"hostname": {target}, "myip": {addr.String()}}
	if u.dialect == dialectSeparateNo {
		params.Set("myipv6", "no")
	}
	return u.send(ctx, target, params)
}

func (u *standardUpdater) PublishIPv6(ctx context.Context, target string, addr netip.Addr) error {
	params := url.Values{"hostname": {target}}
	switch u.dialect {
	case dialectSeparateNo:
		params.Set("myip", "no")
		params.Set("myipv6", addr.String())
	case dialectCombined:
		params.Set("myip", addr.String())
	default:
		params.Set("myipv6", addr.String())
	}
	return u.send(ctx, target, params)
}

func (u *standardUpdater) send(ctx context.Context, target string, params url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building update request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.SetBasicAuth(u.username, u.password)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", u.endpoint, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %d: %s", u.endpoint, resp.StatusCode, text)
	}

	code, _, _ := strings.Cut(text, " ")
	switch code {
	case "good":
		u.log.Info("hostname updated", zap.String("target", target))
		return nil
	case "nochg":
		u.log.Info("hostname already current", zap.String("target", target))
		return nil
	// Server-side trouble at various providers; worth retrying.
	case "911", "dnserr", "servererror":
		return fmt.Errorf("server error from %s: %s", u.endpoint, text)
	// Everything else is a client-side problem (badauth, nohost,
	// abuse, ...) that a retry with the same request cannot fix.
	default:
		return fatalf("update rejected by %s: %s", u.endpoint, text)
	}
}
