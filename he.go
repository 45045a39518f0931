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

const heEndpoint = "https://ipv4.tunnelbroker.net/nic/update"

// heUpdater keeps a Hurricane Electric tunnelbroker.net tunnel's client
// IPv4 endpoint current. A tunnel has no AAAA record to update; this
// updater is IPv4 only and must be bound with skip_ipv6 or notifier4.
type heUpdater struct {
	name     string
	log      *zap.Logger
	tunnel   string
	username string
	password string
	endpoint string
	client   *http.Client
}

// NewHEUpdater returns an updater for a tunnelbroker.net tunnel. Options:
// "tunnel" (required; the numeric tunnel ID), "username" (required),
// "password" (required; the tunnel's update key).
func NewHEUpdater(name string, cfg map[string]string, logger *zap.Logger) (Updater, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tunnel := cfg["tunnel"]
	if tunnel == "" {
		return nil, configErrorf(name, "'tunnel' option is required")
	}
	username := cfg["username"]
	if username == "" {
		return nil, configErrorf(name, "'username' option is required")
	}
	password := cfg["password"]
	if password == "" {
		return nil, configErrorf(name, "'password' option is required")
	}
	return &heUpdater{
		name:     name,
		log:      logger.Named("updater." + name),
		tunnel:   tunnel,
		username: username,
		password: password,
		endpoint: heEndpoint,
		client:   http.DefaultClient,
	}, nil
}

func (u *heUpdater) Name() string      { return u.name }
func (u *heUpdater) Targets() []string { return []string{u.tunnel} }

func (u *heUpdater) PublishIPv4(ctx context.Context, target string, addr netip.Addr) error {
	params := url.Values{"hostname": {target}, "myip": {addr.String()}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building update request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.SetBasicAuth(u.username, u.password)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting tunnel update: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	text := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tunnelbroker returned HTTP %d: %s", resp.StatusCode, text)
	}

	code, _, _ := strings.Cut(text, " ")
	switch code {
	case "good", "nochg":
		u.log.Info("tunnel endpoint updated", zap.String("tunnel", target))
		return nil
	case "911", "servererror":
		return fmt.Errorf("server error from tunnelbroker: %s", text)
	default:
		return fatalf("tunnel update rejected: %s", text)
	}
}

func (u *heUpdater) PublishIPv6(ctx context.Context, target string, addr netip.Addr) error {
	return fatalf("tunnelbroker tunnels take no IPv6 updates")
}

func (u *heUpdater) HostIPv6(ctx context.Context, target string) (netip.Addr, error) {
	return netip.Addr{}, errSkipIPv6
}
