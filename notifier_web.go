package ruddr

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const userAgent = "ruddr/1.0 (+https://github.com/dominickpastore/ruddr)"

// webNotifier polls what-is-my-ip style web services. IPv4 and IPv6 are
// requested with family-pinned transports so each request reveals the
// public address of the matching family, even when both URLs are the same.
type webNotifier struct {
	*baseNotifier
	url4, url6       string
	client4, client6 *http.Client
}

// NewWebNotifier returns a notifier that polls a web service returning the
// caller's public IP as the response body. Recognized options beyond the
// common ones: "url" (required), "url6" (defaults to "url"), "timeout" and
// "timeout6" in seconds.
func NewWebNotifier(name string, cfg map[string]string, logger *zap.Logger) (Notifier, error) {
	return newWebNotifier(name, cfg, logger, nil)
}

func newWebNotifier(name string, cfg map[string]string, logger *zap.Logger, clk clock.Clock) (*webNotifier, error) {
	opts, err := commonNotifierOptions(name, cfg, notifierDefaults{
		retryMin:        time.Minute,
		retryMax:        24 * time.Hour,
		successInterval: 3 * time.Hour,
	})
	if err != nil {
		return nil, err
	}
	base, err := newBaseNotifier(name, opts, logger, clk)
	if err != nil {
		return nil, err
	}

	url4 := cfg["url"]
	if url4 == "" {
		return nil, configErrorf(name, "'url' option is required")
	}
	url6 := cfg["url6"]
	if url6 == "" {
		url6 = url4
	}

	timeout4, err := durationOption(name, cfg, "timeout", 10*time.Second)
	if err != nil {
		return nil, err
	}
	timeout6 := timeout4
	if _, ok := cfg["timeout6"]; ok {
		if timeout6, err = durationOption(name, cfg, "timeout6", timeout4); err != nil {
			return nil, err
		}
	}

	n := &webNotifier{
		baseNotifier: base,
		url4:         url4,
		url6:         url6,
		client4:      familyHTTPClient("tcp4", timeout4),
		client6:      familyHTTPClient("tcp6", timeout6),
	}
	n.checkOnce = n.check
	return n, nil
}

// familyHTTPClient returns a client whose connections are restricted to a
// single address family ("tcp4" or "tcp6").
func familyHTTPClient(network string, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		},
	}
}

func (n *webNotifier) check(ctx context.Context) error {
	got4, got6 := false, false
	var err4, err6 error

	if n.wants(IPv4) {
		addr, err := n.fetch(ctx, n.client4, n.url4)
		if err != nil {
			n.log.Warn("could not get IPv4", zap.String("url", n.url4), zap.Error(err))
			err4 = err
		} else {
			got4 = n.notifyIPv4(addr)
		}
	}
	if n.wants(IPv6) {
		addr, err := n.fetch(ctx, n.client6, n.url6)
		if err != nil {
			n.log.Warn("could not get IPv6", zap.String("url", n.url6), zap.Error(err))
			err6 = err
		} else {
			got6 = n.notifyIPv6(addr)
		}
	}

	if !got4 && !got6 {
		return fmt.Errorf("could not get any current address: %w", firstErr(err4, err6))
	}
	if n.needs(IPv4) && !got4 {
		return fmt.Errorf("could not get current IPv4 address: %w", firstErr(err4, err6))
	}
	if n.needs(IPv6) && !got6 {
		return fmt.Errorf("could not get current IPv6 address: %w", firstErr(err6, err4))
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("no address in response")
}

func (n *webNotifier) fetch(ctx context.Context, client *http.Client, url string) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("reading response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("%s returned HTTP %d", url, resp.StatusCode)
	}
	text, _, _ := strings.Cut(strings.TrimSpace(string(body)), "\n")
	addr, err := netip.ParseAddr(strings.TrimSpace(text))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("response from %s is not an IP address: %w", url, err)
	}
	return addr.Unmap(), nil
}
