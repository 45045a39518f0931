package ruddr

import (
	"context"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// staticNotifier reports fixed, configured addresses. Useful for hosts
// whose addressing never changes but whose records should still be kept
// published, and as a building block in tests.
type staticNotifier struct {
	*baseNotifier
	addr4 netip.Addr
	addr6 netip.Prefix
}

// NewStaticNotifier returns a notifier that reports statically configured
// addresses. Options: "ipv4" (an address) and "ipv6" (an address with a
// prefix length, e.g. "2001:db8::/64"); at least one is required.
func NewStaticNotifier(name string, cfg map[string]string, logger *zap.Logger) (Notifier, error) {
	return newStaticNotifier(name, cfg, logger, nil)
}

func newStaticNotifier(name string, cfg map[string]string, logger *zap.Logger, clk clock.Clock) (*staticNotifier, error) {
	// A static check cannot fail, but the retry bounds still need to be
	// valid for the shared harness.
	opts, err := commonNotifierOptions(name, cfg, notifierDefaults{
		retryMin: 10 * time.Second,
		retryMax: 10 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	// A statically configured address was chosen on purpose; don't filter
	// it as private unless the user explicitly says to.
	if _, ok := cfg["allow_private"]; !ok {
		opts.allowPrivate = true
	}

	n := &staticNotifier{}
	if s := cfg["ipv4"]; s != "" {
		n.addr4, err = netip.ParseAddr(s)
		if err != nil || !n.addr4.Is4() {
			return nil, configErrorf(name, "'ipv4' option is not a valid IPv4 address: %q", s)
		}
	}
	if s := cfg["ipv6"]; s != "" {
		n.addr6, err = netip.ParsePrefix(s)
		if err != nil || n.addr6.Addr().Is4() {
			return nil, configErrorf(name, "'ipv6' option needs an IPv6 address with a prefix length: %q", s)
		}
		opts.prefixLen = n.addr6.Bits()
	}
	if !n.addr4.IsValid() && !n.addr6.IsValid() {
		return nil, configErrorf(name, "at least one of 'ipv4' or 'ipv6' is required")
	}

	base, err := newBaseNotifier(name, opts, logger, clk)
	if err != nil {
		return nil, err
	}
	n.baseNotifier = base
	n.checkOnce = n.check
	return n, nil
}

func (n *staticNotifier) check(context.Context) error {
	if n.wants(IPv4) && n.addr4.IsValid() {
		n.notifyIPv4(n.addr4)
	}
	if n.wants(IPv6) && n.addr6.IsValid() {
		n.notifyIPv6(n.addr6.Addr())
	}
	return nil
}
