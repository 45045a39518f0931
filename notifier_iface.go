package ruddr

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ifaceNotifier polls the addresses assigned to a local network interface.
type ifaceNotifier struct {
	*baseNotifier
	iface string
}

// NewIfaceNotifier returns a notifier that checks the named local
// interface's addresses on a schedule. Recognized options beyond the
// common ones: "iface" (required).
func NewIfaceNotifier(name string, cfg map[string]string, logger *zap.Logger) (Notifier, error) {
	return newIfaceNotifier(name, cfg, logger, nil)
}

func newIfaceNotifier(name string, cfg map[string]string, logger *zap.Logger, clk clock.Clock) (*ifaceNotifier, error) {
	opts, err := commonNotifierOptions(name, cfg, notifierDefaults{
		retryMin:        10 * time.Second,
		retryMax:        10 * time.Minute,
		successInterval: 30 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	base, err := newBaseNotifier(name, opts, logger, clk)
	if err != nil {
		return nil, err
	}
	iface := cfg["iface"]
	if iface == "" {
		return nil, configErrorf(name, "'iface' option is required")
	}
	n := &ifaceNotifier{baseNotifier: base, iface: iface}
	n.checkOnce = n.check
	return n, nil
}

func (n *ifaceNotifier) check(ctx context.Context) error {
	v4s, v6s, err := ifaceAddrs(n.iface, n.opts.allowPrivate)
	if err != nil {
		return err
	}

	got4, got6 := false, false
	if n.wants(IPv4) {
		if len(v4s) > 0 {
			got4 = n.notifyIPv4(v4s[0])
		} else {
			n.log.Info("interface has no usable IPv4 assigned", zap.String("iface", n.iface))
		}
	}
	if n.wants(IPv6) {
		if len(v6s) > 0 {
			got6 = n.notifyIPv6(v6s[0])
		} else {
			n.log.Info("interface has no usable IPv6 assigned", zap.String("iface", n.iface))
		}
	}

	if !got4 && !got6 {
		return fmt.Errorf("interface %s has no usable address assigned", n.iface)
	}
	if n.needs(IPv4) && !got4 {
		return fmt.Errorf("interface %s has no IPv4 assigned", n.iface)
	}
	if n.needs(IPv6) && !got6 {
		return fmt.Errorf("interface %s has no IPv6 assigned", n.iface)
	}
	return nil
}

// ifaceAddrs returns the usable addresses assigned to the named interface,
// ordered globally-routable first, then private if allowed. Loopback and
// link-local addresses are always dropped.
func ifaceAddrs(name string, allowPrivate bool) (v4s, v6s []netip.Addr, err error) {
	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up interface %s: %w", name, err)
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return nil, nil, fmt.Errorf("looking up addresses for interface %s: %w", name, err)
	}

	var private4s, private6s []netip.Addr
	for _, addr := range addrs {
		p, err := netip.ParsePrefix(addr.String())
		if err != nil {
			continue
		}
		a := p.Addr().Unmap()
		if !usable(a, allowPrivate) {
			continue
		}
		switch {
		case a.Is4() && isPrivate(a):
			private4s = append(private4s, a)
		case a.Is4():
			v4s = append(v4s, a)
		case isPrivate(a):
			private6s = append(private6s, a)
		default:
			v6s = append(v6s, a)
		}
	}
	return append(v4s, private4s...), append(v6s, private6s...), nil
}
