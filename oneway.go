package ruddr

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// oneWay is the shape for providers whose protocol is push-only: there is
// no way to ask the provider for a target's current address, so the host
// portion of each IPv6 address comes from static configuration or from a
// DNS lookup of the record's own name. Concrete updaters embed it for
// Targets and HostIPv6 and implement the publish calls themselves.
type oneWay struct {
	targets []string
	source  map[string]ipv6Source
	dns     *dnsResolver
}

// ipv6Source says where one target's IPv6 host bits come from.
type ipv6Source struct {
	static netip.Addr // hardcoded host portion, when valid
	lookup string     // FQDN to look up, when non-empty
	// neither set: the target takes no IPv6 updates
}

// parseHosts builds a oneWay from the whitespace-separated hosts option.
// Each entry is "host/-" (no IPv6), "host/fqdn" (host bits from a DNS
// lookup of fqdn), or "host/::1a2b:3c4d" (hardcoded host bits).
func parseHosts(updater, spec, nameserver string) (*oneWay, error) {
	o := &oneWay{
		source: make(map[string]ipv6Source),
		dns:    &dnsResolver{nameserver: nameserver},
	}
	for _, entry := range strings.Fields(spec) {
		host, src, found := strings.Cut(entry, "/")
		if !found {
			return nil, configErrorf(updater,
				"hosts entry %q needs an FQDN, IPv6 address, or '-' after a slash", entry)
		}
		if _, dup := o.source[host]; dup {
			return nil, configErrorf(updater, "hosts entry %q is listed twice", host)
		}
		o.targets = append(o.targets, host)
		switch {
		case src == "-":
			o.source[host] = ipv6Source{}
		default:
			if addr, err := netip.ParseAddr(src); err == nil && addr.Is6() {
				o.source[host] = ipv6Source{static: addr}
			} else {
				o.source[host] = ipv6Source{lookup: src}
			}
		}
	}
	if len(o.targets) == 0 {
		return nil, configErrorf(updater, "'hosts' option has no entries")
	}
	return o, nil
}

func (o *oneWay) Targets() []string { return o.targets }

func (o *oneWay) HostIPv6(ctx context.Context, target string) (netip.Addr, error) {
	src := o.source[target]
	switch {
	case src.static.IsValid():
		return src.static, nil
	case src.lookup != "":
		return o.dns.lookupAAAA(ctx, src.lookup)
	default:
		return netip.Addr{}, errSkipIPv6
	}
}

// dnsResolver looks up AAAA records, against an explicit nameserver when
// one is configured and the system resolver otherwise. When a name has
// several addresses, globally-routable ones win over private ones, and
// private over link-local; the published record should be the reachable
// address whenever there is one.
type dnsResolver struct {
	nameserver string
	client     dns.Client
}

func (r *dnsResolver) lookupAAAA(ctx context.Context, fqdn string) (netip.Addr, error) {
	var addrs []netip.Addr
	var err error
	if r.nameserver == "" {
		addrs, err = net.DefaultResolver.LookupNetIP(ctx, "ip6", fqdn)
	} else {
		addrs, err = r.query(ctx, fqdn)
	}
	if err != nil {
		return netip.Addr{}, fmt.Errorf("looking up AAAA for %s: %w", fqdn, err)
	}
	best := pickAAAA(addrs)
	if !best.IsValid() {
		return netip.Addr{}, fmt.Errorf("no AAAA records for %s", fqdn)
	}
	return best, nil
}

func (r *dnsResolver) query(ctx context.Context, fqdn string) ([]netip.Addr, error) {
	server := r.nameserver
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), dns.TypeAAAA)
	resp, _, err := r.client.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("nameserver %s answered %s", r.nameserver, dns.RcodeToString[resp.Rcode])
	}
	var addrs []netip.Addr
	for _, rr := range resp.Answer {
		if aaaa, ok := rr.(*dns.AAAA); ok {
			if a, ok := netip.AddrFromSlice(aaaa.AAAA); ok {
				addrs = append(addrs, a.Unmap())
			}
		}
	}
	return addrs, nil
}

func pickAAAA(addrs []netip.Addr) netip.Addr {
	var firstPrivate, firstLinkLocal netip.Addr
	for _, a := range addrs {
		switch {
		case isLinkLocal(a):
			if !firstLinkLocal.IsValid() {
				firstLinkLocal = a
			}
		case isPrivate(a):
			if !firstPrivate.IsValid() {
				firstPrivate = a
			}
		default:
			return a
		}
	}
	if firstPrivate.IsValid() {
		return firstPrivate
	}
	return firstLinkLocal
}
