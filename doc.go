/*
Package ruddr keeps DNS records at dynamic DNS providers synchronized with
the current IPv4 and IPv6 addressing of a network.

Notifiers watch for the current address (by polling an interface, asking a
what-is-my-ip web service, listening for network events, or returning a
static value) and report it to a [Manager]. The Manager fans each address
out to the updaters bound to that notifier, and each updater publishes it
to its provider, skipping publishes that the addrfile shows were already
confirmed, and retrying failures on an exponential backoff of its own.

IPv6 addressing is host-specific rather than NAT-shared, so notifiers
report only a network prefix. Before publishing, an updater obtains a full
host address for each record (from configuration, a DNS lookup, or the
provider's own API) and splices the new prefix onto it.

Usage starts with [BuildManager], which constructs notifiers and updaters
from plain configuration maps, or with [NewManager] plus [Manager.AddNotifier],
[Manager.AddUpdater], and [Manager.Bind] for programmatic assembly.
*/
package ruddr
