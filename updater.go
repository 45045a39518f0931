package ruddr

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tevino/abool"
	"go.uber.org/zap"
)

// Updater is a provider integration. It publishes one address for one
// target (a hostname, domain, or whatever the provider's unit of update
// is) and, for IPv6, can produce the full current host address that the
// notified prefix gets spliced onto.
//
// Publish errors are transient by default and will be retried with
// backoff; wrap an error with Fatal to mark a failure that retrying
// cannot fix (bad credentials, nonexistent record), which halts that
// target until the next start.
type Updater interface {
	Name() string

	// Targets lists the records this updater keeps published.
	Targets() []string

	// PublishIPv4 publishes addr as the target's A record.
	PublishIPv4(ctx context.Context, target string, addr netip.Addr) error

	// PublishIPv6 publishes addr, already spliced to a full 128-bit
	// address, as the target's AAAA record.
	PublishIPv6(ctx context.Context, target string, addr netip.Addr) error

	// HostIPv6 returns the target's current full IPv6 address, used as
	// the host portion when splicing a notified prefix. Updaters that do
	// not update IPv6 for a target return errSkipIPv6.
	HostIPv6(ctx context.Context, target string) (netip.Addr, error)
}

// errSkipIPv6 is returned by HostIPv6 when a target intentionally gets no
// IPv6 updates. Not an error condition; the target is simply skipped.
var errSkipIPv6 = fmt.Errorf("target does not take IPv6 updates")

// updaterCore wraps a concrete Updater with the publish protocol shared by
// every updater: deduplication against the addrfile, prefix splicing,
// per-family retry with backoff, per-target fatal halts, and superseding
// of pending retries when fresh input arrives.
//
// Each family is an independent failure domain with its own retry
// scheduler and sequence counter. Within a family, publishes run in
// arrival order under the core's mutex; across updaters the Manager
// dispatches concurrently.
type updaterCore struct {
	name    string
	log     *zap.Logger
	updater Updater
	addrs   *Addrfile
	timeout time.Duration
	retry   map[Family]*RetryScheduler
	stopped *abool.AtomicBool

	mu     sync.Mutex
	seq    map[Family]int
	halted map[AddrKey]bool
}

const defaultPublishTimeout = 30 * time.Second

func newUpdaterCore(u Updater, addrs *Addrfile, minRetry time.Duration, logger *zap.Logger, clk clock.Clock) *updaterCore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	log := logger.Named("updater." + u.Name())
	return &updaterCore{
		name:    u.Name(),
		log:     log,
		updater: u,
		addrs:   addrs,
		timeout: defaultPublishTimeout,
		retry: map[Family]*RetryScheduler{
			IPv4: newRetryScheduler(minRetry, DefaultRetryMax, clk, log),
			IPv6: newRetryScheduler(minRetry, DefaultRetryMax, clk, log),
		},
		stopped: abool.New(),
		seq:     map[Family]int{},
		halted:  map[AddrKey]bool{},
	}
}

// update is the entry point for a fresh candidate address from a notifier.
// It supersedes any pending retry for the family: a scheduled retry would
// act on stale data.
func (u *updaterCore) update(family Family, addr netip.Prefix) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.seq[family]++
	u.retry[family].Cancel()
	u.attempt(u.seq[family], family, addr)
}

// retryAttempt re-runs a failed publish unless the core was stopped or a
// newer candidate arrived while the retry was pending.
func (u *updaterCore) retryAttempt(seq int, family Family, addr netip.Prefix) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped.IsSet() {
		return
	}
	if seq != u.seq[family] {
		u.log.Debug("retry superseded by newer address",
			zap.Stringer("family", family), zap.Int("seq", seq))
		return
	}
	u.attempt(seq, family, addr)
}

// attempt runs one publish pass over every target. Targets whose addrfile
// entry already matches are skipped without a network call; the rest are
// published independently, so one failing record cannot block the others.
// Callers must hold u.mu.
func (u *updaterCore) attempt(seq int, family Family, addr netip.Prefix) {
	failed := false
	for _, target := range u.updater.Targets() {
		switch err := u.publishTarget(family, target, addr); {
		case err == nil:
		case IsFatal(err):
			key := AddrKey{Updater: u.name, Family: family, Target: target}
			u.halted[key] = true
			metricPublishFatal.Inc()
			u.log.Error("publish failed permanently; halting this record until restart",
				zap.String("target", target), zap.Stringer("family", family), zap.Error(err))
		default:
			failed = true
			metricPublishFailed.Inc()
			u.log.Warn("publish failed",
				zap.String("target", target), zap.Stringer("family", family), zap.Error(err))
		}
	}
	if failed {
		// Order matters against cancelRetries: stopped is set before the
		// schedulers are cancelled, so either this re-arm is suppressed
		// here or the cancel that follows catches the fresh timer.
		if u.stopped.IsSet() {
			return
		}
		u.retry[family].Failure(func() { u.retryAttempt(seq, family, addr) })
	} else {
		u.retry[family].Success()
	}
}

// publishTarget publishes one candidate address for one target, applying
// dedup and the addrfile consistency rule: the confirmed entry is removed
// before the provider call and only restored after confirmed success, so a
// crash or failure can never leave a stale "confirmed" record.
func (u *updaterCore) publishTarget(family Family, target string, addr netip.Prefix) error {
	key := AddrKey{Updater: u.name, Family: family, Target: target}
	if u.halted[key] {
		u.log.Debug("skipping halted record", zap.String("target", target))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()

	var publish func() error
	var toPublish netip.Prefix
	switch family {
	case IPv4:
		a := addr.Addr()
		toPublish = netip.PrefixFrom(a, 32)
		publish = func() error { return u.updater.PublishIPv4(ctx, target, a) }
	case IPv6:
		full, err := u.fullIPv6(ctx, target, addr)
		if err == errSkipIPv6 {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting current IPv6 for %s: %w", target, err)
		}
		toPublish = netip.PrefixFrom(full, 128)
		publish = func() error { return u.updater.PublishIPv6(ctx, target, full) }
	default:
		return fmt.Errorf("unknown family %v", family)
	}

	if current, ok := u.addrs.Get(key); ok && current == canonical(toPublish) {
		u.log.Debug("already published; skipping",
			zap.String("target", target), zap.Stringer("addr", toPublish))
		metricPublishSkipped.Inc()
		return nil
	}

	// The provider's state is indeterminate from here until the publish
	// is confirmed, and the addrfile must say so durably.
	if err := u.addrs.Invalidate(key); err != nil {
		return fatalf("invalidating addrfile entry for %s: %w", target, err)
	}
	if err := publish(); err != nil {
		return err
	}
	if err := u.addrs.Set(key, toPublish); err != nil {
		return fatalf("recording published address for %s: %w", target, err)
	}
	metricPublished.Inc()
	u.log.Info("published",
		zap.String("target", target), zap.Stringer("addr", toPublish))
	return nil
}

// fullIPv6 turns the notified prefix into the full address to publish for
// target. A prefix of 128 bits is already a full address; otherwise the
// updater supplies the current host portion and the new prefix is spliced
// onto it.
func (u *updaterCore) fullIPv6(ctx context.Context, target string, addr netip.Prefix) (netip.Addr, error) {
	if addr.Bits() == 128 {
		return addr.Addr(), nil
	}
	host, err := u.updater.HostIPv6(ctx, target)
	if err != nil {
		return netip.Addr{}, err
	}
	return SplicePrefix(addr, host)
}

// cancelRetries drops all pending retries and keeps an in-flight retry
// callback from re-arming, for shutdown. The stopped flag is set before
// the schedulers are cancelled; see attempt.
func (u *updaterCore) cancelRetries() {
	u.stopped.Set()
	for _, r := range u.retry {
		r.Cancel()
	}
}

// resume clears the shutdown state so a restarted Manager can publish and
// retry again.
func (u *updaterCore) resume() {
	u.stopped.UnSet()
}
