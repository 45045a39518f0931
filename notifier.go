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

// Receiver accepts current-address reports from notifiers. *Manager is the
// receiver in a running system; tests substitute their own.
type Receiver interface {
	// Notify delivers a candidate address from the named notifier. For
	// IPv4 the prefix is a full address (/32); for IPv6 a prefix length
	// below 128 means "prefix only, splice required".
	Notify(notifier string, family Family, addr netip.Prefix)
}

// Notifier is a source of current-address events. Setup starts whatever
// background activity the notifier needs (polling timer, event listener);
// Teardown stops it. Notifiers that can check on demand additionally
// implement Check (probed by the Manager with a type assertion).
type Notifier interface {
	Name() string
	Setup() error
	Teardown() error

	// attach is called by the Manager before Setup to wire the notifier
	// to its receiver and tell it which families any bound updater wants.
	attach(recv Receiver, bound4, bound6 bool)
	wants(f Family) bool
}

// checkNotifier is the optional on-demand capability.
type checkNotifier interface {
	Check() error
}

// notifierOptions is the common configuration every notifier type accepts.
type notifierOptions struct {
	skip4, skip6         bool
	required4, required6 bool
	prefixLen            int
	allowPrivate         bool
	successInterval      time.Duration
	retryMin, retryMax   time.Duration
}

// baseNotifier implements the scheduling harness shared by every notifier
// type: immediate check at setup, periodic re-check on success when a
// polling interval is configured, exponential backoff on failure, and
// cancel-then-replace when a fresh check supersedes a scheduled one.
//
// Concrete types embed it and provide checkOnce (nil for pure event-based
// notifiers) plus optional setup/teardown hooks.
type baseNotifier struct {
	name string
	log  *zap.Logger
	clk  clock.Clock
	opts notifierOptions

	retry   *RetryScheduler
	started *abool.AtomicBool

	recv         Receiver
	want4, want6 bool

	// Serializes checks and guards seq and pollTimer. Checks never
	// re-enter the notifier, so holding it across checkOnce is safe.
	mu        sync.Mutex
	seq       int
	pollTimer *clock.Timer

	ctx    context.Context
	cancel context.CancelFunc

	checkOnce    func(ctx context.Context) error
	setupHook    func() error
	teardownHook func() error
}

func newBaseNotifier(name string, opts notifierOptions, logger *zap.Logger, clk clock.Clock) (*baseNotifier, error) {
	if opts.skip4 && opts.skip6 {
		return nil, configErrorf(name, "cannot skip both IPv4 and IPv6")
	}
	if opts.skip4 && opts.required4 {
		return nil, configErrorf(name, "cannot require IPv4 when it is skipped")
	}
	if opts.skip6 && opts.required6 {
		return nil, configErrorf(name, "cannot require IPv6 when it is skipped")
	}
	if opts.prefixLen < 1 || opts.prefixLen > 128 {
		return nil, configErrorf(name, "ipv6_prefix must be between 1 and 128, got %d", opts.prefixLen)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	log := logger.Named("notifier." + name)
	n := &baseNotifier{
		name:    name,
		log:     log,
		clk:     clk,
		opts:    opts,
		retry:   newRetryScheduler(opts.retryMin, opts.retryMax, clk, log),
		started: abool.New(),
	}
	return n, nil
}

func (n *baseNotifier) Name() string { return n.name }

func (n *baseNotifier) attach(recv Receiver, bound4, bound6 bool) {
	n.recv = recv
	n.want4 = bound4 && !n.opts.skip4
	n.want6 = bound6 && !n.opts.skip6
	if bound4 && n.opts.skip4 {
		n.log.Info("bound for IPv4 but skip_ipv4 is set; IPv4 will not be notified")
	}
	if bound6 && n.opts.skip6 {
		n.log.Info("bound for IPv6 but skip_ipv6 is set; IPv6 will not be notified")
	}
}

func (n *baseNotifier) wants(f Family) bool {
	if f == IPv4 {
		return n.want4
	}
	return n.want6
}

// needs reports whether failing to obtain an address of family f is an
// error worth retrying over, as opposed to a silently skipped family.
func (n *baseNotifier) needs(f Family) bool {
	if f == IPv4 {
		return n.want4 && n.opts.required4
	}
	return n.want6 && n.opts.required6
}

// Setup runs the concrete type's setup hook, marks the notifier started,
// and kicks off the first check in the background.
func (n *baseNotifier) Setup() error {
	if !n.started.SetToIf(false, true) {
		n.log.Warn("already started")
		return nil
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	if n.setupHook != nil {
		if err := n.setupHook(); err != nil {
			n.started.UnSet()
			n.cancel()
			return fmt.Errorf("notifier %s setup: %w", n.name, err)
		}
	}
	if n.checkOnce != nil {
		go func() {
			if err := n.Check(); err != nil {
				n.log.Debug("first check", zap.Error(err))
			}
		}()
	}
	return nil
}

// Teardown cancels pending checks and stops background activity. Safe to
// call when never started.
func (n *baseNotifier) Teardown() error {
	if !n.started.SetToIf(true, false) {
		return nil
	}
	n.cancel()
	n.retry.Cancel()
	n.mu.Lock()
	if n.pollTimer != nil {
		n.pollTimer.Stop()
		n.pollTimer = nil
	}
	n.mu.Unlock()
	if n.teardownHook != nil {
		if err := n.teardownHook(); err != nil {
			return fmt.Errorf("notifier %s teardown: %w", n.name, err)
		}
	}
	return nil
}

// Check obtains the current address immediately and notifies, superseding
// any scheduled retry or poll. Used for the initial check, on-demand
// triggers, and by event-driven notifiers when an event arrives.
func (n *baseNotifier) Check() error {
	if n.checkOnce == nil {
		return nil
	}
	if !n.started.IsSet() {
		return fmt.Errorf("notifier %s: %w", n.name, ErrNotStarted)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	n.retry.Cancel()
	if n.pollTimer != nil {
		n.pollTimer.Stop()
		n.pollTimer = nil
	}
	n.checkAndSchedule(n.seq)
	return nil
}

// scheduledCheck runs a retry or poll invocation, aborting if a newer
// check happened in the meantime or the notifier stopped.
func (n *baseNotifier) scheduledCheck(seq int) {
	if !n.started.IsSet() {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if seq != n.seq {
		n.log.Debug("scheduled check superseded", zap.Int("seq", seq))
		return
	}
	n.checkAndSchedule(seq)
}

// checkAndSchedule runs one check and schedules the follow-up: backoff
// retry on failure, or the next poll on success when polling is
// configured. Callers must hold the lock.
func (n *baseNotifier) checkAndSchedule(seq int) {
	err := n.checkOnce(n.ctx)
	if err != nil {
		if n.ctx.Err() != nil {
			return
		}
		n.log.Warn("check failed", zap.Error(err))
		metricNotifyFailed.Inc()
		n.retry.Failure(func() { n.scheduledCheck(seq) })
		return
	}
	n.retry.Success()
	if n.opts.successInterval > 0 {
		n.pollTimer = n.clk.AfterFunc(n.opts.successInterval, func() {
			n.scheduledCheck(seq)
		})
	}
}

// notifyIPv4 reports a candidate IPv4 address, dropping addresses the
// notifier's configuration filters out. Duplicate suppression is the
// updaters' job, not the notifier's.
func (n *baseNotifier) notifyIPv4(addr netip.Addr) bool {
	if !n.want4 || n.recv == nil {
		return false
	}
	if !usable(addr, n.opts.allowPrivate) {
		n.log.Debug("ignoring filtered IPv4 address", zap.Stringer("addr", addr))
		return false
	}
	n.log.Debug("notifying IPv4", zap.Stringer("addr", addr))
	metricNotify4.Inc()
	n.recv.Notify(n.name, IPv4, netip.PrefixFrom(addr, 32))
	return true
}

// notifyIPv6 reports a candidate IPv6 prefix. Full addresses are truncated
// to the configured prefix length first; only the network bits are the
// notifier's business.
func (n *baseNotifier) notifyIPv6(addr netip.Addr) bool {
	if !n.want6 || n.recv == nil {
		return false
	}
	if !usable(addr, n.opts.allowPrivate) {
		n.log.Debug("ignoring filtered IPv6 address", zap.Stringer("addr", addr))
		return false
	}
	prefix := canonical(netip.PrefixFrom(addr, n.opts.prefixLen))
	n.log.Debug("notifying IPv6 prefix", zap.Stringer("prefix", prefix))
	metricNotify6.Inc()
	n.recv.Notify(n.name, IPv6, prefix)
	return true
}
