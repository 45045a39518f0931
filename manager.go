package ruddr

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tevino/abool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// binding names the notifier feeding each address family of one updater.
// Both sides may name the same notifier.
type binding struct {
	notifier4 string
	notifier6 string
}

// Manager wires notifiers to updaters and runs their shared lifecycle.
// Notifiers report current addresses to the Manager, which fans each
// report out to the updaters bound to that notifier for that family.
type Manager struct {
	log   *zap.Logger
	clk   clock.Clock
	addrs *Addrfile

	notifiers map[string]Notifier
	updaters  map[string]*updaterCore
	bindings  map[string]binding

	started *abool.AtomicBool
	running []Notifier
}

// NewManager returns a Manager persisting confirmed publishes to addrs.
func NewManager(addrs *Addrfile, logger *zap.Logger) *Manager {
	return newManager(addrs, logger, nil)
}

func newManager(addrs *Addrfile, logger *zap.Logger, clk clock.Clock) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		log:       logger.Named("manager"),
		clk:       clk,
		addrs:     addrs,
		notifiers: make(map[string]Notifier),
		updaters:  make(map[string]*updaterCore),
		bindings:  make(map[string]binding),
		started:   abool.New(),
	}
}

// AddNotifier registers a notifier under its name.
func (m *Manager) AddNotifier(n Notifier) error {
	if _, dup := m.notifiers[n.Name()]; dup {
		return configErrorf(n.Name(), "duplicate notifier name")
	}
	m.notifiers[n.Name()] = n
	return nil
}

// AddUpdater registers an updater under its name. minRetry sets the
// updater's minimum retry interval; zero means DefaultRetryMin.
func (m *Manager) AddUpdater(u Updater, minRetry time.Duration) error {
	if _, dup := m.updaters[u.Name()]; dup {
		return configErrorf(u.Name(), "duplicate updater name")
	}
	m.updaters[u.Name()] = newUpdaterCore(u, m.addrs, minRetry, m.log, m.clk)
	return nil
}

// Bind connects an updater to the notifiers that will feed it: notifier4
// for IPv4 and notifier6 for IPv6. Either may be empty to leave that
// family unbound, but not both.
func (m *Manager) Bind(updater, notifier4, notifier6 string) error {
	if _, ok := m.updaters[updater]; !ok {
		return configErrorf(updater, "binding references unknown updater")
	}
	if notifier4 == "" && notifier6 == "" {
		return configErrorf(updater, "binding names no notifier for either family")
	}
	for _, name := range []string{notifier4, notifier6} {
		if name == "" {
			continue
		}
		if _, ok := m.notifiers[name]; !ok {
			return configErrorf(updater, "binding references unknown notifier %q", name)
		}
	}
	m.bindings[updater] = binding{notifier4: notifier4, notifier6: notifier6}
	return nil
}

// Start attaches every bound notifier and sets it up. Each distinct
// notifier is set up exactly once no matter how many bindings name it;
// notifiers nothing is bound to are left alone. If any setup fails, the
// notifiers already running are torn down again and Start reports the
// failure without leaving anything half-started.
func (m *Manager) Start() error {
	if !m.started.SetToIf(false, true) {
		return fmt.Errorf("manager already started")
	}
	for _, u := range m.updaters {
		u.resume()
	}
	for name, n := range m.notifiers {
		bound4, bound6 := false, false
		for _, b := range m.bindings {
			bound4 = bound4 || b.notifier4 == name
			bound6 = bound6 || b.notifier6 == name
		}
		if !bound4 && !bound6 {
			m.log.Warn("notifier is not bound to any updater; it will not run",
				zap.String("notifier", name))
			continue
		}
		n.attach(m, bound4, bound6)

		if err := n.Setup(); err != nil {
			m.log.Error("notifier setup failed; stopping the ones already running",
				zap.String("notifier", name), zap.Error(err))
			m.teardownRunning()
			m.started.UnSet()
			return fmt.Errorf("starting notifier %s: %w", name, err)
		}
		m.running = append(m.running, n)
		m.log.Info("notifier running", zap.String("notifier", name))
	}
	return nil
}

// Stop tears down every running notifier and cancels pending publish
// retries. Teardown failures are aggregated and reported but never stop
// the rest of the shutdown.
func (m *Manager) Stop() error {
	if !m.started.SetToIf(true, false) {
		return ErrNotStarted
	}
	err := m.teardownRunning()
	for _, u := range m.updaters {
		u.cancelRetries()
	}
	return err
}

func (m *Manager) teardownRunning() error {
	var errs error
	for _, n := range m.running {
		if err := n.Teardown(); err != nil {
			m.log.Error("notifier teardown failed",
				zap.String("notifier", n.Name()), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	m.running = nil
	return errs
}

// Notify fans a notifier's address report out to the updaters bound to it
// for that family. Updaters run concurrently with each other; Notify
// returns when all of them have finished their publish pass, so a
// notifier's next check never overlaps its previous report.
func (m *Manager) Notify(notifier string, family Family, addr netip.Prefix) {
	if !m.started.IsSet() {
		m.log.Warn("dropping notify on stopped manager",
			zap.String("notifier", notifier), zap.Stringer("addr", addr))
		return
	}
	var g errgroup.Group
	for name, b := range m.bindings {
		bound := b.notifier4
		if family == IPv6 {
			bound = b.notifier6
		}
		if bound != notifier {
			continue
		}
		u := m.updaters[name]
		g.Go(func() error {
			u.update(family, addr)
			return nil
		})
	}
	g.Wait()
}

// TriggerAll asks every running notifier that supports on-demand checks
// to check now. Notifiers without the capability are skipped.
func (m *Manager) TriggerAll() error {
	if !m.started.IsSet() {
		return ErrNotStarted
	}
	var errs error
	for _, n := range m.running {
		c, ok := n.(checkNotifier)
		if !ok {
			continue
		}
		if err := c.Check(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("triggering %s: %w", n.Name(), err))
		}
	}
	return errs
}
