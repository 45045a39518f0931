package ruddr

import (
	"errors"
	"net/netip"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeNotifier counts lifecycle calls for the Manager tests.
type fakeNotifier struct {
	name        string
	setupErr    error
	teardownErr error

	mu           sync.Mutex
	recv         Receiver
	want4, want6 bool
	setups       int
	teardowns    int
	checks       int
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Setup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setupErr != nil {
		return f.setupErr
	}
	f.setups++
	return nil
}

func (f *fakeNotifier) Teardown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	return f.teardownErr
}

func (f *fakeNotifier) Check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return nil
}

func (f *fakeNotifier) attach(recv Receiver, bound4, bound6 bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recv = recv
	f.want4, f.want6 = bound4, bound6
}

func (f *fakeNotifier) wants(fam Family) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fam == IPv4 {
		return f.want4
	}
	return f.want6
}

func (f *fakeNotifier) counts() (setups, teardowns, checks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setups, f.teardowns, f.checks
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(OpenAddrfile(filepath.Join(t.TempDir(), "addrfile.json"), nil), nil)
}

func TestManagerRoutesNotifies(t *testing.T) {
	m := newTestManager(t)
	n := &fakeNotifier{name: "n1"}
	up := &fakeProvider{name: "up", targets: []string{"example.com"}}
	if err := m.AddNotifier(n); err != nil {
		t.Fatal(err)
	}
	if err := m.AddUpdater(up, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := m.Bind("up", "n1", "n1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %s", err)
	}
	defer m.Stop()

	m.Notify("n1", IPv4, netip.MustParsePrefix("198.51.100.1/32"))
	got := up.calls4()
	if len(got) != 1 || got[0].addr != netip.MustParseAddr("198.51.100.1") {
		t.Fatalf("expected one publish of 198.51.100.1; got %+v", got)
	}
	key := AddrKey{Updater: "up", Family: IPv4, Target: "example.com"}
	if _, ok := m.addrs.Get(key); !ok {
		t.Fatal("expected confirmed addrfile entry after publish")
	}

	// Reports from notifiers nothing is bound to go nowhere.
	m.Notify("other", IPv4, netip.MustParsePrefix("198.51.100.2/32"))
	if got := up.calls4(); len(got) != 1 {
		t.Fatalf("expected unbound notifier's report to be dropped; got %+v", got)
	}
}

func TestManagerFansOutToAllBoundUpdaters(t *testing.T) {
	m := newTestManager(t)
	n := &fakeNotifier{name: "n1"}
	up1 := &fakeProvider{name: "up1", targets: []string{"a.example.com"}}
	up2 := &fakeProvider{name: "up2", targets: []string{"b.example.com"}}
	m.AddNotifier(n)
	m.AddUpdater(up1, time.Minute)
	m.AddUpdater(up2, time.Minute)
	m.Bind("up1", "n1", "")
	m.Bind("up2", "n1", "")
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %s", err)
	}
	defer m.Stop()

	m.Notify("n1", IPv4, netip.MustParsePrefix("198.51.100.1/32"))
	if len(up1.calls4()) != 1 || len(up2.calls4()) != 1 {
		t.Fatalf("expected both updaters to publish; got %d and %d",
			len(up1.calls4()), len(up2.calls4()))
	}
}

func TestManagerStartSkipsUnboundNotifiers(t *testing.T) {
	m := newTestManager(t)
	bound := &fakeNotifier{name: "bound"}
	idle := &fakeNotifier{name: "idle"}
	up := &fakeProvider{name: "up", targets: []string{"example.com"}}
	m.AddNotifier(bound)
	m.AddNotifier(idle)
	m.AddUpdater(up, time.Minute)
	m.Bind("up", "bound", "")
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %s", err)
	}
	defer m.Stop()

	if setups, _, _ := bound.counts(); setups != 1 {
		t.Fatalf("expected bound notifier set up once; got %d", setups)
	}
	if setups, _, _ := idle.counts(); setups != 0 {
		t.Fatalf("expected idle notifier left alone; got %d setups", setups)
	}
}

func TestManagerStartRollsBackOnFailure(t *testing.T) {
	m := newTestManager(t)
	good := &fakeNotifier{name: "good"}
	bad := &fakeNotifier{name: "bad", setupErr: errors.New("no bus")}
	up := &fakeProvider{name: "up", targets: []string{"example.com"}}
	m.AddNotifier(good)
	m.AddNotifier(bad)
	m.AddUpdater(up, time.Minute)
	m.Bind("up", "good", "bad")

	if err := m.Start(); err == nil {
		t.Fatal("expected Start to fail when a notifier cannot set up")
	}
	// Whatever got started must have been stopped again.
	if setups, teardowns, _ := good.counts(); setups != teardowns {
		t.Fatalf("expected rollback to tear down started notifiers; setups=%d teardowns=%d",
			setups, teardowns)
	}
	if err := m.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted after failed Start; got %v", err)
	}
}

func TestManagerStopIsTolerant(t *testing.T) {
	m := newTestManager(t)
	n1 := &fakeNotifier{name: "n1", teardownErr: errors.New("flaky")}
	n2 := &fakeNotifier{name: "n2"}
	up := &fakeProvider{name: "up", targets: []string{"example.com"}}
	m.AddNotifier(n1)
	m.AddNotifier(n2)
	m.AddUpdater(up, time.Minute)
	m.Bind("up", "n1", "n2")
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %s", err)
	}

	err := m.Stop()
	if err == nil {
		t.Fatal("expected Stop to report the teardown failure")
	}
	if _, teardowns, _ := n2.counts(); teardowns != 1 {
		t.Fatal("expected the other notifier to be torn down despite the failure")
	}

	m.Notify("n1", IPv4, netip.MustParsePrefix("198.51.100.1/32"))
	if got := up.calls4(); len(got) != 0 {
		t.Fatalf("expected notify after Stop to be dropped; got %+v", got)
	}
}

func TestManagerTriggerAll(t *testing.T) {
	m := newTestManager(t)
	n := &fakeNotifier{name: "n1"}
	up := &fakeProvider{name: "up", targets: []string{"example.com"}}
	m.AddNotifier(n)
	m.AddUpdater(up, time.Minute)
	m.Bind("up", "n1", "")

	if err := m.TriggerAll(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted before Start; got %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %s", err)
	}
	defer m.Stop()
	if err := m.TriggerAll(); err != nil {
		t.Fatalf("TriggerAll failed: %s", err)
	}
	if _, _, checks := n.counts(); checks != 1 {
		t.Fatalf("expected one on-demand check; got %d", checks)
	}
}

func TestManagerRejectsBrokenBindings(t *testing.T) {
	m := newTestManager(t)
	up := &fakeProvider{name: "up", targets: []string{"example.com"}}
	m.AddUpdater(up, time.Minute)

	if err := m.Bind("nope", "n1", ""); err == nil {
		t.Error("expected error binding an unknown updater")
	}
	if err := m.Bind("up", "n1", ""); err == nil {
		t.Error("expected error binding an unknown notifier")
	}
	if err := m.Bind("up", "", ""); err == nil {
		t.Error("expected error binding no notifier at all")
	}
}
