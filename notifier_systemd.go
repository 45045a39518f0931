package ruddr

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// systemdNotifier checks a local interface like ifaceNotifier, but instead
// of relying on polling alone it subscribes to systemd-networkd state
// changes on the system bus and re-checks whenever one arrives. A long
// polling interval stays in place as a safety net, since networkd is not
// guaranteed to signal on a bare address change (e.g. a different DHCP
// lease at renewal).
type systemdNotifier struct {
	*ifaceNotifier
	conn    *dbus.Conn
	signals chan *dbus.Signal
	done    chan struct{}
}

// NewSystemdNotifier returns a notifier that re-checks the named interface
// whenever systemd-networkd reports a network state change. Recognized
// options are the same as the iface notifier's.
func NewSystemdNotifier(name string, cfg map[string]string, logger *zap.Logger) (Notifier, error) {
	return newSystemdNotifier(name, cfg, logger, nil)
}

func newSystemdNotifier(name string, cfg map[string]string, logger *zap.Logger, clk clock.Clock) (*systemdNotifier, error) {
	// Override the iface notifier's schedule: events carry most of the
	// load, so poll rarely and back off gently.
	withDefaults := map[string]string{
		"interval":           "21600",
		"retry_min_interval": "60",
		"retry_max_interval": "21600",
	}
	for k, v := range cfg {
		withDefaults[k] = v
	}
	inner, err := newIfaceNotifier(name, withDefaults, logger, clk)
	if err != nil {
		return nil, err
	}
	n := &systemdNotifier{ifaceNotifier: inner}
	n.setupHook = n.subscribe
	n.teardownHook = n.unsubscribe
	return n, nil
}

func (n *systemdNotifier) subscribe() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connecting to system bus: %w", err)
	}
	err = conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace("/org/freedesktop/network1"),
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to networkd signals: %w", err)
	}

	n.conn = conn
	n.signals = make(chan *dbus.Signal, 16)
	n.done = make(chan struct{})
	conn.Signal(n.signals)
	go n.listen()
	return nil
}

func (n *systemdNotifier) listen() {
	defer close(n.done)
	for sig := range n.signals {
		n.log.Debug("network state change signal", zap.String("path", string(sig.Path)))
		if err := n.Check(); err != nil {
			n.log.Debug("event-triggered check", zap.Error(err))
		}
	}
}

func (n *systemdNotifier) unsubscribe() error {
	// Closing the connection closes the signal channel, which ends the
	// listener goroutine.
	err := n.conn.Close()
	<-n.done
	if err != nil {
		return fmt.Errorf("closing system bus connection: %w", err)
	}
	return nil
}
