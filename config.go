package ruddr

import (
	"go.uber.org/zap"
)

// Config is the declarative description of a whole synchronizer: where to
// keep confirmed-publish state, the notifiers and updaters to run, and how
// they bind together. Component maps are plain string key/value options so
// any config format can feed them; the "type" key selects the registered
// constructor.
type Config struct {
	Addrfile  string                       `yaml:"addrfile"`
	Notifiers map[string]map[string]string `yaml:"notifiers"`
	Updaters  map[string]map[string]string `yaml:"updaters"`
}

// NotifierFactory builds a notifier from its config map.
type NotifierFactory func(name string, cfg map[string]string, logger *zap.Logger) (Notifier, error)

// UpdaterFactory builds an updater from its config map.
type UpdaterFactory func(name string, cfg map[string]string, logger *zap.Logger) (Updater, error)

var notifierTypes = map[string]NotifierFactory{
	"iface":   NewIfaceNotifier,
	"web":     NewWebNotifier,
	"static":  NewStaticNotifier,
	"systemd": NewSystemdNotifier,
}

var updaterTypes = map[string]UpdaterFactory{
	"standard":   NewStandardUpdater,
	"duckdns":    NewDuckDNSUpdater,
	"he":         NewHEUpdater,
	"cloudflare": NewCloudflareUpdater,
}

// RegisterNotifierType makes a custom notifier type available to
// BuildManager under the given type name.
func RegisterNotifierType(typ string, f NotifierFactory) { notifierTypes[typ] = f }

// RegisterUpdaterType makes a custom updater type available to
// BuildManager under the given type name.
func RegisterUpdaterType(typ string, f UpdaterFactory) { updaterTypes[typ] = f }

// BuildManager constructs a Manager from config. A component with broken
// config is logged and skipped so the independently-configured rest still
// runs; BuildManager fails outright only when the addrfile path is missing
// or no updater could be configured at all.
func BuildManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addrfile == "" {
		return nil, configErrorf("addrfile", "no addrfile path configured")
	}
	m := NewManager(OpenAddrfile(cfg.Addrfile, logger), logger)

	for name, options := range cfg.Notifiers {
		factory, ok := notifierTypes[options["type"]]
		if !ok {
			logger.Error("unknown notifier type; skipping",
				zap.String("notifier", name), zap.String("type", options["type"]))
			continue
		}
		n, err := factory(name, options, logger)
		if err != nil {
			logger.Error("notifier configuration failed; skipping",
				zap.String("notifier", name), zap.Error(err))
			continue
		}
		if err := m.AddNotifier(n); err != nil {
			logger.Error("skipping notifier", zap.String("notifier", name), zap.Error(err))
		}
	}

	bound := 0
	for name, options := range cfg.Updaters {
		factory, ok := updaterTypes[options["type"]]
		if !ok {
			logger.Error("unknown updater type; skipping",
				zap.String("updater", name), zap.String("type", options["type"]))
			continue
		}
		u, err := factory(name, options, logger)
		if err != nil {
			logger.Error("updater configuration failed; skipping",
				zap.String("updater", name), zap.Error(err))
			continue
		}
		minRetry, err := durationOption(name, options, "min_retry_interval", DefaultRetryMin)
		if err != nil {
			logger.Error("updater configuration failed; skipping",
				zap.String("updater", name), zap.Error(err))
			continue
		}
		if err := m.AddUpdater(u, minRetry); err != nil {
			logger.Error("skipping updater", zap.String("updater", name), zap.Error(err))
			continue
		}

		notifier4 := options["notifier4"]
		notifier6 := options["notifier6"]
		if both := options["notifier"]; both != "" {
			if notifier4 == "" {
				notifier4 = both
			}
			if notifier6 == "" {
				notifier6 = both
			}
		}
		if err := m.Bind(name, notifier4, notifier6); err != nil {
			logger.Error("updater binding failed; it will not receive addresses",
				zap.String("updater", name), zap.Error(err))
			continue
		}
		bound++
	}
	if bound == 0 {
		return nil, configErrorf("updaters", "no updater was configured successfully")
	}
	return m, nil
}
