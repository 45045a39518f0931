package ruddr

import (
	"strconv"
	"time"
)

// notifierDefaults carries the schedule each notifier type starts from;
// event-driven notifiers poll far less often than pure pollers.
type notifierDefaults struct {
	retryMin        time.Duration
	retryMax        time.Duration
	successInterval time.Duration
}

// commonNotifierOptions parses the options every notifier type shares.
// Intervals are given in seconds; an "interval" of 0 disables polling
// entirely, leaving only event-triggered checks.
func commonNotifierOptions(name string, cfg map[string]string, d notifierDefaults) (notifierOptions, error) {
	var opts notifierOptions
	var err error

	if opts.skip4, err = boolOption(name, cfg, "skip_ipv4", false); err != nil {
		return opts, err
	}
	if opts.skip6, err = boolOption(name, cfg, "skip_ipv6", false); err != nil {
		return opts, err
	}
	// An updater bound for IPv4 usually cannot do its job without one, so
	// failing to find an IPv4 address is an error by default. IPv6 is
	// still the exception on many networks and defaults to best-effort.
	if opts.required4, err = boolOption(name, cfg, "ipv4_required", !opts.skip4); err != nil {
		return opts, err
	}
	if opts.required6, err = boolOption(name, cfg, "ipv6_required", false); err != nil {
		return opts, err
	}
	if opts.prefixLen, err = intOption(name, cfg, "ipv6_prefix", 64); err != nil {
		return opts, err
	}
	if opts.allowPrivate, err = boolOption(name, cfg, "allow_private", false); err != nil {
		return opts, err
	}
	if opts.successInterval, err = durationOption(name, cfg, "interval", d.successInterval); err != nil {
		return opts, err
	}
	if opts.retryMin, err = durationOption(name, cfg, "retry_min_interval", d.retryMin); err != nil {
		return opts, err
	}
	if opts.retryMax, err = durationOption(name, cfg, "retry_max_interval", d.retryMax); err != nil {
		return opts, err
	}
	if opts.retryMin <= 0 {
		return opts, configErrorf(name, "'retry_min_interval' must be positive")
	}
	if opts.retryMax < opts.retryMin {
		return opts, configErrorf(name, "'retry_max_interval' must not be less than 'retry_min_interval'")
	}
	return opts, nil
}

func boolOption(component string, cfg map[string]string, key string, def bool) (bool, error) {
	raw, ok := cfg[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, configErrorf(component, "%q is not a valid value for '%s'", raw, key)
	}
	return v, nil
}

func intOption(component string, cfg map[string]string, key string, def int) (int, error) {
	raw, ok := cfg[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, configErrorf(component, "%q is not a valid value for '%s'", raw, key)
	}
	return v, nil
}

// durationOption reads an interval option given as a whole number of
// seconds. Negative values are rejected; zero is allowed and means
// "never" for the options that accept it.
func durationOption(component string, cfg map[string]string, key string, def time.Duration) (time.Duration, error) {
	raw, ok := cfg[key]
	if !ok || raw == "" {
		return def, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, configErrorf(component, "%q is not a valid number of seconds for '%s'", raw, key)
	}
	return time.Duration(secs) * time.Second, nil
}
