package ruddr

import (
	"errors"
	"fmt"
)

// ErrNotStarted is returned when an operation that needs a running Manager
// is invoked before Start or after Stop.
var ErrNotStarted = errors.New("manager is not started")

// ConfigError describes invalid or missing configuration for a single
// notifier or updater. It is fatal only for the component it names; other
// components still start.
type ConfigError struct {
	Component string // notifier or updater name
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config for %s: %s", e.Component, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(component, format string, args ...any) error {
	return &ConfigError{Component: component, Err: fmt.Errorf(format, args...)}
}

// FatalError wraps a publish failure that retrying cannot fix, such as
// rejected credentials or a record that does not exist. The affected record
// is halted until the next start instead of being retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as permanently fatal for the record being published.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
