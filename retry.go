package ruddr

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Default backoff bounds, used when a component does not configure its own.
const (
	DefaultRetryMin = 5 * time.Minute
	DefaultRetryMax = 24 * time.Hour
)

// RetryScheduler runs one exponential-backoff timer for a single owner (a
// notifier's check loop, or one family of one updater). The first failure
// schedules a retry after the minimum interval; each consecutive failure
// doubles the interval up to the maximum; a success resets it.
//
// A fresh notification supersedes whatever a pending retry would have done,
// so owners call Cancel before acting on new input. Cancel discards the
// pending timer without resetting the interval: if the new attempt also
// fails, backoff continues from where it was.
type RetryScheduler struct {
	clock clock.Clock
	log   *zap.Logger
	min   time.Duration
	max   time.Duration

	mu       sync.Mutex
	interval time.Duration // 0 until the first failure after a success
	timer    *clock.Timer
}

// NewRetryScheduler returns a scheduler with the given backoff bounds.
// Non-positive bounds fall back to the defaults.
func NewRetryScheduler(min, max time.Duration, logger *zap.Logger) *RetryScheduler {
	return newRetryScheduler(min, max, clock.New(), logger)
}

func newRetryScheduler(min, max time.Duration, clk clock.Clock, logger *zap.Logger) *RetryScheduler {
	if min <= 0 {
		min = DefaultRetryMin
	}
	if max <= 0 {
		max = DefaultRetryMax
	}
	if max < min {
		max = min
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryScheduler{clock: clk, log: logger, min: min, max: max}
}

// Failure records a failed attempt and arms a one-shot timer that will run
// retry after the current backoff interval. Any previously pending timer is
// replaced. The callback runs on the timer's own goroutine and feeds its
// result back in through Success or Failure.
func (s *RetryScheduler) Failure(retry func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interval == 0 {
		s.interval = s.min
	} else if s.interval *= 2; s.interval > s.max {
		s.interval = s.max
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.log.Info("attempt failed; retry scheduled",
		zap.Duration("interval", s.interval))
	s.timer = s.clock.AfterFunc(s.interval, retry)
}

// Success resets the backoff interval and cancels any pending retry.
func (s *RetryScheduler) Success() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = 0
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Cancel discards a pending retry without resetting the backoff interval.
// Owners call this when fresh input arrives: the scheduled retry would act
// on stale data, but the failure streak is not over yet.
func (s *RetryScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Interval returns the current backoff interval; zero means no failures
// since the last success.
func (s *RetryScheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
