// Package backoff computes reconnect delays and attempt caps.
package backoff

import "time"

// DefaultMaxDelay caps every computed delay.
const DefaultMaxDelay = 30 * time.Second

// Scheduler is a pure function of the attempt number. It keeps no state;
// the caller owns the attempt counter.
type Scheduler struct {
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Cap (DefaultMaxDelay when zero)
	MaxAttempts int           // Attempts allowed per reconnect cycle
}

// New returns a Scheduler capped at DefaultMaxDelay.
func New(base time.Duration, maxAttempts int) Scheduler {
	return Scheduler{
		BaseDelay:   base,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: maxAttempts,
	}
}

// DelayFor returns min(base * 2^(attempt-1), max). Attempts below 1 are
// treated as 1.
func (s Scheduler) DelayFor(attempt int) time.Duration {
	maxDelay := s.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if s.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := s.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay || delay <= 0 {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// ShouldRetry reports whether attempt is still within the cap.
func (s Scheduler) ShouldRetry(attempt int) bool {
	return attempt <= s.MaxAttempts
}
