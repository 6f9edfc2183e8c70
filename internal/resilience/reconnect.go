package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of reconnection attempts
	Backoff     time.Duration // Initial backoff duration between attempts
	Multiplier  float64       // Backoff multiplier for exponential backoff
	MaxBackoff  time.Duration // Maximum backoff duration
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// Reconnector is a resumable bounded-retry connection attempt. It keeps an
// explicit attempt counter instead of ad hoc timers: once the attempt
// budget is exhausted, Run keeps failing fast until Reset is called, so
// callers decide when a new round of automatic retries is allowed.
type Reconnector struct {
	config *ReconnectConfig

	mu        sync.Mutex
	attempts  int
	exhausted bool
}

// NewReconnector creates a reconnector with the given configuration
func NewReconnector(config *ReconnectConfig) *Reconnector {
	if config == nil {
		config = DefaultReconnectConfig()
	}
	return &Reconnector{config: config}
}

// Run attempts fn until it succeeds, the attempt budget is exhausted, or
// ctx is canceled. Attempts consumed by earlier Run calls count against
// the same budget until Reset.
func (r *Reconnector) Run(ctx context.Context, fn func() error) error {
	r.mu.Lock()
	if r.exhausted {
		r.mu.Unlock()
		return fmt.Errorf("reconnect budget exhausted after %d attempts", r.config.MaxAttempts)
	}
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.mu.Lock()
		attempt := r.attempts
		if attempt >= r.config.MaxAttempts {
			r.exhausted = true
			r.mu.Unlock()
			return fmt.Errorf("failed to reconnect after %d attempts", r.config.MaxAttempts)
		}
		r.attempts++
		r.mu.Unlock()

		if err := fn(); err == nil {
			r.Reset()
			return nil
		}

		backoff := CalculateBackoff(attempt, r.config.Backoff, r.config.MaxBackoff, r.config.Multiplier)

		r.mu.Lock()
		remaining := r.config.MaxAttempts - r.attempts
		r.mu.Unlock()
		if remaining <= 0 {
			continue // Final failure is reported on the next loop iteration
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// Attempts returns the number of attempts consumed so far
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Exhausted reports whether the attempt budget has been used up
func (r *Reconnector) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exhausted
}

// Reset restores the full attempt budget. Callers invoke this on an
// explicit user-triggered retry.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
	r.exhausted = false
}
