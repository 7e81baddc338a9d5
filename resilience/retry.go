// Package resilience protects alert delivery against flaky notification
// backends: bounded retries with exponential backoff, and a per-sink circuit
// breaker that stops hammering a channel that keeps failing.
package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/velzox/apimon/core"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig provides the delivery defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry executes fn with exponential backoff until it succeeds, the attempts
// are exhausted, or the context ends.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == config.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
		if config.JitterEnabled {
			// Desynchronizes concurrent delivery workers retrying the same
			// broken backend.
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("all %d attempts failed: %v: %w", config.MaxAttempts, lastErr, core.ErrDeliveryFailed)
}

// RetryWithBreaker runs fn under both retry and circuit breaker protection.
// An open breaker fails fast without consuming retry budget sleeps.
func RetryWithBreaker(ctx context.Context, config *RetryConfig, cb *Breaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		return cb.Execute(fn)
	})
}
