package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velzox/apimon/core"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		calls++
		return errors.New("down hard")
	})
	assert.ErrorIs(t, err, core.ErrDeliveryFailed)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, &RetryConfig{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}, func() error {
		calls++
		cancel()
		return errors.New("failing")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Hour}, nil)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrBreakerOpen)
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Hour}, nil)
	boom := errors.New("boom")

	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })
	require.NoError(t, b.Execute(func() error { return nil }))
	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })

	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond}, nil)

	_ = b.Execute(func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond}, nil)

	_ = b.Execute(func() error { return errors.New("boom") })
	time.Sleep(15 * time.Millisecond)

	_ = b.Execute(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, b.State())
}

func TestRetryWithBreakerFailsFastWhenOpen(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}, nil)
	_ = b.Execute(func() error { return errors.New("boom") })

	calls := 0
	err := RetryWithBreaker(context.Background(), fastRetryConfig(), b, func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, core.ErrDeliveryFailed)
	assert.Zero(t, calls)
}
