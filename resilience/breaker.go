package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/velzox/apimon/core"
)

// ErrBreakerOpen is returned when the circuit is open and the call is
// rejected without being attempted.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	// StateClosed allows all calls through.
	StateClosed State = iota
	// StateOpen rejects every call immediately.
	StateOpen
	// StateHalfOpen allows one probe call to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a probe call
	// is allowed through.
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns the delivery-sink defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker. It is safe for
// concurrent use.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger core.Logger

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probeBusy bool
}

// NewBreaker builds a closed breaker.
func NewBreaker(name string, cfg BreakerConfig, logger core.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Breaker{name: name, cfg: cfg, logger: logger}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if !b.acquire() {
		return ErrBreakerOpen
	}

	err := fn()
	b.record(err)
	return err
}

// State returns the current state, advancing open to half-open when the
// recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// One probe at a time.
		if b.probeBusy {
			return false
		}
		b.probeBusy = true
		return true
	default:
		return false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probeBusy = false
		if err == nil {
			b.transitionLocked(StateClosed)
			b.failures = 0
		} else {
			b.transitionLocked(StateOpen)
			b.openedAt = time.Now()
		}
		return
	}

	if err == nil {
		b.failures = 0
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.transitionLocked(StateOpen)
		b.openedAt = time.Now()
	}
}

func (b *Breaker) advanceLocked() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
		b.transitionLocked(StateHalfOpen)
		b.probeBusy = false
	}
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	b.logger.Info("Circuit breaker state change", map[string]interface{}{
		"breaker": b.name,
		"from":    b.state.String(),
		"to":      to.String(),
	})
	b.state = to
}
