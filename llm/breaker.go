package llm

import (
	"fmt"
	"sync"
	"time"
)

// BreakerConfig configures circuit breaking for a backend.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before
	// opening the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long to wait before allowing a test
	// request through an open circuit.
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns sensible defaults for circuit breaking.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

// BreakerState is a snapshot of circuit breaker health.
type BreakerState struct {
	// Open indicates the circuit has tripped.
	Open bool `json:"open"`

	// FailureCount is the number of consecutive failures.
	FailureCount int `json:"failure_count"`

	// LastSuccess is the time of the last successful request.
	LastSuccess time.Time `json:"last_success,omitempty"`

	// LastFailure is the time of the last failed request.
	LastFailure time.Time `json:"last_failure,omitempty"`

	// OpenedAt is when the circuit was opened.
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker trips after consecutive failures and allows a single
// test request through once the recovery timeout passes (half-open).
type CircuitBreaker struct {
	mu     sync.Mutex
	config BreakerConfig
	state  BreakerState
}

// NewCircuitBreaker creates a breaker with the given config.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	return &CircuitBreaker{config: cfg}
}

// Allow reports whether a request may proceed. An open circuit allows
// a request again once the recovery timeout has passed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.Open {
		return true
	}
	return time.Since(b.state.OpenedAt) > b.config.RecoveryTimeout
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.LastSuccess = time.Now()
	b.state.FailureCount = 0
	b.state.Open = false
}

// RecordFailure counts a failure, opening the circuit at the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.LastFailure = time.Now()
	b.state.FailureCount++

	if b.state.FailureCount >= b.config.FailureThreshold {
		b.state.Open = true
		b.state.OpenedAt = time.Now()
	}
}

// State returns a snapshot of the breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// errCircuitOpen is returned without touching the backend.
func errCircuitOpen(name string) error {
	return NewTransientError(fmt.Errorf("circuit open for %s backend", name))
}
