package infra

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // failing, reject requests
	BreakerHalfOpen                     // probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker isolates a flaky upstream: after failureThreshold consecutive
// failures it rejects calls for cooldown, then lets probes through until
// successThreshold successes close it again. Thread-safe.
type CircuitBreaker struct {
	name string
	mu   sync.Mutex

	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time

	failureThreshold int
	successThreshold int
	cooldown         time.Duration
}

// NewCircuitBreaker creates a breaker with the given thresholds.
func NewCircuitBreaker(name string, failureThreshold, successThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(cb.lastFailure) > cb.cooldown {
			cb.state = BreakerHalfOpen
			cb.successes = 0
			slog.Info("circuit breaker half-open", "name", cb.name)
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
			slog.Info("circuit breaker closed", "name", cb.name)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = BreakerOpen
			slog.Warn("circuit breaker open", "name", cb.name, "failures", cb.failures)
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.successes = 0
		slog.Warn("circuit breaker reopened", "name", cb.name)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
