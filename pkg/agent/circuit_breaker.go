package agent

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of an agent's failure breaker
type BreakerState string

const (
	// BreakerClosed lets assignments through
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects assignments until the cooldown passes
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets assignments through while probing recovery
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitBreaker guards one agent against repeated execution failures. An
// agent whose breaker is open reports error status and receives no work
// until the cooldown elapses.
type CircuitBreaker struct {
	mu           sync.RWMutex
	state        BreakerState
	failures     int
	successCount int
	lastFailure  time.Time

	failureThreshold int
	successThreshold int
	cooldown         time.Duration
}

// NewCircuitBreaker creates a breaker with the given trip threshold and
// cooldown. Zero values fall back to 3 consecutive failures and a 30s
// cooldown.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: 2,
		cooldown:         cooldown,
	}
}

// RecordSuccess records a successful execution
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successCount = 0
		}
	case BreakerClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed execution. It returns an error when the
// failure trips or re-trips the breaker.
func (cb *CircuitBreaker) RecordFailure() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == BreakerHalfOpen {
		cb.state = BreakerOpen
		cb.successCount = 0
		return fmt.Errorf("breaker reopened during recovery probe")
	}

	if cb.failures >= cb.failureThreshold {
		cb.state = BreakerOpen
		return fmt.Errorf("breaker tripped after %d consecutive failures", cb.failures)
	}
	return nil
}

// Allow reports whether work may be assigned. An open breaker whose cooldown
// has elapsed transitions to half-open and allows one probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(cb.lastFailure) > cb.cooldown {
			cb.state = BreakerHalfOpen
			cb.successCount = 0
			return true
		}
	}
	return false
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker back to closed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = BreakerClosed
	cb.failures = 0
	cb.successCount = 0
	cb.lastFailure = time.Time{}
}
