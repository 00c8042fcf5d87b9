// Package breaker provides a concurrency-safe three-state circuit breaker for
// guarding calls to unreliable external dependencies.
package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's position in its closed/open/half-open cycle.
type State int

const (
	// StateClosed allows all requests.
	StateClosed State = iota
	// StateOpen rejects requests until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen lets callers probe the dependency; a success closes the
	// breaker again, a failure reopens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker counts consecutive failures and stops admitting requests
// once the threshold is reached. All state is guarded by a single mutex that
// is never held across a network call.
type CircuitBreaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	logger           *slog.Logger

	mu              sync.Mutex
	failures        int
	lastFailureTime time.Time
	state           State
}

// New creates a closed breaker that opens after failureThreshold consecutive
// failures and admits a probe after recoveryTimeout has elapsed.
func New(failureThreshold int, recoveryTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		logger:           logger,
		state:            StateClosed,
	}
}

// AllowRequest reports whether a call may proceed. When the breaker is open
// and the recovery timeout has elapsed, it transitions to half-open and
// admits the caller as a probe; the caller must report the outcome via
// RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.recoveryTimeout {
			cb.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure counter and closes the breaker. A success
// while half-open confirms recovery.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = StateClosed
}

// RecordFailure increments the failure counter and refreshes the failure
// timestamp, restarting the recovery window. Reaching the threshold, or
// failing while half-open, (re)opens the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = StateOpen

		if cb.logger != nil {
			cb.logger.Warn("circuit breaker opened",
				slog.Int("failures", cb.failures),
				slog.Duration("recovery_timeout", cb.recoveryTimeout),
			)
		}
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Reset unconditionally returns the breaker to closed and clears the failure
// counter and timestamp.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.lastFailureTime = time.Time{}
	cb.state = StateClosed
}
