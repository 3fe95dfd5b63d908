package llm

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed means calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the provider has failed repeatedly and calls fail fast.
	CircuitOpen
	// CircuitHalfOpen means one trial call is in flight.
	CircuitHalfOpen
)

// String returns a human-readable string for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long an open circuit waits before letting a trial call through.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig trips after 5 consecutive failures and tries again after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker fails calls to a provider fast after N consecutive failures.
// Only provider-side failures should be recorded; a caller's bad model name is not
// evidence that the provider is down.
type CircuitBreaker struct {
	mu               sync.RWMutex
	provider         string
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
	now              func() time.Time
}

// NewCircuitBreaker creates a circuit breaker for the named provider.
func NewCircuitBreaker(provider string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.Threshold < 1 {
		config.Threshold = DefaultCircuitBreakerConfig().Threshold
	}
	return &CircuitBreaker{
		provider:   provider,
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
		now:        time.Now,
	}
}

// Allow returns nil if a call may proceed, or an *Error of type ErrorTypeCircuitOpen.
// An open circuit turns half-open once ResetAfter has passed and admits a single trial call.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		since := cb.now().Sub(cb.lastFailure)
		if since > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return nil
		}
		return cb.openError(fmt.Sprintf("provider %s appears to be down (failed %d times, last failure %v ago)",
			cb.provider, cb.consecutiveFails, since.Round(time.Second)))
	case CircuitHalfOpen:
		return cb.openError(fmt.Sprintf("provider %s is being tested for recovery", cb.provider))
	default:
		return cb.openError(fmt.Sprintf("circuit breaker in unknown state: %v", cb.state))
	}
}

func (cb *CircuitBreaker) openError(msg string) *Error {
	e := NewError(ErrorTypeCircuitOpen, msg, true, nil)
	e.Provider = cb.provider
	return e
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure increments the failure count and trips the circuit if threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		return
	}

	if cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// Record feeds the outcome of a call into the breaker. Failures that say nothing
// about provider health (auth, unknown model, empty output) leave a closed
// circuit untouched. A trial call always resolves a half-open circuit: the provider
// answered, so a caller-side failure closes it.
func (cb *CircuitBreaker) Record(err error) {
	if err != nil && isProviderFailure(err) {
		cb.RecordFailure()
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil || cb.state == CircuitHalfOpen {
		cb.consecutiveFails = 0
		cb.state = CircuitClosed
	}
}

func isProviderFailure(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeEndpoint, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveFails
}
