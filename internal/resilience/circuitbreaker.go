package resilience

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String renders the state the way an operator would want to see it
// in a log line or status endpoint.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type errCircuitOpen struct{}

func (errCircuitOpen) Error() string { return "circuit breaker is open" }

// ErrCircuitOpen is returned by CircuitBreaker.Allow when the breaker is
// open and failing fast.
var ErrCircuitOpen error = errCircuitOpen{}

// CircuitBreaker implements the per-endpoint three-state machine:
// consecutive-failure counting in Closed, fail-fast in Open, a single
// probe in HalfOpen. It is built directly on sync.Mutex and time.Time
// rather than wrapping a breaker library: the operator surface needs
// manual Reset/Open and a TimeUntilReset query as first-class methods,
// which means owning the state transitions directly rather than
// reaching through a library's Execute callback to get at them.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	timeout   time.Duration

	state        State
	failureCount int
	openedAt     time.Time
}

// NewCircuitBreaker builds a breaker that trips to Open after threshold
// consecutive failures and probes again (HalfOpen) after timeout.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
		state:     StateClosed,
	}
}

// Allow reports whether a call may proceed, lazily transitioning
// Open -> HalfOpen once timeout has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) >= cb.timeout {
			cb.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// Success records a successful call.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failureCount = 0
	case StateClosed:
		cb.failureCount = 0
	}
}

// Failure records a failed call, tripping the breaker to Open if the
// consecutive-failure threshold is reached (or immediately, from
// HalfOpen's single probe).
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.trip()
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.threshold {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
}

// Do runs op if the breaker allows it, recording the outcome.
func (cb *CircuitBreaker) Do(op func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := op()
	if err != nil {
		cb.Failure()
		return err
	}
	cb.Success()
	return nil
}

// State returns the current state without triggering a lazy transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the current consecutive-failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// TimeUntilReset returns how long until an Open breaker becomes
// eligible for a HalfOpen probe, or 0 if not Open.
func (cb *CircuitBreaker) TimeUntilReset() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.timeout - time.Since(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset forces the breaker back to Closed with a zeroed failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.openedAt = time.Time{}
}

// Open forces the breaker to Open, for operator use.
func (cb *CircuitBreaker) Open() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip()
}
