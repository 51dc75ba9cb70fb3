// Package resilience wraps every gateway call with retry, backoff and
// circuit-breaking so that venue failures degrade into skipped operations
// instead of crashes.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when a call is short-circuited because the
// breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker's finite-state-machine state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer for log fields.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker is a consecutive-error circuit breaker with timed transitions:
// Closed -> Open after errorThreshold consecutive failures, Open -> HalfOpen
// after the cooldown elapses, HalfOpen -> Closed on the next success (or
// straight back to Open on failure).
type Breaker struct {
	mu                sync.Mutex
	state             BreakerState
	consecutiveErrors int
	errorThreshold    int
	cooldown          time.Duration
	openedAt          time.Time
	now               func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(errorThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		errorThreshold: errorThreshold,
		cooldown:       cooldown,
		now:            time.Now,
	}
}

// Allow reports whether a call may proceed, advancing Open to HalfOpen once
// the cooldown has elapsed. Callers must treat false as a cooperative
// cancellation signal and not retry within the cooldown window.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
	}
	return true
}

// Check is the error-returning form of Allow: ErrBreakerOpen while calls
// must short-circuit, nil when they may proceed.
func (b *Breaker) Check() error {
	if !b.Allow() {
		return ErrBreakerOpen
	}
	return nil
}

// Success records a successful call, closing the breaker and resetting the
// error counter.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveErrors = 0
	b.state = StateClosed
}

// Failure records a failed call. Reaching the threshold, or failing the
// half-open probe, opens the breaker for the cooldown duration.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveErrors++
	if b.state == StateHalfOpen || b.consecutiveErrors >= b.errorThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current FSM state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveErrors returns the rolling error count.
func (b *Breaker) ConsecutiveErrors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveErrors
}
