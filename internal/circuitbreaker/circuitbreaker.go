// Package circuitbreaker guards the outbound processor connection. After a
// run of transport failures the circuit opens and calls fail fast instead of
// tying request handlers up in timeouts against a dead processor.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of the circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

const (
	defaultFailureThreshold  = 5
	defaultOpenTimeout       = 30 * time.Second
	defaultHalfOpenSuccesses = 2
)

// Breaker is a single circuit for the one processor the service talks to.
type Breaker struct {
	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time

	failureThreshold  int
	openTimeout       time.Duration
	halfOpenSuccesses int
}

// New creates a Breaker with default settings.
func New() *Breaker {
	return NewWithSettings(defaultFailureThreshold, defaultOpenTimeout, defaultHalfOpenSuccesses)
}

// NewWithSettings creates a Breaker with custom thresholds.
func NewWithSettings(failureThreshold int, openTimeout time.Duration, halfOpenSuccesses int) *Breaker {
	return &Breaker{
		failureThreshold:  failureThreshold,
		openTimeout:       openTimeout,
		halfOpenSuccesses: halfOpenSuccesses,
	}
}

// Allow reports whether a call may proceed, transitioning Open to HalfOpen
// once the open timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Now().After(b.openUntil) {
			b.state = HalfOpen
			b.consecutiveSuccesses = 0
			return true
		}
		return false
	default: // HalfOpen: let probes through, Record* decides what happens next.
		return true
	}
}

// RecordFailure counts a transport failure against the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = Open
			b.openUntil = time.Now().Add(b.openTimeout)
		}
	case HalfOpen:
		// A failed probe re-opens the circuit immediately.
		b.state = Open
		b.openUntil = time.Now().Add(b.openTimeout)
		b.consecutiveFailures = 0
		b.consecutiveSuccesses = 0
	}
}

// RecordSuccess counts a successful round trip.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures = 0
	case HalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.halfOpenSuccesses {
			b.state = Closed
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
		}
	}
}

// CurrentState returns the circuit state without triggering transitions.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
