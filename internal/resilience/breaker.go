package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting any network I/O
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the state of a circuit breaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns a human readable state name
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips open after a run of consecutive failures and rejects calls
// until a cooldown elapses. After the cooldown a single trial call is
// admitted half-open; its outcome decides whether the breaker closes again
// or reopens with a fresh cooldown.
type Breaker struct {
	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	trialInFlight bool

	threshold int
	cooldown  time.Duration
}

// NewBreaker creates a Breaker that opens after threshold consecutive
// failures and stays open for the cooldown duration
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen while
// the breaker is open or while a half-open trial is already in flight.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}

	return nil
}

// Success records a successful call and closes the breaker
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	b.state = BreakerClosed
}

// Failure records a failed call. A failed half-open trial reopens the
// breaker and restarts its cooldown.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	b.trialInFlight = false

	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// Abort records a call that ended without a verdict on the dependency's
// health, such as a canceled context or a non-retriable request error. An
// aborted half-open trial reopens the breaker with a fresh cooldown so the
// trial slot is never left occupied; in any other state nothing changes.
func (b *Breaker) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerHalfOpen {
		return
	}

	b.trialInFlight = false
	b.lastFailure = time.Now()
	b.state = BreakerOpen
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Reset returns the breaker to its initial closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.trialInFlight = false
	b.lastFailure = time.Time{}
}
