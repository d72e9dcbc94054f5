/**
 * @description
 * This file implements the circuit breaker that wraps the command processor.
 * The breaker counts infrastructure failures inside a rolling window; once
 * the threshold trips it opens and short-circuits all requests without
 * touching the event store. After a cooldown it admits a single half-open
 * probe; the probe's outcome closes or re-opens the circuit.
 *
 * The shared counters are guarded by one mutex so concurrent callers observe
 * a consistent state.
 */

package app

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen signals that processing is temporarily unavailable and the
// request never reached the event store.
var ErrCircuitOpen = errors.New("processing temporarily unavailable")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker is a counter-based breaker safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	window           time.Duration
	cooldown         time.Duration
	now              func() time.Time

	state       breakerState
	failures    int
	windowStart time.Time
	openedAt    time.Time
	probing     bool
}

// NewCircuitBreaker creates a breaker. Non-positive parameters fall back to
// 5 failures within 60s, with a 30s cooldown.
func NewCircuitBreaker(failureThreshold int, window, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		window:           window,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow reports whether a request may proceed. In the half-open state only
// one probe is admitted at a time.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			b.probing = true
			return true
		}
		return false
	case breakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess reports a successful call. A successful half-open probe
// closes the circuit and resets the counters.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerClosed
	}
	b.failures = 0
	b.windowStart = time.Time{}
	b.probing = false
}

// RecordFailure reports a failed call. A failed half-open probe re-opens the
// circuit immediately; in the closed state the rolling-window counter trips
// the breaker at the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = now
		b.probing = false
		return
	}

	if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.window {
		b.windowStart = now
		b.failures = 0
	}
	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = now
		b.failures = 0
		b.windowStart = time.Time{}
	}
}
