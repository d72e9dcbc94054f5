package app

import (
	"testing"
	"time"
)

func newTestBreaker(threshold int, window, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	b := NewCircuitBreaker(threshold, window, cooldown)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute, 30*time.Second)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker opened before the threshold at failure %d", i+1)
		}
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open after reaching the failure threshold")
	}
}

func TestCircuitBreaker_WindowExpiryResetsCount(t *testing.T) {
	b, now := newTestBreaker(3, time.Minute, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("failures outside the rolling window must not trip the breaker")
	}
}

func TestCircuitBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute, 30*time.Second)

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	*now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("cooldown elapsed; one half-open probe should be admitted")
	}
	if b.Allow() {
		t.Fatal("only a single probe may run at a time")
	}

	b.RecordSuccess()
	if !b.Allow() {
		t.Fatal("successful probe should close the circuit")
	}
}

func TestCircuitBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute, 30*time.Second)

	b.RecordFailure()
	*now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("probe should be admitted after cooldown")
	}

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("failed probe should re-open the circuit immediately")
	}

	*now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("a fresh probe should be admitted after another cooldown")
	}
}
