package venue

import (
	"sync"
	"time"
)

// breaker is the circuit breaker guarding explicit Reconnect calls. It opens
// after maxFailures consecutive failures inside failureWindow and admits the
// next attempt only after cooldown.
type breaker struct {
	mu           sync.Mutex
	failures     int
	firstFailure time.Time
	openedAt     time.Time

	maxFailures   int
	failureWindow time.Duration
	cooldown      time.Duration
}

func newBreaker() *breaker {
	return &breaker{
		maxFailures:   5,
		failureWindow: 60 * time.Second,
		cooldown:      60 * time.Second,
	}
}

// Allow reports whether an attempt is currently admitted.
func (b *breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openedAt.IsZero() {
		return true
	}
	if now.Sub(b.openedAt) >= b.cooldown {
		// Half-open: admit one attempt; the next Failure reopens.
		b.openedAt = time.Time{}
		b.failures = b.maxFailures - 1
		b.firstFailure = now
		return true
	}
	return false
}

// Failure records a failed attempt, opening the breaker when the threshold
// is crossed within the window.
func (b *breaker) Failure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures == 0 || now.Sub(b.firstFailure) > b.failureWindow {
		b.failures = 0
		b.firstFailure = now
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.openedAt = now
	}
}

// Success resets the breaker.
func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openedAt = time.Time{}
}
