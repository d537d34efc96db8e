package connection

import (
	"sync"
	"time"
)

// Reconnect policy constants.
const (
	// BaseDelay is the delay unit between reconnect attempts.
	BaseDelay = 1 * time.Second

	// MaxAttempts is the hard reconnect attempt cap.
	MaxAttempts = 5
)

// Backoff calculates linearly increasing reconnect delays with a hard
// attempt cap.
type Backoff struct {
	mu sync.Mutex

	base     time.Duration
	max      int
	attempts int
}

// NewBackoff creates a backoff calculator with the default policy.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BaseDelay, MaxAttempts)
}

// NewBackoffWithConfig creates a backoff calculator with a custom base
// delay and attempt cap.
func NewBackoffWithConfig(base time.Duration, max int) *Backoff {
	if base <= 0 {
		base = BaseDelay
	}
	if max <= 0 {
		max = MaxAttempts
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay before the next attempt and advances the counter.
// The second return is false once the attempt cap is exhausted.
func (b *Backoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempts >= b.max {
		return 0, false
	}
	b.attempts++
	return time.Duration(b.attempts) * b.base, true
}

// Attempts returns the number of attempts since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset clears the attempt counter. Call after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}
