package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Rate limiter defaults.
const (
	// DefaultMaxAttempts is the number of failed attempts allowed per window.
	DefaultMaxAttempts = 5

	// DefaultWindow is the trailing window over which attempts are counted.
	DefaultWindow = 60 * time.Second
)

// limiter is a sliding-window counter of failed authentication attempts
// keyed by controller id. State is process-local and never persisted; it is
// owned exclusively by the Authority.
type limiter struct {
	mu sync.Mutex

	attempts map[string][]time.Time
	max      int
	window   time.Duration
	clock    clockwork.Clock
}

func newLimiter(max int, window time.Duration, clock clockwork.Clock) *limiter {
	return &limiter{
		attempts: make(map[string][]time.Time),
		max:      max,
		window:   window,
		clock:    clock,
	}
}

// allowed reports whether the controller may attempt authentication.
// Attempts outside the window are pruned lazily on each check.
func (l *limiter) allowed(controllerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(controllerID)
	return len(recent) < l.max
}

// record registers a failed attempt for the controller.
func (l *limiter) record(controllerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(controllerID)
	l.attempts[controllerID] = append(recent, l.clock.Now())
}

// reset clears all bookkeeping, e.g. when a session is deliberately ended.
func (l *limiter) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = make(map[string][]time.Time)
}

// prune drops attempts older than the window. Caller must hold the lock.
func (l *limiter) prune(controllerID string) []time.Time {
	cutoff := l.clock.Now().Add(-l.window)
	kept := l.attempts[controllerID][:0]
	for _, t := range l.attempts[controllerID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.attempts, controllerID)
		return nil
	}
	l.attempts[controllerID] = kept
	return kept
}
