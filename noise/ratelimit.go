package noise

import (
	"sync"
	"time"
)

// slidingWindowLimiter enforces a maximum event count within a trailing
// window, using monotonic time deltas only (never wall-clock
// comparisons in rate-limit decisions).
type slidingWindowLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	events []time.Time
}

func newSlidingWindowLimiter(window time.Duration, limit int) *slidingWindowLimiter {
	return &slidingWindowLimiter{window: window, limit: limit}
}

// Allow records one event attempt now and reports whether it is within
// the limit. Rejected attempts are not recorded.
func (l *slidingWindowLimiter) Allow() bool {
	return l.AllowAt(time.Now())
}

// AllowAt is Allow with an explicit instant, exposed for deterministic
// testing.
func (l *slidingWindowLimiter) AllowAt(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.events[:0]
	for _, t := range l.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.events = kept

	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}
