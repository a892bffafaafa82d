// Package ratelimit provides an in-memory fixed-window request counter.
//
// This is a single-process limiter; running multiple instances of a
// service needs a shared store instead.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	attempts int
	start    time.Time
}

// Limiter counts requests per key within a fixed time window.
type Limiter struct {
	max    int
	period time.Duration

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
	now       func() time.Time // overridable in tests
}

// NewLimiter creates a limiter allowing max requests per period for each
// key. Idle windows are swept during Allow calls, at most once per
// period; no background goroutine is needed.
func NewLimiter(max int, period time.Duration) *Limiter {
	return &Limiter{
		max:     max,
		period:  period,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records an attempt for key and reports whether it is within the
// limit, how many attempts remain in the current window, and when the
// window resets.
func (l *Limiter) Allow(key string) (allowed bool, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.period {
		l.sweep(now)
		l.lastSweep = now
	}

	w, exists := l.windows[key]
	if !exists || now.Sub(w.start) >= l.period {
		// Fresh or expired window.
		w = &window{attempts: 1, start: now}
		l.windows[key] = w
		return true, l.max - 1, now.Add(l.period)
	}

	resetAt = w.start.Add(l.period)
	if w.attempts >= l.max {
		return false, 0, resetAt
	}

	w.attempts++
	return true, l.max - w.attempts, resetAt
}

// Status reports the current attempt count without consuming one.
func (l *Limiter) Status(key string) (attempts int, max int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, exists := l.windows[key]
	if !exists || now.Sub(w.start) >= l.period {
		return 0, l.max, now.Add(l.period)
	}
	return w.attempts, l.max, w.start.Add(l.period)
}

// sweep removes windows that expired more than one period ago. Caller
// holds mu.
func (l *Limiter) sweep(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) > 2*l.period {
			delete(l.windows, key)
		}
	}
}
