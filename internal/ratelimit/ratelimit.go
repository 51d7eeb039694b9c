// Package ratelimit is a fixed-window request counter keyed by client.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter allows up to limit requests per key in each window. A key's window
// starts with its first request and is replaced once it has elapsed.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	now     func() time.Time
	windows map[string]*window
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(limit int, period time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		limit:   max(limit, 1),
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	if l.period <= 0 {
		l.period = time.Minute
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow counts one request for key and reports whether it is within budget.
// Rejected requests do not count.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.period)}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// RetryAfter is the hint sent with a rejection: the window length in whole
// seconds, rounded up.
func (l *Limiter) RetryAfter() int {
	secs := int((l.period + time.Second - 1) / time.Second)
	return max(secs, 1)
}

// Sweep drops windows that have elapsed and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Reset forgets every key.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.windows)
}
