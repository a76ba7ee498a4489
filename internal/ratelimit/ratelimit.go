// Package ratelimit implements a per-key sliding-window request counter.
//
// Ported from original_source/rate_limit.rs: unlike the teacher's
// token-bucket golang.org/x/time/rate limiter, this tracks a FIFO of
// admission timestamps per key and prunes entries older than the
// window on every call, so the invariant "at most max_requests
// admissions in any contiguous window" holds exactly, not just on
// average.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window counter. Safe for concurrent use.
type Limiter struct {
	window  time.Duration
	max     int
	mu      sync.Mutex
	buckets map[string][]time.Time
}

// New builds a Limiter admitting at most max requests per key in any
// contiguous window-length interval.
func New(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:  window,
		max:     max,
		buckets: make(map[string][]time.Time),
	}
}

// Allow drops timestamps older than now-window for key, then either
// rejects (if the remaining count is already >= max) or admits and
// records now.
func (l *Limiter) Allow(key string) bool {
	return l.allowAt(key, time.Now())
}

func (l *Limiter) allowAt(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	bucket := l.buckets[key]

	i := 0
	for i < len(bucket) && bucket[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		bucket = bucket[i:]
	}

	if len(bucket) >= l.max {
		l.buckets[key] = bucket
		return false
	}

	bucket = append(bucket, now)
	l.buckets[key] = bucket
	return true
}

// Reap removes buckets that have been entirely stale for at least one
// window, bounding memory for keys that are no longer seen. Not
// required for correctness — callers may run it periodically.
func (l *Limiter) Reap() {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, bucket := range l.buckets {
		if len(bucket) == 0 || bucket[len(bucket)-1].Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
