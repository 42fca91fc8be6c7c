package httpapi

import (
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
)

// SlidingWindowLimiter enforces a maximum number of events within a time window.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	clock  clock.Clock

	mu     sync.Mutex
	events []time.Time
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit events per window.
func NewSlidingWindowLimiter(window time.Duration, limit int, c clock.Clock) *SlidingWindowLimiter {
	if c == nil {
		c = clock.System()
	}
	return &SlidingWindowLimiter{window: window, limit: limit, clock: c}
}

// Allow reports whether the caller may proceed under the current rate limits.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)
	kept := l.events[:0]
	for _, ts := range l.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.events = kept
	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}

// KeyedLimiter keeps one sliding window per key, typically a remote address.
type KeyedLimiter struct {
	window time.Duration
	limit  int
	clock  clock.Clock

	mu      sync.Mutex
	windows map[string]*SlidingWindowLimiter
}

// NewKeyedLimiter constructs a per-key limiter.
func NewKeyedLimiter(window time.Duration, limit int, c clock.Clock) *KeyedLimiter {
	if c == nil {
		c = clock.System()
	}
	return &KeyedLimiter{window: window, limit: limit, clock: c, windows: make(map[string]*SlidingWindowLimiter)}
}

// Allow reports whether key may proceed.
func (k *KeyedLimiter) Allow(key string) bool {
	if k == nil || k.limit <= 0 || k.window <= 0 {
		return true
	}
	k.mu.Lock()
	limiter, ok := k.windows[key]
	if !ok {
		limiter = NewSlidingWindowLimiter(k.window, k.limit, k.clock)
		k.windows[key] = limiter
	}
	k.mu.Unlock()
	return limiter.Allow()
}

// Prune forgets keys whose windows have emptied.
func (k *KeyedLimiter) Prune() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	removed := 0
	cutoff := k.clock.Now().Add(-k.window)
	for key, limiter := range k.windows {
		limiter.mu.Lock()
		idle := len(limiter.events) == 0 || !limiter.events[len(limiter.events)-1].After(cutoff)
		limiter.mu.Unlock()
		if idle {
			delete(k.windows, key)
			removed++
		}
	}
	return removed
}
