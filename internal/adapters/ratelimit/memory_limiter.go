package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/fortescwb/connectors/internal/core/ports"
)

// MemoryLimiter is a single-process fixed-window limiter, used in
// tests and in development mode alongside the in-memory dedupe store.
type MemoryLimiter struct {
	mu     sync.Mutex
	counts map[string]*windowCount
	limit  int
	window time.Duration
	now    func() time.Time
}

type windowCount struct {
	count      int
	windowEnds time.Time
}

// NewMemoryLimiter builds an in-memory limiter allowing up to limit
// units of cost per window, per key.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		counts: make(map[string]*windowCount),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Consume(_ context.Context, key string, cost int) (ports.RateLimitVerdict, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	wc, ok := l.counts[key]
	if !ok || !now.Before(wc.windowEnds) {
		wc = &windowCount{windowEnds: now.Add(l.window)}
		l.counts[key] = wc
	}

	wc.count += cost
	if wc.count > l.limit {
		return ports.RateLimitVerdict{
			Allowed:      false,
			RetryAfterMS: wc.windowEnds.Sub(now).Milliseconds(),
		}, nil
	}
	return ports.RateLimitVerdict{Allowed: true}, nil
}

var _ ports.RateLimiter = (*MemoryLimiter)(nil)
