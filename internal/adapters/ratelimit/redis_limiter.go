// Package ratelimit implements the optional RateLimiter port: a
// Redis-backed fixed-window limiter for distributed deployments and an
// in-memory variant for single-process use, per spec.md §4.6.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortescwb/connectors/internal/core/ports"
)

// RedisLimiter is a fixed-window counter: INCRBY cost against a
// window-scoped key, with the window's expiry set only on the key's
// first increment in that window. Follows the teacher's
// RedisRepository idiom of GET/SET against go-redis (redis_repo.go),
// generalized to a counting primitive instead of a presence flag.
type RedisLimiter struct {
	client     redis.UniversalClient
	keyPrefix  string
	limit      int
	window     time.Duration
}

// NewRedisLimiter builds a limiter allowing up to limit units of cost
// per window, per key.
func NewRedisLimiter(client redis.UniversalClient, keyPrefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, keyPrefix: keyPrefix, limit: limit, window: window}
}

func (l *RedisLimiter) Consume(ctx context.Context, key string, cost int) (ports.RateLimitVerdict, error) {
	fullKey := fmt.Sprintf("%s%s:%d", l.keyPrefix, key, time.Now().UnixNano()/l.window.Nanoseconds())

	count, err := l.client.IncrBy(ctx, fullKey, int64(cost)).Result()
	if err != nil {
		return ports.RateLimitVerdict{}, fmt.Errorf("rate limiter consume: %w", err)
	}
	if count == int64(cost) {
		// First increment in this window: attach the expiry.
		if err := l.client.PExpire(ctx, fullKey, l.window).Err(); err != nil {
			return ports.RateLimitVerdict{}, fmt.Errorf("rate limiter set expiry: %w", err)
		}
	}

	if count > int64(l.limit) {
		ttl, err := l.client.PTTL(ctx, fullKey).Result()
		retryAfterMS := l.window.Milliseconds()
		if err == nil && ttl > 0 {
			retryAfterMS = ttl.Milliseconds()
		}
		return ports.RateLimitVerdict{Allowed: false, RetryAfterMS: retryAfterMS}, nil
	}
	return ports.RateLimitVerdict{Allowed: true}, nil
}

var _ ports.RateLimiter = (*RedisLimiter)(nil)
