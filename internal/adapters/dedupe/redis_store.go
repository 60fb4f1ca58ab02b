package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements the distributed check-and-mark dedupe
// primitive over Redis SET key "1" NX PX ttlMs, as specified in
// spec.md §4.1. It is the direct generalization of the teacher's
// RedisRepository (redis_repo.go), which used separate GET/SET calls;
// this version collapses them into one atomic SET NX so two
// concurrent callers for the same unseen key cannot both observe
// "not a duplicate".
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore builds a distributed dedupe store. keyPrefix is
// connector-specific (e.g. "whatsapp:dedupe:").
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// CheckAndMark attempts SET key "1" NX PX ttlMs. Acceptance means the
// key was unseen (returns false); rejection means it already existed
// (returns true). Any other error is returned annotated and wrapped
// with %w so callers can route it through failMode.
func (s *RedisStore) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fullKey := s.keyPrefix + key
	ok, err := s.client.SetNX(ctx, fullKey, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe store check-and-mark: %w", err)
	}
	if ok {
		// We won the race: key was unseen, now marked.
		return false, nil
	}
	return true, nil
}

// Ping validates the store is reachable within the context's
// deadline, used for boot-time fail-closed validation (spec.md §5).
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.New("dedupe store unreachable: " + err.Error())
	}
	return nil
}
