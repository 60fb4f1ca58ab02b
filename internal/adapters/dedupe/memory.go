// Package dedupe implements the DedupeStore port: an in-memory
// variant for single-process testing and a Redis-backed variant for
// horizontal scale-out, per spec.md §4.1.
package dedupe

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded map with lazy expiry on read,
// generalized from the sync.Map-plus-clean-on-read pattern in
// other_examples' picoclaw channels.BaseChannel (recentMsgIDs).
// Expiry never races CheckAndMark because eviction only ever happens
// inside the same critical section as the check (spec.md §9: "expiry
// never races checkAndMark because eviction is only triggered on
// read-miss").
//
// Suitable only for single-process testing; never used when
// horizontal scale-out is possible (spec.md §4.1).
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore builds an empty in-memory dedupe store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// CheckAndMark is race-free: two simultaneous calls for the same
// unseen key result in exactly one false and one true, because the
// whole read-check-write sequence holds the mutex.
func (s *MemoryStore) CheckAndMark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.expires[key]; ok {
		if now.Before(expiry) {
			return true, nil
		}
		// Lazily evict the stale entry before re-marking.
		delete(s.expires, key)
	}

	s.expires[key] = now.Add(ttl)
	s.sweepLocked(now)
	return false, nil
}

// sweepLocked drops expired entries opportunistically so the map does
// not grow unbounded under long-running processes. Must be called
// with mu held.
func (s *MemoryStore) sweepLocked(now time.Time) {
	if len(s.expires) < sweepThreshold {
		return
	}
	for k, expiry := range s.expires {
		if !now.Before(expiry) {
			delete(s.expires, k)
		}
	}
}

// sweepThreshold is the number of cached keys that triggers a lazy
// cleanup pass inside CheckAndMark, mirroring picoclaw's
// dedupeCleanThreshold.
const sweepThreshold = 500

// Ping always succeeds: there is no network dependency to validate.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
