package dedupe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore_FirstSeenThenDuplicate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	dup, err := store.CheckAndMark(ctx, "key-1", time.Minute)
	assert.NoError(t, err)
	assert.False(t, dup, "first check of an unseen key must not be a duplicate")

	dup, err = store.CheckAndMark(ctx, "key-1", time.Minute)
	assert.NoError(t, err)
	assert.True(t, dup, "second check within TTL must be a duplicate")
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	store := NewMemoryStore()
	fakeNow := time.Now()
	store.now = func() time.Time { return fakeNow }
	ctx := context.Background()

	dup, err := store.CheckAndMark(ctx, "key-1", time.Second)
	assert.NoError(t, err)
	assert.False(t, dup)

	fakeNow = fakeNow.Add(2 * time.Second)
	dup, err = store.CheckAndMark(ctx, "key-1", time.Second)
	assert.NoError(t, err)
	assert.False(t, dup, "key must no longer be a duplicate once its TTL has elapsed")
}

func TestMemoryStore_ConcurrentCheckAndMarkIsRaceFree(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const callers = 50
	results := make([]bool, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			dup, err := store.CheckAndMark(ctx, "shared-key", time.Minute)
			assert.NoError(t, err)
			results[i] = dup
		}(i)
	}
	wg.Wait()

	falseCount := 0
	for _, dup := range results {
		if !dup {
			falseCount++
		}
	}
	assert.Equal(t, 1, falseCount, "exactly one caller must win the race for an unseen key")
}

func TestMemoryStore_PingAlwaysSucceeds(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.Ping(context.Background()))
}
