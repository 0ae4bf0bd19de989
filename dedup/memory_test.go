package dedup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemoryStore(ttl time.Duration, capacity int) (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(ttl, capacity)
	store.now = clock.Now
	return store, clock
}

func TestMemoryStoreSeenOrRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemoryStore(time.Hour, 0)

	seen, err := store.SeenOrRecord(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.SeenOrRecord(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.SeenOrRecord(ctx, "msg-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryStoreRejectsEmptyID(t *testing.T) {
	store, _ := newTestMemoryStore(time.Hour, 0)
	_, err := store.SeenOrRecord(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestMemoryStoreExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore(time.Minute, 0)

	seen, _ := store.SeenOrRecord(ctx, "msg-1")
	require.False(t, seen)

	clock.Advance(30 * time.Second)
	seen, _ = store.SeenOrRecord(ctx, "msg-1")
	assert.True(t, seen)

	clock.Advance(time.Minute)
	seen, _ = store.SeenOrRecord(ctx, "msg-1")
	assert.False(t, seen, "expired id is recorded again")
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore(time.Minute, 0)

	_, _ = store.SeenOrRecord(ctx, "old")
	clock.Advance(2 * time.Minute)
	_, _ = store.SeenOrRecord(ctx, "fresh")

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	seen, _ := store.SeenOrRecord(ctx, "fresh")
	assert.True(t, seen)
}

func TestMemoryStoreEvictsOldestOverCapacity(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore(0, 3)

	for i := 0; i < 4; i++ {
		_, err := store.SeenOrRecord(ctx, fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, store.Len())

	seen, _ := store.SeenOrRecord(ctx, "msg-3")
	assert.True(t, seen, "newest id is kept")
	seen, _ = store.SeenOrRecord(ctx, "msg-0")
	assert.False(t, seen, "oldest id was evicted")
}

func TestMemoryStoreConcurrentCallsRecordOnce(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemoryStore(time.Hour, 0)

	var firstSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := store.SeenOrRecord(ctx, "same-id")
			if err == nil && !seen {
				firstSeen.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), firstSeen.Load())
}
