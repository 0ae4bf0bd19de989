package dedup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore is a process-local Store bounded by a TTL and a capacity.
type MemoryStore struct {
	entries  *xsync.MapOf[string, time.Time]
	ttl      time.Duration
	capacity int
	now      func() time.Time

	// serializes capacity evictions
	evictMu sync.Mutex
}

// NewMemoryStore returns a store that forgets ids after ttl and keeps at
// most capacity ids. A zero ttl or capacity disables that bound.
func NewMemoryStore(ttl time.Duration, capacity int) *MemoryStore {
	return &MemoryStore{
		entries:  xsync.NewMapOf[string, time.Time](),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

func (s *MemoryStore) SeenOrRecord(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	now := s.now()
	seen := false
	s.entries.Compute(id, func(recordedAt time.Time, loaded bool) (time.Time, bool) {
		if loaded && !s.expired(recordedAt, now) {
			seen = true
			return recordedAt, false
		}
		return now, false
	})
	if !seen && s.capacity > 0 && s.entries.Size() > s.capacity {
		s.evict(now)
	}
	return seen, nil
}

// Sweep drops expired ids and returns how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	return s.sweep(s.now()), nil
}

func (s *MemoryStore) Len() int {
	return s.entries.Size()
}

func (s *MemoryStore) expired(recordedAt, now time.Time) bool {
	return s.ttl > 0 && now.Sub(recordedAt) >= s.ttl
}

func (s *MemoryStore) sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	removed := 0
	s.entries.Range(func(id string, recordedAt time.Time) bool {
		if s.expired(recordedAt, now) && s.deleteIfUnchanged(id, recordedAt) {
			removed++
		}
		return true
	})
	return removed
}

func (s *MemoryStore) evict(now time.Time) {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()

	if s.entries.Size() <= s.capacity {
		return
	}
	s.sweep(now)
	overflow := s.entries.Size() - s.capacity
	if overflow <= 0 {
		return
	}

	type entry struct {
		id         string
		recordedAt time.Time
	}
	all := make([]entry, 0, s.entries.Size())
	s.entries.Range(func(id string, recordedAt time.Time) bool {
		all = append(all, entry{id: id, recordedAt: recordedAt})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		return all[i].recordedAt.Before(all[j].recordedAt)
	})
	for i := 0; i < overflow && i < len(all); i++ {
		s.deleteIfUnchanged(all[i].id, all[i].recordedAt)
	}
}

// deleteIfUnchanged removes id only if it still carries recordedAt, so an id
// re-recorded in the meantime survives.
func (s *MemoryStore) deleteIfUnchanged(id string, recordedAt time.Time) bool {
	deleted := false
	s.entries.Compute(id, func(current time.Time, loaded bool) (time.Time, bool) {
		if !loaded {
			return current, true
		}
		if current.Equal(recordedAt) {
			deleted = true
			return current, true
		}
		return current, false
	})
	return deleted
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)
