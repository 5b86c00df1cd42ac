// Package memory implements the in-process store backend. Capacity is
// bounded by an LRU; staleness never removes an entry on read, only the
// sweep does, so stale values stay servable for fail-soft reads.
package memory

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vnykmshr/obsync-go/internal/entry"
	"github.com/vnykmshr/obsync-go/internal/store"
)

// Store is an LRU-bounded in-memory store.
type Store struct {
	cache         *lru.Cache[string, *entry.Entry]
	mu            sync.RWMutex
	evictCallback store.EvictCallback
	sweepCallback store.EvictCallback
	sweepTicker   *time.Ticker
	stopSweep     chan struct{}
	closeOnce     sync.Once
	capacity      int
}

// New creates a memory store holding at most capacity entries.
func New(capacity int) (*Store, error) {
	s := &Store{
		capacity:  capacity,
		stopSweep: make(chan struct{}),
	}

	cache, err := lru.NewWithEvict[string, *entry.Entry](capacity, func(key string, e *entry.Entry) {
		if s.evictCallback != nil {
			s.evictCallback(key, e.Value)
		}
	})
	if err != nil {
		return nil, err
	}

	s.cache = cache
	return s, nil
}

// NewWithSweep creates a memory store that periodically discards entries
// stale for longer than retention.
func NewWithSweep(capacity int, interval, retention time.Duration) (*Store, error) {
	s, err := New(capacity)
	if err != nil {
		return nil, err
	}

	if interval > 0 {
		s.startSweep(interval, retention)
	}
	return s, nil
}

// Get retrieves an entry by key. Stale entries are returned as-is; the
// caller derives the read state.
func (s *Store) Get(key string) (*entry.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cache.Get(key)
}

// Set stores an entry, replacing any previous entry for the key.
func (s *Store) Set(key string, e *entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Add(key, e)
	return nil
}

// Delete removes an entry by key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Remove(key)
	return nil
}

// Keys returns all keys currently in the store, stale included.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cache.Keys()
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cache.Len()
}

// Clear removes all entries.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Purge()
	return nil
}

// Close stops the sweep loop and drops all entries.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.sweepTicker != nil {
			s.sweepTicker.Stop()
		}
		close(s.stopSweep)
	})
	return s.Clear()
}

// SetEvictCallback registers a callback for capacity evictions.
func (s *Store) SetEvictCallback(callback store.EvictCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictCallback = callback
}

// SetSweepCallback registers a callback for swept entries.
func (s *Store) SetSweepCallback(callback store.EvictCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepCallback = callback
}

// Capacity returns the maximum number of entries the store holds.
func (s *Store) Capacity() int {
	return s.capacity
}

// Sweep removes entries stale for longer than retention and returns the
// count removed. A retention of zero removes everything past its TTL.
func (s *Store) Sweep(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, key := range s.cache.Keys() {
		e, found := s.cache.Peek(key)
		if !found {
			continue
		}
		if over := e.StaleFor(now); over > 0 && over >= retention {
			s.cache.Remove(key)
			removed++
			if s.sweepCallback != nil {
				s.sweepCallback(key, e.Value)
			}
		}
	}
	return removed
}

func (s *Store) startSweep(interval, retention time.Duration) {
	s.sweepTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.sweepTicker.C:
				s.Sweep(retention)
			case <-s.stopSweep:
				return
			}
		}
	}()
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.BoundedStore = (*Store)(nil)
	_ store.Sweeper      = (*Store)(nil)
)
