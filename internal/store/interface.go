package store

import (
	"time"

	"github.com/vnykmshr/obsync-go/internal/entry"
)

// Store is the backing map for the cache layer. Implementations must be safe
// for concurrent use. Unlike a plain TTL cache, stores keep stale entries
// around: the query coordinator serves them when a refetch fails, so only
// Sweep and explicit deletes discard data.
type Store interface {
	// Get retrieves an entry by key, including stale ones.
	Get(key string) (*entry.Entry, bool)

	// Set stores an entry, replacing any previous entry for the key.
	Set(key string, e *entry.Entry) error

	// Delete removes an entry by key.
	Delete(key string) error

	// Keys returns all keys currently in the store, stale included.
	Keys() []string

	// Len returns the current number of entries in the store.
	Len() int

	// Clear removes all entries.
	Clear() error

	// Close releases any resources held by the store.
	Close() error
}

// EvictCallback is invoked when the store drops an entry on its own, either
// for capacity or during a sweep.
type EvictCallback func(key string, value any)

// BoundedStore is a Store with a capacity limit and eviction reporting.
type BoundedStore interface {
	Store

	// SetEvictCallback registers a callback for capacity evictions.
	SetEvictCallback(callback EvictCallback)

	// Capacity returns the maximum number of entries the store holds.
	Capacity() int
}

// Sweeper is a Store that can discard entries stale beyond a retention
// window. Sweeping bounds memory; it is never required for correctness.
type Sweeper interface {
	Store

	// Sweep removes entries stale for longer than retention and returns
	// the count removed.
	Sweep(retention time.Duration) int

	// SetSweepCallback registers a callback for swept entries.
	SetSweepCallback(callback EvictCallback)
}
