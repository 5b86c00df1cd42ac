package entry

import (
	"fmt"
	"time"
)

// State describes how a cached value should be interpreted by readers.
// Freshness is derived lazily from StoredAt and TTL at read time; no
// background expiry is required for correctness.
type State int

const (
	// StateMissing means no entry exists for the key
	StateMissing State = iota

	// StateFresh means the entry is within its TTL window
	StateFresh

	// StateStale means the TTL window has elapsed; the value is still
	// servable but should be refetched
	StateStale

	// StateOptimistic means the value was written ahead of remote
	// confirmation and may be rolled back
	StateOptimistic

	// StateInvalidated means the entry was explicitly invalidated and
	// must not be served as data
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateMissing:
		return "Missing"
	case StateFresh:
		return "Fresh"
	case StateStale:
		return "Stale"
	case StateOptimistic:
		return "Optimistic"
	case StateInvalidated:
		return "Invalidated"
	default:
		return "Unknown"
	}
}

// Entry is a single cached value together with the bookkeeping the
// coordination layer needs. Version orders writes per cache instance so a
// rollback can detect that a newer write landed and leave it alone.
type Entry struct {
	// Value is the cached payload, owned by the store. Readers must not
	// mutate it in place.
	Value any

	// StoredAt is when this value was written
	StoredAt time.Time

	// TTL is the freshness window; zero or negative means never stale
	TTL time.Duration

	// Optimistic marks a value written ahead of remote confirmation
	Optimistic bool

	// Invalidated marks an entry that must not be served as data
	Invalidated bool

	// Version is the monotonic write stamp assigned by the owning cache
	Version uint64
}

// New creates an entry stored now with the given freshness window.
func New(value any, ttl time.Duration, version uint64) *Entry {
	return &Entry{
		Value:    value,
		StoredAt: time.Now(),
		TTL:      ttl,
		Version:  version,
	}
}

// State returns the entry's current read state.
func (e *Entry) State() State {
	return e.StateAt(time.Now())
}

// StateAt returns the read state as of the given instant.
func (e *Entry) StateAt(now time.Time) State {
	switch {
	case e == nil:
		return StateMissing
	case e.Invalidated:
		return StateInvalidated
	case e.Optimistic:
		return StateOptimistic
	case e.TTL > 0 && now.Sub(e.StoredAt) > e.TTL:
		return StateStale
	default:
		return StateFresh
	}
}

// IsFresh reports whether the entry carries a confirmed value within its
// TTL window.
func (e *Entry) IsFresh() bool {
	return e.State() == StateFresh
}

// Age returns how long ago the value was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}

// Remaining returns the unexpired portion of the TTL window, zero if the
// entry is already stale or has no window.
func (e *Entry) Remaining() time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	left := e.TTL - time.Since(e.StoredAt)
	if left < 0 {
		return 0
	}
	return left
}

// StaleFor returns how long the entry has been past its TTL window as of
// the given instant, zero if it is not stale. The sweep uses this to bound
// memory without discarding recently staled values.
func (e *Entry) StaleFor(now time.Time) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	over := now.Sub(e.StoredAt) - e.TTL
	if over < 0 {
		return 0
	}
	return over
}

// Clone returns a shallow copy. The payload is shared; callers treat cached
// values as immutable.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// String returns a debug representation of the entry.
func (e *Entry) String() string {
	return fmt.Sprintf("Entry{state: %s, version: %d, age: %s}", e.State(), e.Version, e.Age().Round(time.Millisecond))
}
