package obsync

import (
	"sync"

	"github.com/vnykmshr/obsync-go/internal/keypattern"
)

// EventKind classifies an entry transition delivered to subscribers.
type EventKind int

const (
	// EventCreated means a key that had no entry got one
	EventCreated EventKind = iota

	// EventUpdated means an existing entry was replaced
	EventUpdated

	// EventInvalidated means the entry was removed by invalidation,
	// delete or clear
	EventInvalidated
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "Created"
	case EventUpdated:
		return "Updated"
	case EventInvalidated:
		return "Invalidated"
	default:
		return "Unknown"
	}
}

// Event describes an entry transition.
type Event struct {
	Key   string
	Kind  EventKind
	Value any
	State State
}

// SubscriberFunc receives entry transition events. Callbacks run
// synchronously on the goroutine that caused the transition, after cache
// locks are released; they must not block.
type SubscriberFunc func(Event)

type subscription struct {
	id       uint64
	pattern  string
	wildcard bool
	fn       SubscriberFunc
}

func (s *subscription) matches(key string) bool {
	if !s.wildcard {
		return s.pattern == key
	}
	return keypattern.Match(s.pattern, key)
}

// subscriptions is the registry of key/pattern subscribers. Leaked
// subscriptions are a caller bug: removal happens only through the
// unsubscribe func handed out at registration.
type subscriptions struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{subs: make(map[uint64]*subscription)}
}

func (r *subscriptions) add(keyOrPattern string, fn SubscriberFunc) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.subs[id] = &subscription{
		id:       id,
		pattern:  keyOrPattern,
		wildcard: keypattern.HasWildcard(keyOrPattern),
		fn:       fn,
	}
	return id
}

func (r *subscriptions) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// notify delivers ev to every matching subscriber. Matching happens under
// the read lock; callbacks run outside it so they may call back into the
// cache.
func (r *subscriptions) notify(ev Event) {
	r.mu.RLock()
	var targets []SubscriberFunc
	for _, s := range r.subs {
		if s.matches(ev.Key) {
			targets = append(targets, s.fn)
		}
	}
	r.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
}

// activeFor counts subscriptions observing the given key. The refresh
// scheduler uses this to stop refetching keys nobody watches.
func (r *subscriptions) activeFor(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.subs {
		if s.matches(key) {
			n++
		}
	}
	return n
}

func (r *subscriptions) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
