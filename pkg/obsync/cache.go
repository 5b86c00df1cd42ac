package obsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/obsync-go/internal/entry"
	"github.com/vnykmshr/obsync-go/internal/keypattern"
	"github.com/vnykmshr/obsync-go/internal/store"
	"github.com/vnykmshr/obsync-go/internal/store/memory"
	redisstore "github.com/vnykmshr/obsync-go/internal/store/redis"
)

// State is the read state of a cache entry.
type State = entry.State

// Entry read states.
const (
	StateMissing     = entry.StateMissing
	StateFresh       = entry.StateFresh
	StateStale       = entry.StateStale
	StateOptimistic  = entry.StateOptimistic
	StateInvalidated = entry.StateInvalidated
)

// Cache is the shared entry store: a concurrent key-to-entry map with lazy
// TTL staleness, pattern invalidation and change notification. One instance
// is created per Client and passed by reference to the coordinators; there
// are no package-level singletons.
type Cache struct {
	config *Config
	store  store.Store
	stats  *Stats
	hooks  *Hooks
	logger Logger
	subs   *subscriptions
	mu     sync.RWMutex

	// version stamps every write so rollbacks can detect lost updates
	version atomic.Uint64

	// invalidation generations let an in-flight fetch detect that its
	// key was invalidated while it was executing
	invCounter atomic.Uint64
	invGens    sync.Map // key -> uint64
}

func (c *Cache) rlock(fn func()) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn()
}

func (c *Cache) lock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// newCache builds the cache store for a client.
func newCache(config *Config, stats *Stats, hooks *Hooks, logger Logger) (*Cache, error) {
	var backing store.Store
	var err error

	switch config.StoreType {
	case StoreTypeMemory:
		backing, err = createMemoryStore(config)
	case StoreTypeRedis:
		backing, err = createRedisStore(config)
	default:
		return nil, fmt.Errorf("unsupported store type: %v", config.StoreType)
	}
	if err != nil {
		return nil, err
	}

	c := &Cache{
		config: config,
		store:  backing,
		stats:  stats,
		hooks:  hooks,
		logger: logger,
		subs:   newSubscriptions(),
	}

	if bounded, ok := backing.(store.BoundedStore); ok {
		bounded.SetEvictCallback(func(key string, _ any) {
			c.logger.Debug("entry evicted for capacity", F("key", key))
		})
	}
	if sweeper, ok := backing.(store.Sweeper); ok {
		sweeper.SetSweepCallback(func(key string, _ any) {
			c.logger.Debug("stale entry swept", F("key", key))
		})
	}

	return c, nil
}

func createMemoryStore(config *Config) (store.Store, error) {
	if config.SweepInterval > 0 {
		return memory.NewWithSweep(config.MaxEntries, config.SweepInterval, config.StaleRetention)
	}
	return memory.New(config.MaxEntries)
}

func createRedisStore(config *Config) (store.Store, error) {
	if config.Redis == nil {
		return nil, fmt.Errorf("redis configuration is required when using StoreTypeRedis")
	}

	redisConfig := &redisstore.Config{
		KeyPrefix:      config.Redis.KeyPrefix,
		StaleRetention: config.StaleRetention,
		Context:        context.Background(),
	}

	if config.Redis.Client != nil {
		redisConfig.Client = config.Redis.Client
	} else {
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisConfig.Client = client
	}

	return redisstore.New(redisConfig)
}

// Get retrieves a value and its read state. It never blocks on I/O beyond
// the store lookup and never returns an error; absent keys read as
// StateMissing.
func (c *Cache) Get(key string) (any, State) {
	var value any
	state := StateMissing

	c.rlock(func() {
		e, ok := c.store.Get(key)
		if !ok {
			return
		}
		value = e.Value
		state = e.State()
	})

	switch state {
	case StateMissing, StateInvalidated:
		c.stats.incMisses()
		c.hooks.invokeOnMiss(key)
	default:
		c.stats.incHits()
		c.hooks.invokeOnHit(key, value, state)
	}

	return value, state
}

// getEntry returns a snapshot of the raw entry for coordinator use.
func (c *Cache) getEntry(key string) (*entry.Entry, bool) {
	var e *entry.Entry
	var ok bool
	c.rlock(func() {
		var cur *entry.Entry
		cur, ok = c.store.Get(key)
		if ok {
			e = cur.Clone()
		}
	})
	return e, ok
}

// Set stores a confirmed value atomically, replacing any previous entry for
// the key. A non-positive ttl falls back to the configured default.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	var setErr error
	existed := false
	c.lock(func() {
		_, existed = c.store.Get(key)
		setErr = c.store.Set(key, entry.New(value, ttl, c.version.Add(1)))
		if setErr == nil {
			c.updateKeyCount()
		}
	})
	if setErr != nil {
		return setErr
	}

	c.hooks.invokeOnSet(key, value)
	kind := EventCreated
	if existed {
		kind = EventUpdated
	}
	c.subs.notify(Event{Key: key, Kind: kind, Value: value, State: StateFresh})
	return nil
}

// Delete removes a single key and notifies subscribers with state
// Invalidated.
func (c *Cache) Delete(key string) error {
	var err error
	var old any
	existed := false

	c.lock(func() {
		var e *entry.Entry
		e, existed = c.store.Get(key)
		if existed {
			old = e.Value
		}
		err = c.store.Delete(key)
		if err == nil {
			c.bumpInvalidation(key)
			c.updateKeyCount()
		}
	})
	if err != nil || !existed {
		return err
	}

	c.stats.incInvalidations()
	c.hooks.invokeOnInvalidate(key)
	c.subs.notify(Event{Key: key, Kind: EventInvalidated, Value: old, State: StateInvalidated})
	return nil
}

// DeleteByPattern removes every key matching the pattern and returns the
// count removed. An empty pattern removes nothing; a pattern without a
// wildcard behaves as an exact-key delete.
func (c *Cache) DeleteByPattern(pattern string) (int, error) {
	if pattern == "" {
		return 0, nil
	}

	var matched []string
	if !keypattern.HasWildcard(pattern) {
		matched = []string{pattern}
	} else {
		c.rlock(func() {
			for _, key := range c.store.Keys() {
				if keypattern.Match(pattern, key) {
					matched = append(matched, key)
				}
			}
		})
	}

	removed := 0
	for _, key := range matched {
		existedBefore := false
		c.rlock(func() {
			_, existedBefore = c.store.Get(key)
		})
		if !existedBefore {
			// still bump the generation: an in-flight fetch for this
			// key must not populate after the invalidation
			c.bumpInvalidation(key)
			continue
		}
		if err := c.Delete(key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Invalidate is the invalidation engine's entry point: it removes matching
// entries and notifies matching subscribers with state Invalidated.
func (c *Cache) Invalidate(pattern string) (int, error) {
	return c.DeleteByPattern(pattern)
}

// IsFresh reports whether the key holds a confirmed value within its TTL
// window.
func (c *Cache) IsFresh(key string) bool {
	_, state := c.Get(key)
	return state == StateFresh
}

// Clear removes all entries.
func (c *Cache) Clear() error {
	var err error
	var keys []string

	c.lock(func() {
		keys = c.store.Keys()
		err = c.store.Clear()
		if err == nil {
			for _, key := range keys {
				c.bumpInvalidation(key)
			}
			c.updateKeyCount()
		}
	})
	if err != nil {
		return err
	}

	for _, key := range keys {
		c.stats.incInvalidations()
		c.hooks.invokeOnInvalidate(key)
		c.subs.notify(Event{Key: key, Kind: EventInvalidated, State: StateInvalidated})
	}
	return nil
}

// Keys returns all cached keys, stale included.
func (c *Cache) Keys() []string {
	var keys []string
	c.rlock(func() {
		keys = c.store.Keys()
	})
	return keys
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	var n int
	c.rlock(func() {
		n = c.store.Len()
	})
	return n
}

// Close releases the backing store.
func (c *Cache) Close() error {
	var err error
	c.lock(func() {
		err = c.store.Close()
	})
	return err
}

func (c *Cache) updateKeyCount() {
	c.stats.setKeyCount(int64(c.store.Len()))
}

// bumpInvalidation advances the key's invalidation generation. Callers hold
// c.mu or accept the race of an independent bump.
func (c *Cache) bumpInvalidation(key string) {
	c.invGens.Store(key, c.invCounter.Add(1))
}

// invalidationGen returns the key's current invalidation generation. A
// fetch records it before starting and discards its result if it moved.
func (c *Cache) invalidationGen(key string) uint64 {
	if v, ok := c.invGens.Load(key); ok {
		return v.(uint64)
	}
	return 0
}

// undoRecord captures everything needed to restore a key to its
// pre-mutation state. It is plain data rather than a closure so rollbacks
// stay testable and cannot capture stale outer state.
type undoRecord struct {
	key string

	// prev is the entry as it was before the optimistic write, nil if
	// the key did not exist
	prev *entry.Entry

	// applied is the version the optimistic write produced; rollback and
	// confirm are no-ops if a newer write moved the entry past it
	applied uint64
}

// applyOptimistic snapshots the key and writes an optimistic value in one
// atomic step, returning the undo record for the mutation coordinator.
func (c *Cache) applyOptimistic(key string, value any, ttl time.Duration) (*undoRecord, error) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	var undo *undoRecord
	var setErr error
	c.lock(func() {
		prev, _ := c.store.Get(key)

		e := entry.New(value, ttl, c.version.Add(1))
		e.Optimistic = true
		setErr = c.store.Set(key, e)
		if setErr != nil {
			return
		}
		undo = &undoRecord{key: key, prev: prev.Clone(), applied: e.Version}
		c.updateKeyCount()
	})
	if setErr != nil {
		return nil, setErr
	}

	c.stats.incOptimisticApplies()
	c.hooks.invokeOnOptimisticApply(key, value)
	c.subs.notify(Event{Key: key, Kind: EventUpdated, Value: value, State: StateOptimistic})
	return undo, nil
}

// confirmOptimistic promotes an optimistic entry to Fresh once the remote
// confirmed it. If the remote returned a canonical value it replaces the
// optimistic one. A newer write on the key makes this a no-op: last-settled
// wins and the confirmation has nothing left to promote.
func (c *Cache) confirmOptimistic(undo *undoRecord, result any, ttl time.Duration) {
	if undo == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	confirmed := false
	var value any
	c.lock(func() {
		cur, ok := c.store.Get(undo.key)
		if !ok || cur.Version != undo.applied {
			return
		}
		value = cur.Value
		if result != nil {
			value = result
		}
		if err := c.store.Set(undo.key, entry.New(value, ttl, c.version.Add(1))); err != nil {
			c.logger.Error("failed to confirm optimistic entry", F("key", undo.key), F("error", err))
			return
		}
		confirmed = true
	})
	if !confirmed {
		return
	}

	c.stats.incCommits()
	c.hooks.invokeOnSet(undo.key, value)
	c.subs.notify(Event{Key: undo.key, Kind: EventUpdated, Value: value, State: StateFresh})
}

// rollback restores the snapshot captured before an optimistic write. The
// restore is version-checked: if a newer write landed on the key after the
// optimistic apply, the rollback is a no-op so that write is not clobbered.
// This is the lost-update hazard the version stamps exist for.
func (c *Cache) rollback(undo *undoRecord) error {
	if undo == nil {
		return nil
	}

	restored := false
	var rbErr error
	var restoredValue any
	var restoredState State
	c.lock(func() {
		cur, ok := c.store.Get(undo.key)
		if !ok || cur.Version != undo.applied {
			return // a newer write owns the key now
		}

		if undo.prev == nil {
			rbErr = c.store.Delete(undo.key)
		} else {
			// restore the snapshot verbatim, under a new version so a
			// later rollback cannot mistake it for the optimistic write
			prev := undo.prev.Clone()
			prev.Version = c.version.Add(1)
			rbErr = c.store.Set(undo.key, prev)
			restoredValue = prev.Value
			restoredState = prev.State()
		}
		if rbErr == nil {
			restored = true
			c.updateKeyCount()
		}
	})

	c.stats.incRollbacks()
	c.hooks.invokeOnRollback(undo.key, restored)

	if rbErr != nil {
		return &RollbackError{Key: undo.key, Err: rbErr}
	}
	if !restored {
		return nil
	}

	if undo.prev == nil {
		c.subs.notify(Event{Key: undo.key, Kind: EventInvalidated, State: StateInvalidated})
	} else {
		c.subs.notify(Event{Key: undo.key, Kind: EventUpdated, Value: restoredValue, State: restoredState})
	}
	return nil
}
