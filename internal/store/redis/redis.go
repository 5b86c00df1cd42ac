// Package redis implements a Redis-backed store so several processes of the
// same session can share one coordination cache. Entries are stored as a
// JSON envelope carrying the state flags and version stamp; the Redis key
// TTL is the entry TTL plus the stale retention window, so stale values
// survive long enough for fail-soft reads.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/obsync-go/internal/entry"
	"github.com/vnykmshr/obsync-go/internal/store"
)

// Store is a Redis-backed store.
type Store struct {
	client         redis.Cmdable
	keyPrefix      string
	staleRetention time.Duration
	ctx            context.Context
}

// Config holds Redis store configuration.
type Config struct {
	// Client is the Redis client to use.
	Client redis.Cmdable

	// KeyPrefix is prepended to all cache keys to avoid collisions.
	// Default: "obsync:".
	KeyPrefix string

	// StaleRetention is how long entries survive past their TTL window
	// before Redis expires them.
	StaleRetention time.Duration

	// Context for Redis operations.
	Context context.Context
}

// envelope is the serialized form of an entry.
type envelope struct {
	Value       json.RawMessage `json:"value"`
	StoredAt    time.Time       `json:"stored_at"`
	TTLMillis   int64           `json:"ttl_ms"`
	Optimistic  bool            `json:"optimistic,omitempty"`
	Invalidated bool            `json:"invalidated,omitempty"`
	Version     uint64          `json:"version"`
}

// New creates a Redis store with the given configuration.
func New(config *Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	ctx := config.Context
	if ctx == nil {
		ctx = context.Background()
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "obsync:"
	}

	return &Store{
		client:         config.Client,
		keyPrefix:      keyPrefix,
		staleRetention: config.StaleRetention,
		ctx:            ctx,
	}, nil
}

// Get retrieves an entry by key. Stale entries are returned as long as
// Redis still holds them; corrupted payloads are dropped.
func (s *Store) Get(key string) (*entry.Entry, bool) {
	data, err := s.client.Get(s.ctx, s.buildKey(key)).Result()
	if err != nil {
		return nil, false
	}

	e, err := s.decode([]byte(data))
	if err != nil {
		s.client.Del(s.ctx, s.buildKey(key))
		return nil, false
	}
	return e, true
}

// Set stores an entry, replacing any previous entry for the key.
func (s *Store) Set(key string, e *entry.Entry) error {
	data, err := s.encode(e)
	if err != nil {
		return err
	}

	expiry := s.redisExpiry(e)
	if expiry > 0 {
		return s.client.SetEx(s.ctx, s.buildKey(key), string(data), expiry).Err()
	}
	return s.client.Set(s.ctx, s.buildKey(key), string(data), 0).Err()
}

// Delete removes an entry by key.
func (s *Store) Delete(key string) error {
	return s.client.Del(s.ctx, s.buildKey(key)).Err()
}

// Keys returns all keys currently held for this prefix.
func (s *Store) Keys() []string {
	redisKeys, err := s.client.Keys(s.ctx, s.buildKey("*")).Result()
	if err != nil {
		return nil
	}

	keys := make([]string, 0, len(redisKeys))
	for _, rk := range redisKeys {
		if k := s.extractKey(rk); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	return len(s.Keys())
}

// Clear removes all entries under this prefix.
func (s *Store) Clear() error {
	keys, err := s.client.Keys(s.ctx, s.buildKey("*")).Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(s.ctx, keys...).Err()
}

// Close drops this store's data; client lifecycle is owned by the caller.
func (s *Store) Close() error {
	return s.Clear()
}

func (s *Store) buildKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) extractKey(redisKey string) string {
	if !strings.HasPrefix(redisKey, s.keyPrefix) {
		return ""
	}
	return strings.TrimPrefix(redisKey, s.keyPrefix)
}

// redisExpiry keeps the entry alive for its freshness window plus the stale
// retention, so stale reads keep working until the sweep horizon.
func (s *Store) redisExpiry(e *entry.Entry) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	remaining := e.Remaining() + s.staleRetention
	if remaining <= 0 {
		remaining = time.Second
	}
	return remaining
}

func (s *Store) encode(e *entry.Entry) ([]byte, error) {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry value: %w", err)
	}

	return json.Marshal(envelope{
		Value:       value,
		StoredAt:    e.StoredAt,
		TTLMillis:   e.TTL.Milliseconds(),
		Optimistic:  e.Optimistic,
		Invalidated: e.Invalidated,
		Version:     e.Version,
	})
}

func (s *Store) decode(data []byte) (*entry.Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry envelope: %w", err)
	}

	var value any
	if err := json.Unmarshal(env.Value, &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry value: %w", err)
	}

	return &entry.Entry{
		Value:       value,
		StoredAt:    env.StoredAt,
		TTL:         time.Duration(env.TTLMillis) * time.Millisecond,
		Optimistic:  env.Optimistic,
		Invalidated: env.Invalidated,
		Version:     env.Version,
	}, nil
}

var _ store.Store = (*Store)(nil)
