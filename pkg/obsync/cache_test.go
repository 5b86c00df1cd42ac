package obsync

import (
	"sync"
	"testing"
	"time"
)

func newTestClient(t *testing.T, config *Config) *Client {
	t.Helper()
	if config == nil {
		config = NewDefaultConfig()
	}
	config.Logger = NewNoOpLogger()
	client, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCacheBasicOperations(t *testing.T) {
	client := newTestClient(t, NewDefaultConfig().WithMaxEntries(100).WithDefaultTTL(time.Hour))

	key := "user:123"
	value := "test-value"

	if err := client.Set(key, value, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, state := client.Get(key)
	if state != StateFresh {
		t.Fatalf("Expected StateFresh, got %v", state)
	}
	if retrieved != value {
		t.Fatalf("Expected %v, got %v", value, retrieved)
	}

	stats := client.Stats()
	if stats.Hits() != 1 {
		t.Fatalf("Expected 1 hit, got %d", stats.Hits())
	}
	if stats.KeyCount() != 1 {
		t.Fatalf("Expected 1 key, got %d", stats.KeyCount())
	}
}

func TestCacheMiss(t *testing.T) {
	client := newTestClient(t, nil)

	_, state := client.Get("nonexistent")
	if state != StateMissing {
		t.Fatalf("Expected StateMissing, got %v", state)
	}

	stats := client.Stats()
	if stats.Misses() != 1 {
		t.Fatalf("Expected 1 miss, got %d", stats.Misses())
	}
}

func TestCacheFreshnessTransition(t *testing.T) {
	client := newTestClient(t, nil)

	key := "user:123"
	if err := client.Set(key, "value", 100*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if !client.IsFresh(key) {
		t.Fatal("Expected entry to be fresh immediately after Set")
	}

	time.Sleep(150 * time.Millisecond)

	value, state := client.Get(key)
	if state != StateStale {
		t.Fatalf("Expected StateStale after TTL, got %v", state)
	}
	if value != "value" {
		t.Fatalf("Stale read should still return the value, got %v", value)
	}
	if client.IsFresh(key) {
		t.Fatal("Expected entry to no longer be fresh")
	}
}

func TestCacheDelete(t *testing.T) {
	client := newTestClient(t, nil)

	key := "user:123"
	client.Set(key, "value", time.Hour)

	if err := client.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, state := client.Get(key)
	if state != StateMissing {
		t.Fatalf("Expected StateMissing after delete, got %v", state)
	}
	if client.Stats().Invalidations() != 1 {
		t.Fatalf("Expected 1 invalidation, got %d", client.Stats().Invalidations())
	}
}

func TestInvalidateByPattern(t *testing.T) {
	client := newTestClient(t, nil)

	keys := []string{
		"chat:1:messages:10",
		"chat:1:messages:11",
		"chat:1:summary",
		"chat:2:messages:10",
	}
	for _, key := range keys {
		client.Set(key, "v", time.Hour)
	}

	removed, err := client.Invalidate("chat:1:messages:*")
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("Expected 2 removed, got %d", removed)
	}

	if _, state := client.Get("chat:1:summary"); state != StateFresh {
		t.Fatalf("Unmatched key should survive, got %v", state)
	}
	if _, state := client.Get("chat:2:messages:10"); state != StateFresh {
		t.Fatalf("Other chat's key should survive, got %v", state)
	}
	if _, state := client.Get("chat:1:messages:10"); state != StateMissing {
		t.Fatalf("Matched key should be gone, got %v", state)
	}
}

func TestInvalidateExactKey(t *testing.T) {
	client := newTestClient(t, nil)

	client.Set("chat:1:summary", "v", time.Hour)

	removed, err := client.Invalidate("chat:1:summary")
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Expected 1 removed, got %d", removed)
	}
}

func TestInvalidateEmptyPattern(t *testing.T) {
	client := newTestClient(t, nil)

	client.Set("user:1", "v", time.Hour)

	removed, err := client.Invalidate("")
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("Empty pattern must remove nothing, got %d", removed)
	}
	if _, state := client.Get("user:1"); state != StateFresh {
		t.Fatalf("Entry should survive an empty pattern, got %v", state)
	}
}

func TestClearAll(t *testing.T) {
	client := newTestClient(t, nil)

	client.Set("a:1", "v", time.Hour)
	client.Set("b:2", "v", time.Hour)

	if err := client.ClearAll(); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if client.Len() != 0 {
		t.Fatalf("Expected empty cache, got %d entries", client.Len())
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	client := newTestClient(t, nil)

	var mu sync.Mutex
	var events []Event
	unsubscribe := client.Subscribe("user:*", func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer unsubscribe()

	client.Set("user:1", "a", time.Hour)
	client.Set("user:1", "b", time.Hour)
	client.Delete("user:1")
	client.Set("other:1", "x", time.Hour) // must not match

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[0].Kind != EventCreated {
		t.Fatalf("Expected Created first, got %v", events[0].Kind)
	}
	if events[1].Kind != EventUpdated {
		t.Fatalf("Expected Updated second, got %v", events[1].Kind)
	}
	if events[2].Kind != EventInvalidated {
		t.Fatalf("Expected Invalidated third, got %v", events[2].Kind)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	client := newTestClient(t, nil)

	var mu sync.Mutex
	count := 0
	unsubscribe := client.Subscribe("user:1", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	client.Set("user:1", "a", time.Hour)
	unsubscribe()
	client.Set("user:1", "b", time.Hour)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("Expected 1 event before unsubscribe, got %d", count)
	}
}

func TestSetAfterClose(t *testing.T) {
	client := newTestClient(t, nil)
	client.Close()

	if err := client.Set("user:1", "v", time.Hour); err != ErrClosed {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
}
