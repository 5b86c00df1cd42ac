package obsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quickQueueConfig() *Config {
	config := NewDefaultConfig()
	config.Queue.FlushInterval = 20 * time.Millisecond
	config.Queue.InitialBackoff = time.Millisecond
	config.Queue.MaxBackoff = 5 * time.Millisecond
	return config
}

func TestOfflineMutationSyncsWhenBackOnline(t *testing.T) {
	client := newTestClient(t, quickQueueConfig())
	client.SetOnline(false)

	var ran atomic.Int64
	mut := client.NewMutation(func(_ context.Context, variables any) (any, error) {
		ran.Add(1)
		return "synced:" + variables.(string), nil
	}, MutationOptions{
		Type: "note.update",
		Optimistic: &OptimisticUpdate{
			Key:   "note:1",
			Apply: func(current, variables any) any { return variables },
		},
	})

	if _, err := mut.Execute(context.Background(), "draft"); !errors.Is(err, ErrQueued) {
		t.Fatalf("Expected ErrQueued, got %v", err)
	}

	client.SetOnline(true)
	waitFor(t, time.Second, func() bool { return client.QueueLen() == 0 })

	if ran.Load() != 1 {
		t.Fatalf("Expected the queued op to run once, got %d", ran.Load())
	}
	if mut.Status() != StatusCommitted {
		t.Fatalf("Expected StatusCommitted after sync, got %v", mut.Status())
	}

	// the optimistic entry was promoted with the canonical result
	value, state := client.Get("note:1")
	if state != StateFresh {
		t.Fatalf("Expected StateFresh after sync, got %v", state)
	}
	if value != "synced:draft" {
		t.Fatalf("Expected canonical value, got %v", value)
	}
}

func TestQueueRetriesThenDrops(t *testing.T) {
	config := quickQueueConfig()
	config.Queue.MaxRetries = 3
	client := newTestClient(t, config)
	client.SetOnline(false)

	var attempts atomic.Int64
	mut := client.NewMutation(func(context.Context, any) (any, error) {
		attempts.Add(1)
		return nil, errors.New("still failing")
	}, MutationOptions{
		Type: "note.update",
		Optimistic: &OptimisticUpdate{
			Key:   "note:1",
			Apply: func(current, variables any) any { return "held" },
		},
	})

	if _, err := mut.Execute(context.Background(), nil); !errors.Is(err, ErrQueued) {
		t.Fatalf("Expected ErrQueued, got %v", err)
	}

	client.SetOnline(true)

	select {
	case item := <-client.Failures():
		if item.RetryCount != 3 {
			t.Fatalf("Expected 3 attempts before drop, got %d", item.RetryCount)
		}
		if item.Type != "note.update" {
			t.Fatalf("Expected failed item type preserved, got %q", item.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for permanent failure")
	}

	if attempts.Load() != 3 {
		t.Fatalf("Expected exactly 3 attempts, got %d", attempts.Load())
	}
	if client.QueueLen() != 0 {
		t.Fatalf("Dropped item should leave the queue, got %d", client.QueueLen())
	}
	if mut.Status() != StatusRolledBack {
		t.Fatalf("Expected StatusRolledBack after drop, got %v", mut.Status())
	}

	// the held optimistic value was rolled back with the drop
	if _, state := client.Get("note:1"); state != StateMissing {
		t.Fatalf("Expected optimistic value rolled back, got %v", state)
	}
}

func TestQueueValidationErrorDropsImmediately(t *testing.T) {
	config := quickQueueConfig()
	config.Queue.MaxRetries = 5
	client := newTestClient(t, config)
	client.SetOnline(false)

	var attempts atomic.Int64
	mut := client.NewMutation(func(context.Context, any) (any, error) {
		attempts.Add(1)
		return nil, &ValidationError{Op: "note.update", Reason: "payload too large"}
	}, MutationOptions{Type: "note.update"})

	if _, err := mut.Execute(context.Background(), nil); !errors.Is(err, ErrQueued) {
		t.Fatalf("Expected ErrQueued, got %v", err)
	}
	client.SetOnline(true)

	select {
	case <-client.Failures():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for failure")
	}
	if attempts.Load() != 1 {
		t.Fatalf("Validation errors must drop without retry, got %d attempts", attempts.Load())
	}
}

func TestQueueFIFOWithinGroup(t *testing.T) {
	client := newTestClient(t, quickQueueConfig())
	client.SetOnline(false)

	var mu sync.Mutex
	var order []string
	makeMutation := func(name string) *Mutation {
		return client.NewMutation(func(context.Context, any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}, MutationOptions{Type: name, GroupKey: "chat:1"})
	}

	for _, name := range []string{"first", "second", "third"} {
		if _, err := makeMutation(name).Execute(context.Background(), nil); !errors.Is(err, ErrQueued) {
			t.Fatalf("Expected ErrQueued for %s, got %v", name, err)
		}
	}

	client.SetOnline(true)
	waitFor(t, time.Second, func() bool { return client.QueueLen() == 0 })

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("Expected 3 ops, got %d", len(order))
	}
	for i, want := range []string{"first", "second", "third"} {
		if order[i] != want {
			t.Fatalf("Expected FIFO order within group, got %v", order)
		}
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	config := quickQueueConfig()
	config.Queue.MaxItems = 2
	config.Queue.FlushInterval = time.Hour // keep items queued
	client := newTestClient(t, config)
	client.SetOnline(false)

	enqueue := func(name string) {
		mut := client.NewMutation(func(context.Context, any) (any, error) {
			return nil, nil
		}, MutationOptions{Type: name})
		if _, err := mut.Execute(context.Background(), nil); !errors.Is(err, ErrQueued) {
			t.Fatalf("Expected ErrQueued for %s, got %v", name, err)
		}
	}

	enqueue("a")
	enqueue("b")
	enqueue("c") // pushes "a" out

	if client.QueueLen() != 2 {
		t.Fatalf("Expected queue bounded at 2, got %d", client.QueueLen())
	}

	select {
	case item := <-client.Failures():
		if item.Type != "a" {
			t.Fatalf("Expected oldest item dropped, got %q", item.Type)
		}
		if item.lastErr != ErrQueueOverflow {
			t.Fatalf("Expected ErrQueueOverflow, got %v", item.lastErr)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for overflow drop")
	}
	if client.Stats().QueueDrops() != 1 {
		t.Fatalf("Expected 1 queue drop, got %d", client.Stats().QueueDrops())
	}
}

func TestQueueOverflowSparesItemMidAttempt(t *testing.T) {
	config := quickQueueConfig()
	config.Queue.MaxItems = 1
	config.Queue.FlushInterval = time.Hour // only explicit flushes
	client := newTestClient(t, config)

	started := make(chan struct{})
	release := make(chan struct{})
	var committed, aborted atomic.Int64
	slow := &QueueItem{
		Type: "slow",
		op: func(context.Context, any) (any, error) {
			close(started)
			<-release
			return "done", nil
		},
		onCommit: func(any) { committed.Add(1) },
		onAbort:  func(error) { aborted.Add(1) },
	}
	if err := client.queue.Enqueue(slow); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	flushed := make(chan struct{})
	go func() {
		client.queue.Flush(context.Background())
		close(flushed)
	}()
	<-started

	// the queue is at its bound with its only item mid-attempt; the
	// overflow must not pick that item
	next := &QueueItem{Type: "next", op: func(context.Context, any) (any, error) {
		return nil, nil
	}}
	if err := client.queue.Enqueue(next); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if got := client.QueueLen(); got != 2 {
		t.Fatalf("Expected transient bound overrun of 2, got %d", got)
	}

	close(release)
	<-flushed

	if committed.Load() != 1 {
		t.Fatalf("Expected the in-flight item to commit exactly once, got %d", committed.Load())
	}
	if aborted.Load() != 0 {
		t.Fatalf("In-flight item must not settle as a failure, aborted %d times", aborted.Load())
	}
	select {
	case item := <-client.Failures():
		t.Fatalf("Unexpected permanent failure for %q", item.Type)
	default:
	}
	if got := client.QueueLen(); got != 1 {
		t.Fatalf("Expected only the later item left queued, got %d", got)
	}
}

func TestSyncNowFlushesImmediately(t *testing.T) {
	config := quickQueueConfig()
	config.Queue.FlushInterval = time.Hour // only explicit flushes
	client := newTestClient(t, config)
	client.SetOnline(false)

	var ran atomic.Int64
	mut := client.NewMutation(func(context.Context, any) (any, error) {
		ran.Add(1)
		return nil, nil
	}, MutationOptions{Type: "note.update"})

	if _, err := mut.Execute(context.Background(), nil); !errors.Is(err, ErrQueued) {
		t.Fatalf("Expected ErrQueued, got %v", err)
	}

	client.online.Store(true) // restore connectivity without waking the loop
	client.SyncNow(context.Background())

	if ran.Load() != 1 {
		t.Fatalf("Expected SyncNow to run the op, got %d", ran.Load())
	}
	if client.QueueLen() != 0 {
		t.Fatalf("Expected empty queue after SyncNow, got %d", client.QueueLen())
	}
}

func TestSyncNowWaitsForRunningPass(t *testing.T) {
	config := quickQueueConfig()
	config.Queue.FlushInterval = time.Hour // only explicit flushes
	client := newTestClient(t, config)

	started := make(chan struct{})
	release := make(chan struct{})
	slow := &QueueItem{
		Type: "slow",
		op: func(context.Context, any) (any, error) {
			close(started)
			<-release
			return nil, nil
		},
	}
	if err := client.queue.Enqueue(slow); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	go client.queue.Flush(context.Background())
	<-started

	// enqueued after the running pass snapshotted its items, so only a
	// fresh pass can settle it
	var ran atomic.Int64
	next := &QueueItem{Type: "next", op: func(context.Context, any) (any, error) {
		ran.Add(1)
		return nil, nil
	}}
	if err := client.queue.Enqueue(next); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	syncDone := make(chan struct{})
	go func() {
		client.SyncNow(context.Background())
		close(syncDone)
	}()

	close(release)
	select {
	case <-syncDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for SyncNow")
	}

	if ran.Load() != 1 {
		t.Fatalf("SyncNow must run its own pass after the current one, got %d runs", ran.Load())
	}
	if client.QueueLen() != 0 {
		t.Fatalf("Expected empty queue after SyncNow, got %d", client.QueueLen())
	}
}

func TestQueueGroupsFlushIndependently(t *testing.T) {
	client := newTestClient(t, quickQueueConfig())
	client.SetOnline(false)

	// group A's head keeps failing; group B must still settle
	blocked := client.NewMutation(func(context.Context, any) (any, error) {
		return nil, errors.New("group A stuck")
	}, MutationOptions{Type: "a.op", GroupKey: "a", MaxRetries: 100})

	var bRan atomic.Int64
	other := client.NewMutation(func(context.Context, any) (any, error) {
		bRan.Add(1)
		return nil, nil
	}, MutationOptions{Type: "b.op", GroupKey: "b"})

	if _, err := blocked.Execute(context.Background(), nil); !errors.Is(err, ErrQueued) {
		t.Fatalf("Expected ErrQueued, got %v", err)
	}
	if _, err := other.Execute(context.Background(), nil); !errors.Is(err, ErrQueued) {
		t.Fatalf("Expected ErrQueued, got %v", err)
	}

	client.SetOnline(true)
	waitFor(t, time.Second, func() bool { return bRan.Load() == 1 })

	if client.QueueLen() != 1 {
		t.Fatalf("Expected group A's item still queued, got %d", client.QueueLen())
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}
