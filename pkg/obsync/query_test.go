package obsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueryFetchesOnMiss(t *testing.T) {
	client := newTestClient(t, nil)

	var fetches atomic.Int64
	res := client.Query(context.Background(), "user:1", func(context.Context) (any, error) {
		fetches.Add(1)
		return "remote-value", nil
	}, nil)

	if res.Err != nil {
		t.Fatalf("Query failed: %v", res.Err)
	}
	if res.Value != "remote-value" {
		t.Fatalf("Expected remote-value, got %v", res.Value)
	}
	if fetches.Load() != 1 {
		t.Fatalf("Expected 1 fetch, got %d", fetches.Load())
	}

	// value must now be cached and fresh
	if _, state := client.Get("user:1"); state != StateFresh {
		t.Fatalf("Expected fetched value cached fresh, got %v", state)
	}
}

func TestQueryServesFreshWithoutFetching(t *testing.T) {
	client := newTestClient(t, nil)
	client.Set("user:1", "cached", time.Hour)

	var fetches atomic.Int64
	res := client.Query(context.Background(), "user:1", func(context.Context) (any, error) {
		fetches.Add(1)
		return "remote", nil
	}, nil)

	if res.Value != "cached" {
		t.Fatalf("Expected cached value, got %v", res.Value)
	}
	if fetches.Load() != 0 {
		t.Fatalf("Fresh read must not fetch, got %d fetches", fetches.Load())
	}
}

func TestQueryDeduplicatesConcurrentFetches(t *testing.T) {
	client := newTestClient(t, nil)

	var fetches atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := func(context.Context) (any, error) {
		fetches.Add(1)
		close(started)
		<-release
		return "shared", nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := fetcher
			if i > 0 {
				// late callers attach with a fetcher that must never run
				f = func(context.Context) (any, error) {
					fetches.Add(1)
					return "wrong", nil
				}
			}
			if i > 0 {
				<-started
			}
			results[i] = client.Query(context.Background(), "user:1", f, nil)
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond) // let the other callers attach
	close(release)
	wg.Wait()

	if fetches.Load() != 1 {
		t.Fatalf("Expected exactly 1 fetch for %d callers, got %d", callers, fetches.Load())
	}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("Caller %d failed: %v", i, res.Err)
		}
		if res.Value != "shared" {
			t.Fatalf("Caller %d expected shared value, got %v", i, res.Value)
		}
	}
}

func TestQueryFailSoftServesStale(t *testing.T) {
	client := newTestClient(t, nil)

	client.Set("user:1", "old-value", 50*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	fetchErr := errors.New("remote down")
	res := client.Query(context.Background(), "user:1", func(context.Context) (any, error) {
		return nil, fetchErr
	}, nil)

	if res.Err == nil {
		t.Fatal("Expected an error from the failed fetch")
	}
	if !errors.Is(res.Err, fetchErr) {
		t.Fatalf("Expected wrapped fetch error, got %v", res.Err)
	}
	if !res.Stale {
		t.Fatal("Expected result marked stale")
	}
	if res.Value != "old-value" {
		t.Fatalf("Expected stale value served, got %v", res.Value)
	}
}

func TestQueryErrorWithNoCachedValue(t *testing.T) {
	client := newTestClient(t, nil)

	res := client.Query(context.Background(), "user:1", func(context.Context) (any, error) {
		return nil, errors.New("remote down")
	}, nil)

	if res.Err == nil {
		t.Fatal("Expected an error")
	}
	if res.Value != nil {
		t.Fatalf("Expected no value, got %v", res.Value)
	}
	var fe *FetchError
	if !errors.As(res.Err, &fe) {
		t.Fatalf("Expected *FetchError, got %T", res.Err)
	}
}

func TestQueryDisabledNeverFetches(t *testing.T) {
	client := newTestClient(t, nil)
	client.Set("user:1", "cached", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	var fetches atomic.Int64
	res := client.Query(context.Background(), "user:1", func(context.Context) (any, error) {
		fetches.Add(1)
		return "remote", nil
	}, &QueryOptions{Disabled: true})

	if fetches.Load() != 0 {
		t.Fatalf("Disabled query must not fetch, got %d", fetches.Load())
	}
	if res.Value != "cached" {
		t.Fatalf("Expected last cached value, got %v", res.Value)
	}
	if !res.Stale {
		t.Fatal("Expected stale flag on an expired cached value")
	}
}

func TestQueryRetriesExhaustBudget(t *testing.T) {
	client := newTestClient(t, nil)

	var attempts atomic.Int64
	res := client.Query(context.Background(), "user:1", func(context.Context) (any, error) {
		attempts.Add(1)
		return nil, errors.New("transient")
	}, &QueryOptions{Retry: RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}})

	if attempts.Load() != 3 {
		t.Fatalf("Expected 3 attempts, got %d", attempts.Load())
	}
	var fe *FetchError
	if !errors.As(res.Err, &fe) {
		t.Fatalf("Expected *FetchError, got %T", res.Err)
	}
	if fe.Attempts != 3 {
		t.Fatalf("Expected FetchError.Attempts=3, got %d", fe.Attempts)
	}
}

func TestQueryDoesNotRetryValidationErrors(t *testing.T) {
	client := newTestClient(t, nil)

	var attempts atomic.Int64
	client.Query(context.Background(), "user:1", func(context.Context) (any, error) {
		attempts.Add(1)
		return nil, &ValidationError{Op: "user.get", Reason: "bad id"}
	}, &QueryOptions{Retry: RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond}})

	if attempts.Load() != 1 {
		t.Fatalf("Validation errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestQueryRecoversAfterTransientFailure(t *testing.T) {
	client := newTestClient(t, nil)

	var attempts atomic.Int64
	res := client.Query(context.Background(), "user:1", func(context.Context) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "eventually", nil
	}, &QueryOptions{Retry: RetryPolicy{
		MaxAttempts:  5,
		Backoff:      BackoffLinear,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}})

	if res.Err != nil {
		t.Fatalf("Expected success after retries, got %v", res.Err)
	}
	if res.Value != "eventually" {
		t.Fatalf("Expected eventual value, got %v", res.Value)
	}
	if attempts.Load() != 3 {
		t.Fatalf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestQueryDiscardsResultInvalidatedInFlight(t *testing.T) {
	client := newTestClient(t, nil)

	fetchStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan Result, 1)
	go func() {
		done <- client.Query(context.Background(), "user:1", func(context.Context) (any, error) {
			close(fetchStarted)
			<-release
			return "in-flight-value", nil
		}, nil)
	}()

	<-fetchStarted
	if _, err := client.Invalidate("user:1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	close(release)

	res := <-done
	// the waiter still receives the value
	if res.Err != nil {
		t.Fatalf("Query failed: %v", res.Err)
	}
	if res.Value != "in-flight-value" {
		t.Fatalf("Waiter should get the fetched value, got %v", res.Value)
	}

	// but the cache must not have been populated
	if _, state := client.Get("user:1"); state != StateMissing {
		t.Fatalf("Invalidated-in-flight result must not be cached, got state %v", state)
	}
}

func TestQueryChanDeliversResult(t *testing.T) {
	client := newTestClient(t, nil)

	ch := client.QueryChan(context.Background(), "user:1", func(context.Context) (any, error) {
		return 42, nil
	}, nil)

	select {
	case res := <-ch:
		if res.Err != nil {
			t.Fatalf("QueryChan failed: %v", res.Err)
		}
		if res.Value != 42 {
			t.Fatalf("Expected 42, got %v", res.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for QueryChan result")
	}
}

func TestBackgroundRefreshWhileSubscribed(t *testing.T) {
	client := newTestClient(t, nil)

	var fetches atomic.Int64
	fetcher := func(context.Context) (any, error) {
		return fetches.Add(1), nil
	}

	unsubscribe := client.Subscribe("feed:1", func(Event) {})
	opts := &QueryOptions{TTL: 10 * time.Millisecond, RefetchInterval: 20 * time.Millisecond}

	client.Query(context.Background(), "feed:1", fetcher, opts)
	if fetches.Load() != 1 {
		t.Fatalf("Expected initial fetch, got %d", fetches.Load())
	}

	// the scheduler should refetch at least once more while subscribed
	deadline := time.After(time.Second)
	for fetches.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("Background refresh never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	unsubscribe()
	time.Sleep(50 * time.Millisecond)
	after := fetches.Load()
	time.Sleep(100 * time.Millisecond)
	if fetches.Load() > after+1 {
		t.Fatalf("Refresh should stop after unsubscribe, went %d -> %d", after, fetches.Load())
	}
}

func TestBackgroundRefreshScheduledOnFreshHit(t *testing.T) {
	client := newTestClient(t, nil)

	unsubscribe := client.Subscribe("feed:1", func(Event) {})
	defer unsubscribe()

	// seeded fresh, e.g. by a real-time event handler
	client.Set("feed:1", "seeded", time.Hour)

	var fetches atomic.Int64
	res := client.Query(context.Background(), "feed:1", func(context.Context) (any, error) {
		fetches.Add(1)
		return "refetched", nil
	}, &QueryOptions{TTL: time.Hour, RefetchInterval: 10 * time.Millisecond})

	if res.Value != "seeded" {
		t.Fatalf("Expected the fresh seeded value, got %v", res.Value)
	}
	if fetches.Load() != 0 {
		t.Fatalf("Fresh hit must not fetch inline, got %d fetches", fetches.Load())
	}

	// the fresh hit must still have registered the refetch loop
	waitFor(t, time.Second, func() bool { return fetches.Load() >= 1 })
}
