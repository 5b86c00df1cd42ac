package obsync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Fetcher loads a value from the remote source of truth. It is treated as
// an opaque async operation; timeouts are the fetcher's own concern (via
// the context it receives).
type Fetcher func(ctx context.Context) (any, error)

// BackoffKind selects the retry pacing strategy.
type BackoffKind int

const (
	// BackoffExponential doubles the delay per attempt (default)
	BackoffExponential BackoffKind = iota
	// BackoffLinear grows the delay by a fixed step per attempt
	BackoffLinear
)

// RetryPolicy bounds fetch retries within a single query.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget. Zero or one means a
	// single attempt.
	MaxAttempts int

	// Backoff selects the pacing strategy between attempts
	Backoff BackoffKind

	// InitialDelay seeds the backoff. Default: 100ms.
	InitialDelay time.Duration

	// MaxDelay caps the backoff. Default: 5s.
	MaxDelay time.Duration
}

// QueryOptions tunes a single query.
type QueryOptions struct {
	// TTL is the freshness window for the fetched value; zero uses the
	// client default. Callers pick the window per data category.
	TTL time.Duration

	// RefetchInterval, when positive, schedules a background refetch of
	// this key for as long as at least one subscription observes it.
	RefetchInterval time.Duration

	// Retry bounds fetch attempts within this query
	Retry RetryPolicy

	// Disabled makes the query a no-op returning the last cached value
	// without fetching
	Disabled bool
}

// Result is what a query hands back. Err and Value can both be set: a
// failed refetch degrades to serving the stale value alongside the error,
// and the caller decides what to show.
type Result struct {
	Value any
	State State
	Stale bool
	Err   error
}

// Query answers a read for key. Fresh cache entries are returned without
// any network call; otherwise the fetcher runs, with concurrent callers for
// the same key collapsed onto a single fetch. Cancelling ctx stops the wait
// but never the fetch itself; the settled result is still cached for the
// next caller.
func (cl *Client) Query(ctx context.Context, key string, fetcher Fetcher, opts *QueryOptions) Result {
	if opts == nil {
		opts = &QueryOptions{}
	}

	cached, state := cl.cache.Get(key)
	if opts.Disabled {
		return Result{Value: cached, State: state, Stale: state == StateStale}
	}
	// register the refresh task before the fresh-hit return, so a query
	// that first lands on an already-fresh entry still refetches later
	if opts.RefetchInterval > 0 {
		cl.refresh.ensure(key, fetcher, opts)
	}
	if state == StateFresh {
		return Result{Value: cached, State: state}
	}

	value, err := cl.fetchThrough(ctx, key, fetcher, opts)
	if err != nil {
		if state != StateMissing && state != StateInvalidated {
			// fail soft: hand the stale value back with the error
			return Result{Value: cached, State: state, Stale: true, Err: err}
		}
		return Result{State: state, Err: err}
	}
	return Result{Value: value, State: StateFresh}
}

// QueryChan is the non-blocking form of Query; the result is delivered on
// a buffered channel once the read settles.
func (cl *Client) QueryChan(ctx context.Context, key string, fetcher Fetcher, opts *QueryOptions) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- cl.Query(ctx, key, fetcher, opts)
	}()
	return ch
}

// Refetch forces a fetch for key regardless of freshness, populating the
// cache on success. Used by background refresh and exposed for consumers
// that need an explicit reload.
func (cl *Client) Refetch(ctx context.Context, key string, fetcher Fetcher, opts *QueryOptions) Result {
	if opts == nil {
		opts = &QueryOptions{}
	}

	value, err := cl.fetchThrough(ctx, key, fetcher, opts)
	if err != nil {
		cached, state := cl.cache.Get(key)
		if state != StateMissing && state != StateInvalidated {
			return Result{Value: cached, State: state, Stale: true, Err: err}
		}
		return Result{State: state, Err: err}
	}
	return Result{Value: value, State: StateFresh}
}

// fetchThrough runs the deduplicated fetch and populates the cache unless
// the key was invalidated while the fetch was in flight. Waiters that
// attached to an existing flight still receive the value; only the cache
// write is skipped on the invalidation race. The fetch-and-cache closure
// runs exactly once per flight regardless of how many callers attached.
func (cl *Client) fetchThrough(ctx context.Context, key string, fetcher Fetcher, opts *QueryOptions) (any, error) {
	executed := false
	value, err, _ := cl.sf.DoContext(ctx, key, func() (any, error) {
		executed = true

		gen := cl.cache.invalidationGen(key)
		v, ferr := cl.runFetch(ctx, key, fetcher, opts.Retry)
		if ferr != nil {
			return nil, ferr
		}

		if cl.cache.invalidationGen(key) == gen {
			if serr := cl.cache.Set(key, v, opts.TTL); serr != nil {
				cl.logger.Error("failed to cache fetched value", F("key", key), F("error", serr))
			}
		} else {
			cl.logger.Debug("fetch result discarded, key invalidated in flight", F("key", key))
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	if !executed {
		cl.stats.incDedupWaits()
	}
	return value, nil
}

// runFetch executes the fetcher with the query's retry budget. No lock is
// held here; this is the layer's only I/O suspension point.
func (cl *Client) runFetch(ctx context.Context, key string, fetcher Fetcher, policy RetryPolicy) (any, error) {
	cl.stats.incInFlight()
	defer cl.stats.decInFlight()

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := newBackOff(policy)
	attempts := 0
	for {
		attempts++
		cl.stats.incFetches()

		value, err := cl.doFetch(ctx, fetcher)
		if err == nil {
			return value, nil
		}

		cl.stats.incFetchErrors()
		if !IsRetryable(err) || attempts >= maxAttempts {
			return nil, &FetchError{Key: key, Attempts: attempts, Err: err}
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return nil, &FetchError{Key: key, Attempts: attempts, Err: err}
		}
		select {
		case <-ctx.Done():
			return nil, &FetchError{Key: key, Attempts: attempts, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
}

func (cl *Client) doFetch(ctx context.Context, fetcher Fetcher) (any, error) {
	if cl.breaker != nil {
		return cl.breaker.Execute(func() (any, error) {
			return fetcher(ctx)
		})
	}
	return fetcher(ctx)
}

func newBackOff(policy RetryPolicy) backoff.BackOff {
	initial := policy.InitialDelay
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	if policy.Backoff == BackoffLinear {
		return &linearBackOff{step: initial, max: maxDelay}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = maxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// linearBackOff grows the delay by a fixed step per attempt. cenkalti's
// package has no linear policy, so this fills the gap behind its interface.
type linearBackOff struct {
	step time.Duration
	max  time.Duration
	cur  time.Duration
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.cur += l.step
	if l.cur > l.max {
		l.cur = l.max
	}
	return l.cur
}

func (l *linearBackOff) Reset() {
	l.cur = 0
}
