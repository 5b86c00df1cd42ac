// Package singleflight collapses concurrent fetches for the same key into a
// single in-flight request. Late callers attach as waiters and every waiter
// settles with the same result; the in-flight record is destroyed once the
// fetch settles.
package singleflight

import (
	"context"
	"sync"
)

// Group tracks at most one in-flight request per key.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*flight[V]
}

// flight is a fetch currently executing for one key.
type flight[V any] struct {
	wg sync.WaitGroup

	// Written once before wg.Done, read only after wg.Wait.
	val V
	err error

	// Guarded by the Group's mutex.
	waiters int
	chans   []chan<- Result[V]
}

// Result carries a settled fetch outcome over a channel. Shared reports
// whether other callers attached to the same flight.
type Result[V any] struct {
	Val    V
	Err    error
	Shared bool
}

// Do executes fn, guaranteeing that only one execution is in flight for key
// at a time. Concurrent callers for the same key block until the original
// settles and receive the identical result. shared reports whether the
// result was delivered to more than one caller.
func (g *Group[K, V]) Do(key K, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*flight[V])
	}
	if f, ok := g.m[key]; ok {
		f.waiters++
		g.mu.Unlock()
		f.wg.Wait()
		return f.val, f.err, true
	}
	f := new(flight[V])
	f.wg.Add(1)
	g.m[key] = f
	g.mu.Unlock()

	g.settle(f, key, fn)
	return f.val, f.err, f.waiters > 0
}

// DoChan is like Do but returns immediately with a channel that receives the
// result when the flight settles. The channel is buffered and never closed.
func (g *Group[K, V]) DoChan(key K, fn func() (V, error)) <-chan Result[V] {
	ch := make(chan Result[V], 1)
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*flight[V])
	}
	if f, ok := g.m[key]; ok {
		f.waiters++
		f.chans = append(f.chans, ch)
		g.mu.Unlock()
		return ch
	}
	f := &flight[V]{chans: []chan<- Result[V]{ch}}
	f.wg.Add(1)
	g.m[key] = f
	g.mu.Unlock()

	go g.settle(f, key, fn)
	return ch
}

// DoContext is like Do but stops waiting when ctx is cancelled. The
// underlying fetch is not cancelled; its result still settles every other
// waiter and remains available for caching.
func (g *Group[K, V]) DoContext(ctx context.Context, key K, fn func() (V, error)) (v V, err error, shared bool) {
	if err := ctx.Err(); err != nil {
		return v, err, false
	}

	ch := g.DoChan(key, fn)
	select {
	case <-ctx.Done():
		return v, ctx.Err(), false
	case r := <-ch:
		return r.Val, r.Err, r.Shared
	}
}

func (g *Group[K, V]) settle(f *flight[V], key K, fn func() (V, error)) {
	f.val, f.err = fn()
	f.wg.Done()

	g.mu.Lock()
	delete(g.m, key)
	for _, ch := range f.chans {
		ch <- Result[V]{f.val, f.err, f.waiters > 0}
	}
	g.mu.Unlock()
}

// Forget drops the in-flight record for key. Future Do calls execute fn
// again instead of attaching to the earlier flight.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// InFlight returns the number of keys with an executing fetch.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

// Waiters returns how many callers attached to the flight for key beyond
// the one executing it, zero if nothing is in flight.
func (g *Group[K, V]) Waiters(key K) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.m[key]; ok {
		return f.waiters
	}
	return 0
}
