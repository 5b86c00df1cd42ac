package obsync

import (
	"context"
	"sync/atomic"
	"time"
)

// MutationStatus tracks a mutation through its lifecycle. The only terminal
// states are StatusCommitted and StatusRolledBack; StatusOptimisticApplied
// can hold indefinitely while the client is offline.
type MutationStatus int32

const (
	// StatusPending means the mutation has not started
	StatusPending MutationStatus = iota

	// StatusOptimisticApplied means the optimistic value is visible but
	// the remote has not confirmed it
	StatusOptimisticApplied

	// StatusSettling means the remote operation is executing
	StatusSettling

	// StatusCommitted means the remote confirmed the mutation
	StatusCommitted

	// StatusRolledBack means the mutation failed and any optimistic value
	// was restored
	StatusRolledBack
)

func (s MutationStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusOptimisticApplied:
		return "OptimisticApplied"
	case StatusSettling:
		return "Settling"
	case StatusCommitted:
		return "Committed"
	case StatusRolledBack:
		return "RolledBack"
	default:
		return "Unknown"
	}
}

// MutationFunc performs the remote write. It receives the caller's
// variables and returns the canonical result the remote settled on.
type MutationFunc func(ctx context.Context, variables any) (any, error)

// OptimisticUpdate describes the local value to show before the remote
// confirms. Apply derives it from the current cached value (which may be
// nil) and the mutation variables.
type OptimisticUpdate struct {
	// Key is the cache key the optimistic value is written to
	Key string

	// TTL for the optimistic entry; zero uses the client default
	TTL time.Duration

	// Apply computes the optimistic value. It must not mutate current.
	Apply func(current any, variables any) any
}

// MutationOptions configures a mutation.
type MutationOptions struct {
	// Type names the operation, for logging and queue introspection
	Type string

	// Optimistic, when set, makes the local value visible immediately and
	// guarantees rollback to the prior state on failure
	Optimistic *OptimisticUpdate

	// InvalidatePatterns are invalidated after a successful commit
	InvalidatePatterns []string

	// InvalidateFunc derives additional patterns from the commit result
	InvalidateFunc func(result any) []string

	// RetryOnFailure re-enqueues the mutation for background sync after
	// an online failure (the rollback still happens first)
	RetryOnFailure bool

	// MaxRetries is the attempt budget when queued; zero uses the queue
	// default
	MaxRetries int

	// GroupKey serializes queued mutations touching the same data
	GroupKey string
}

// Mutation is a single write operation with optimistic caching and
// guaranteed rollback. Create one per call site via NewMutation; Execute
// may run many times with different variables.
type Mutation struct {
	client *Client
	op     MutationFunc
	opts   MutationOptions
	status atomic.Int32
}

// NewMutation builds a mutation around the given remote operation.
func (cl *Client) NewMutation(op MutationFunc, opts MutationOptions) *Mutation {
	return &Mutation{client: cl, op: op, opts: opts}
}

// Status returns the mutation's current lifecycle status.
func (m *Mutation) Status() MutationStatus {
	return MutationStatus(m.status.Load())
}

func (m *Mutation) setStatus(s MutationStatus) {
	m.status.Store(int32(s))
}

// Execute runs the mutation. With an optimistic update configured, the
// local value becomes visible before any network I/O. While offline the
// mutation is queued and Execute returns ErrQueued: the optimistic value
// stays visible and settles when connectivity returns.
//
// On an online failure the optimistic value is rolled back before Execute
// returns; with RetryOnFailure the operation is then re-queued without the
// optimistic value.
func (m *Mutation) Execute(ctx context.Context, variables any) (any, error) {
	cl := m.client
	m.setStatus(StatusPending)

	var undo *undoRecord
	if m.opts.Optimistic != nil {
		cur, _ := cl.cache.Get(m.opts.Optimistic.Key)
		value := m.opts.Optimistic.Apply(cur, variables)

		var err error
		undo, err = cl.cache.applyOptimistic(m.opts.Optimistic.Key, value, m.opts.Optimistic.TTL)
		if err != nil {
			return nil, err
		}
		m.setStatus(StatusOptimisticApplied)
	}

	if !cl.Online() {
		item := &QueueItem{
			Type:       m.opts.Type,
			Payload:    variables,
			MaxRetries: m.opts.MaxRetries,
			GroupKey:   m.opts.GroupKey,
			op:         m.op,
			onCommit: func(result any) {
				cl.cache.confirmOptimistic(undo, result, m.optimisticTTL())
				cl.runInvalidations(&m.opts, result)
				m.setStatus(StatusCommitted)
			},
			onAbort: func(err error) {
				cl.rollbackUndo(undo)
				m.setStatus(StatusRolledBack)
			},
		}
		if err := cl.queue.Enqueue(item); err != nil {
			cl.rollbackUndo(undo)
			m.setStatus(StatusRolledBack)
			return nil, err
		}
		return nil, ErrQueued
	}

	m.setStatus(StatusSettling)
	result, err := m.op(ctx, variables)
	if err != nil {
		cl.rollbackUndo(undo)
		m.setStatus(StatusRolledBack)

		if m.opts.RetryOnFailure && IsRetryable(err) {
			// re-queue without the optimistic value: it was already
			// rolled back and must not reappear on retry
			item := &QueueItem{
				Type:       m.opts.Type,
				Payload:    variables,
				MaxRetries: m.opts.MaxRetries,
				GroupKey:   m.opts.GroupKey,
				op:         m.op,
				onCommit: func(result any) {
					cl.runInvalidations(&m.opts, result)
					m.setStatus(StatusCommitted)
				},
			}
			if qerr := cl.queue.Enqueue(item); qerr != nil {
				cl.logger.Error("failed to queue mutation for retry",
					F("type", m.opts.Type), F("error", qerr))
			}
		}
		return nil, err
	}

	cl.cache.confirmOptimistic(undo, result, m.optimisticTTL())
	cl.runInvalidations(&m.opts, result)
	m.setStatus(StatusCommitted)
	return result, nil
}

// ExecuteChan is the non-blocking form of Execute.
func (m *Mutation) ExecuteChan(ctx context.Context, variables any) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		result, err := m.Execute(ctx, variables)
		ch <- Result{Value: result, Err: err}
	}()
	return ch
}

func (m *Mutation) optimisticTTL() time.Duration {
	if m.opts.Optimistic == nil {
		return 0
	}
	return m.opts.Optimistic.TTL
}

// runInvalidations applies the mutation's invalidation patterns after a
// successful commit.
func (cl *Client) runInvalidations(opts *MutationOptions, result any) {
	patterns := append([]string(nil), opts.InvalidatePatterns...)
	if opts.InvalidateFunc != nil {
		patterns = append(patterns, opts.InvalidateFunc(result)...)
	}
	for _, pattern := range patterns {
		if _, err := cl.cache.Invalidate(pattern); err != nil {
			cl.logger.Error("post-commit invalidation failed",
				F("pattern", pattern), F("error", err))
		}
	}
}

// rollbackUndo restores a pre-mutation snapshot. When the restore itself
// fails the cached state is unverifiable, so the key is invalidated to
// force a refetch; the failure is never swallowed silently.
func (cl *Client) rollbackUndo(undo *undoRecord) {
	if undo == nil {
		return
	}
	if err := cl.cache.rollback(undo); err != nil {
		cl.logger.Error("rollback failed, invalidating key",
			F("key", undo.key), F("error", err))
		if _, ierr := cl.cache.Invalidate(undo.key); ierr != nil {
			cl.logger.Error("post-rollback invalidation failed",
				F("key", undo.key), F("error", ierr))
		}
	}
}
