package obsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// QueueItem is a mutation waiting for background sync. The exported fields
// describe the item to hooks and failure-channel consumers; execution state
// stays unexported.
type QueueItem struct {
	// ID uniquely identifies the item
	ID string

	// Type names the mutation operation
	Type string

	// Payload is the caller-supplied variables for the mutation
	Payload any

	// CreatedAt is when the item entered the queue
	CreatedAt time.Time

	// RetryCount is how many attempts have run so far
	RetryCount int

	// MaxRetries is the total attempt budget; an item failing its
	// MaxRetries'th attempt is dropped
	MaxRetries int

	// GroupKey serializes items touching the same data; items in the same
	// group flush in FIFO order, distinct groups flush in parallel
	GroupKey string

	op          MutationFunc
	onCommit    func(result any)
	onAbort     func(err error)
	bo          backoff.BackOff
	nextAttempt time.Time
	lastErr     error

	// busy marks the item while a flush pass is attempting it, so an
	// overflow drop does not pick an item whose op is in flight
	busy atomic.Bool

	// settled is claimed by whichever path retires the item first; the
	// loser no-ops, so every item reaches exactly one terminal outcome
	settled atomic.Bool
}

// SyncQueue holds mutations issued while offline (or retrying after
// transient failures) and replays them against the remote. FIFO order is
// guaranteed within a GroupKey; separate groups settle independently.
type SyncQueue struct {
	cfg    QueueConfig
	stats  *Stats
	hooks  *Hooks
	logger Logger

	// online gates flushing; while it reports false the queue only holds
	online func() bool

	mu     sync.Mutex
	items  []*QueueItem
	closed bool

	// flushGate keeps at most one flush pass running; overlapping passes
	// would break per-group FIFO
	flushGate sync.Mutex

	failures chan *QueueItem
	wake     chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup
}

func newSyncQueue(cfg QueueConfig, stats *Stats, hooks *Hooks, logger Logger, online func() bool) *SyncQueue {
	q := &SyncQueue{
		cfg:      cfg,
		stats:    stats,
		hooks:    hooks,
		logger:   logger,
		online:   online,
		failures: make(chan *QueueItem, 64),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue adds an item, dropping the oldest idle one if the queue is at
// its bound. A dropped item is reported as a permanent failure. Items a
// flush pass is currently attempting are never dropped; when every queued
// item is mid-attempt the bound is overrun until those attempts settle.
func (q *SyncQueue) Enqueue(item *QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = q.cfg.MaxRetries
	}
	if item.bo == nil {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = q.cfg.InitialBackoff
		eb.MaxInterval = q.cfg.MaxBackoff
		eb.MaxElapsedTime = 0
		eb.Reset()
		item.bo = eb
	}

	var dropped *QueueItem
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.cfg.MaxItems > 0 && len(q.items) >= q.cfg.MaxItems {
		for i, it := range q.items {
			if it.busy.Load() {
				continue
			}
			dropped = it
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.items = append(q.items, item)
	q.stats.setQueueDepth(int64(len(q.items)))
	q.mu.Unlock()

	if dropped != nil {
		q.logger.Warn("sync queue full, dropping oldest item",
			F("id", dropped.ID), F("type", dropped.Type))
		q.reportFailure(dropped, ErrQueueOverflow)
	}
	return nil
}

// Flush attempts every due item once, grouped by GroupKey. Groups run in
// parallel; within a group a failed or not-yet-due item stops the pass so
// later items cannot overtake it. If a pass is already running, Flush waits
// for it and then runs its own, so items enqueued before the call are
// attempted before it returns.
func (q *SyncQueue) Flush(ctx context.Context) {
	if q.online != nil && !q.online() {
		return
	}
	q.flushGate.Lock()
	defer q.flushGate.Unlock()
	q.flush(ctx)
}

// tryFlush is the run loop's form of Flush: it skips the pass entirely when
// one is already underway instead of queueing up behind it.
func (q *SyncQueue) tryFlush(ctx context.Context) {
	if q.online != nil && !q.online() {
		return
	}
	if !q.flushGate.TryLock() {
		return
	}
	defer q.flushGate.Unlock()
	q.flush(ctx)
}

func (q *SyncQueue) flush(ctx context.Context) {
	q.mu.Lock()
	if len(q.items) == 0 || q.closed {
		q.mu.Unlock()
		return
	}
	groups := make(map[string][]*QueueItem)
	order := make([]string, 0)
	for _, item := range q.items {
		if _, ok := groups[item.GroupKey]; !ok {
			order = append(order, item.GroupKey)
		}
		groups[item.GroupKey] = append(groups[item.GroupKey], item)
	}
	q.mu.Unlock()

	var wg sync.WaitGroup
	for _, g := range order {
		wg.Add(1)
		go func(items []*QueueItem) {
			defer wg.Done()
			for _, item := range items {
				if ctx.Err() != nil {
					return
				}
				if !q.processItem(ctx, item) {
					return // keep FIFO order within the group
				}
			}
		}(groups[g])
	}
	wg.Wait()
}

// processItem runs one attempt for the item. It returns true when later
// items in the same group may proceed (success or permanent drop) and false
// when the item stays queued ahead of them.
func (q *SyncQueue) processItem(ctx context.Context, item *QueueItem) bool {
	now := time.Now()
	if now.Before(item.nextAttempt) {
		return false
	}
	if item.settled.Load() {
		return true
	}

	item.busy.Store(true)
	defer item.busy.Store(false)

	item.RetryCount++
	result, err := item.op(ctx, item.Payload)
	if err == nil {
		if !item.settled.CompareAndSwap(false, true) {
			// an overflow drop raced the attempt and already settled it
			return true
		}
		q.remove(item)
		if item.onCommit != nil {
			item.onCommit(result)
		}
		q.logger.Debug("queued mutation synced",
			F("id", item.ID), F("type", item.Type), F("attempts", item.RetryCount))
		return true
	}

	if !IsRetryable(err) || item.RetryCount >= item.MaxRetries {
		q.remove(item)
		q.reportFailure(item, err)
		return true
	}

	q.mu.Lock()
	item.lastErr = err
	q.mu.Unlock()
	item.nextAttempt = now.Add(item.bo.NextBackOff())
	q.logger.Debug("queued mutation attempt failed, will retry",
		F("id", item.ID), F("attempt", item.RetryCount),
		F("max", item.MaxRetries), F("error", err))
	return false
}

func (q *SyncQueue) remove(item *QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it == item {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.stats.setQueueDepth(int64(len(q.items)))
}

// reportFailure settles an item that will never sync: it aborts the
// mutation (rolling back any held optimistic value), publishes to the
// failure channel and fires hooks. The channel send is non-blocking; a slow
// consumer loses notifications, not correctness. The settled claim makes it
// a no-op for an item another path already retired.
func (q *SyncQueue) reportFailure(item *QueueItem, err error) {
	if !item.settled.CompareAndSwap(false, true) {
		return
	}

	q.mu.Lock()
	item.lastErr = err
	q.mu.Unlock()
	if item.onAbort != nil {
		item.onAbort(err)
	}

	q.stats.incQueueDrops()
	q.hooks.invokeOnQueueDrop(item, err)
	select {
	case q.failures <- item:
	default:
	}
	q.logger.Error("queued mutation dropped",
		F("id", item.ID), F("type", item.Type),
		F("attempts", item.RetryCount), F("error", err))
}

// Failures returns the channel of permanently failed items.
func (q *SyncQueue) Failures() <-chan *QueueItem {
	return q.failures
}

// Len returns the number of pending items.
func (q *SyncQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake nudges the run loop to flush ahead of its next tick, e.g. when
// connectivity returns.
func (q *SyncQueue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *SyncQueue) run() {
	defer q.wg.Done()

	interval := q.cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-q.wake:
			q.tryFlush(context.Background())
		case <-ticker.C:
			q.tryFlush(context.Background())
		}
	}
}

// Close stops the flush loop. Pending items are left in place; they are
// in-memory only and die with the process.
func (q *SyncQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stop)
	q.wg.Wait()
}
