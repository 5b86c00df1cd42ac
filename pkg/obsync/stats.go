package obsync

import (
	"sync/atomic"
)

// Stats holds performance counters for the coordination layer.
type Stats struct {
	hits              int64
	misses            int64
	invalidations     int64
	fetches           int64
	fetchErrors       int64
	dedupWaits        int64
	refreshes         int64
	optimisticApplies int64
	rollbacks         int64
	commits           int64
	queueDrops        int64
	queueDepth        int64
	inFlight          int64
	keyCount          int64
}

// Hits returns the number of reads that found a servable entry.
func (s *Stats) Hits() int64 { return atomic.LoadInt64(&s.hits) }

// Misses returns the number of reads that found nothing servable.
func (s *Stats) Misses() int64 { return atomic.LoadInt64(&s.misses) }

// Invalidations returns the number of entries removed by invalidation.
func (s *Stats) Invalidations() int64 { return atomic.LoadInt64(&s.invalidations) }

// Fetches returns the number of remote fetch attempts.
func (s *Stats) Fetches() int64 { return atomic.LoadInt64(&s.fetches) }

// FetchErrors returns the number of failed remote fetch attempts.
func (s *Stats) FetchErrors() int64 { return atomic.LoadInt64(&s.fetchErrors) }

// DedupWaits returns the number of callers that attached to an existing
// in-flight fetch instead of issuing their own.
func (s *Stats) DedupWaits() int64 { return atomic.LoadInt64(&s.dedupWaits) }

// Refreshes returns the number of background refetch runs.
func (s *Stats) Refreshes() int64 { return atomic.LoadInt64(&s.refreshes) }

// OptimisticApplies returns the number of optimistic writes.
func (s *Stats) OptimisticApplies() int64 { return atomic.LoadInt64(&s.optimisticApplies) }

// Rollbacks returns the number of rollbacks run.
func (s *Stats) Rollbacks() int64 { return atomic.LoadInt64(&s.rollbacks) }

// Commits returns the number of mutations confirmed by the remote.
func (s *Stats) Commits() int64 { return atomic.LoadInt64(&s.commits) }

// QueueDrops returns the number of queued mutations dropped for good.
func (s *Stats) QueueDrops() int64 { return atomic.LoadInt64(&s.queueDrops) }

// QueueDepth returns the current number of pending sync items.
func (s *Stats) QueueDepth() int64 { return atomic.LoadInt64(&s.queueDepth) }

// InFlight returns the number of fetches currently executing.
func (s *Stats) InFlight() int64 { return atomic.LoadInt64(&s.inFlight) }

// KeyCount returns the current number of cached keys.
func (s *Stats) KeyCount() int64 { return atomic.LoadInt64(&s.keyCount) }

// HitRate returns the cache hit rate as a percentage (0-100).
func (s *Stats) HitRate() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Total returns the total number of reads (hits + misses).
func (s *Stats) Total() int64 {
	return s.Hits() + s.Misses()
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	atomic.StoreInt64(&s.hits, 0)
	atomic.StoreInt64(&s.misses, 0)
	atomic.StoreInt64(&s.invalidations, 0)
	atomic.StoreInt64(&s.fetches, 0)
	atomic.StoreInt64(&s.fetchErrors, 0)
	atomic.StoreInt64(&s.dedupWaits, 0)
	atomic.StoreInt64(&s.refreshes, 0)
	atomic.StoreInt64(&s.optimisticApplies, 0)
	atomic.StoreInt64(&s.rollbacks, 0)
	atomic.StoreInt64(&s.commits, 0)
	atomic.StoreInt64(&s.queueDrops, 0)
	atomic.StoreInt64(&s.queueDepth, 0)
	atomic.StoreInt64(&s.inFlight, 0)
	atomic.StoreInt64(&s.keyCount, 0)
}

// Internal update methods (not exported)

func (s *Stats) incHits()              { atomic.AddInt64(&s.hits, 1) }
func (s *Stats) incMisses()            { atomic.AddInt64(&s.misses, 1) }
func (s *Stats) incInvalidations()     { atomic.AddInt64(&s.invalidations, 1) }
func (s *Stats) incFetches()           { atomic.AddInt64(&s.fetches, 1) }
func (s *Stats) incFetchErrors()       { atomic.AddInt64(&s.fetchErrors, 1) }
func (s *Stats) incDedupWaits()        { atomic.AddInt64(&s.dedupWaits, 1) }
func (s *Stats) incRefreshes()         { atomic.AddInt64(&s.refreshes, 1) }
func (s *Stats) incOptimisticApplies() { atomic.AddInt64(&s.optimisticApplies, 1) }
func (s *Stats) incRollbacks()         { atomic.AddInt64(&s.rollbacks, 1) }
func (s *Stats) incCommits()           { atomic.AddInt64(&s.commits, 1) }
func (s *Stats) incQueueDrops()        { atomic.AddInt64(&s.queueDrops, 1) }
func (s *Stats) setQueueDepth(n int64) { atomic.StoreInt64(&s.queueDepth, n) }
func (s *Stats) incInFlight()          { atomic.AddInt64(&s.inFlight, 1) }
func (s *Stats) decInFlight()          { atomic.AddInt64(&s.inFlight, -1) }
func (s *Stats) setKeyCount(n int64)   { atomic.StoreInt64(&s.keyCount, n) }
