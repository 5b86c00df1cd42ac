package obsync

import (
	"context"
	"sync"
	"time"
)

// refreshScheduler re-runs fetches for keys whose queries asked for a
// RefetchInterval, for as long as at least one subscription observes the
// key. One goroutine per refreshed key; the set is expected to stay small
// (a handful of live views, not the whole keyspace).
type refreshScheduler struct {
	client *Client

	mu    sync.Mutex
	tasks map[string]*refreshTask
	done  bool
}

type refreshTask struct {
	key      string
	interval time.Duration
	stop     chan struct{}
}

func newRefreshScheduler(client *Client) *refreshScheduler {
	return &refreshScheduler{
		client: client,
		tasks:  make(map[string]*refreshTask),
	}
}

// ensure starts a refresh loop for key unless one is already running. The
// first query to ask wins; a later query with a different interval does not
// reschedule (the loop dies with its subscribers anyway).
func (rs *refreshScheduler) ensure(key string, fetcher Fetcher, opts *QueryOptions) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.done {
		return
	}
	if _, ok := rs.tasks[key]; ok {
		return
	}

	task := &refreshTask{
		key:      key,
		interval: opts.RefetchInterval,
		stop:     make(chan struct{}),
	}
	rs.tasks[key] = task

	taskOpts := *opts
	go rs.run(task, fetcher, &taskOpts)
}

func (rs *refreshScheduler) run(task *refreshTask, fetcher Fetcher, opts *QueryOptions) {
	ticker := time.NewTicker(task.interval)
	defer ticker.Stop()

	for {
		select {
		case <-task.stop:
			return
		case <-ticker.C:
			if rs.client.cache.subs.activeFor(task.key) == 0 {
				rs.remove(task.key)
				rs.client.logger.Debug("refresh stopped, no subscribers", F("key", task.key))
				return
			}

			rs.client.stats.incRefreshes()
			res := rs.client.Refetch(context.Background(), task.key, fetcher, opts)
			if res.Err != nil {
				rs.client.logger.Warn("background refresh failed",
					F("key", task.key), F("error", res.Err))
			}
		}
	}
}

func (rs *refreshScheduler) remove(key string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.tasks, key)
}

// prune stops refresh loops for keys that no longer have subscribers. Called
// on unsubscribe so loops do not linger until their next tick.
func (rs *refreshScheduler) prune() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for key, task := range rs.tasks {
		if rs.client.cache.subs.activeFor(key) == 0 {
			close(task.stop)
			delete(rs.tasks, key)
		}
	}
}

func (rs *refreshScheduler) close() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.done {
		return
	}
	rs.done = true
	for key, task := range rs.tasks {
		close(task.stop)
		delete(rs.tasks, key)
	}
}
