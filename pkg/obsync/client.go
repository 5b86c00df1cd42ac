package obsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnykmshr/obsync-go/internal/singleflight"
	"github.com/vnykmshr/obsync-go/pkg/metrics"
)

// Client is the coordination layer's entry point: a TTL cache, a
// deduplicating query coordinator, an optimistic mutation coordinator, a
// pattern invalidation engine and a background sync queue behind one
// handle. All methods are safe for concurrent use.
type Client struct {
	config  *Config
	cache   *Cache
	queue   *SyncQueue
	sf      *singleflight.Group[string, any]
	refresh *refreshScheduler
	stats   *Stats
	hooks   *Hooks
	logger  Logger
	breaker *gobreaker.CircuitBreaker

	online atomic.Bool
	closed atomic.Bool

	metricsExporter metrics.Exporter
	metricsLabels   metrics.Labels
	metricsStop     chan struct{}
	metricsWg       sync.WaitGroup
}

// New creates a Client with the given configuration. A nil config uses
// defaults. The client starts online.
func New(config *Config) (*Client, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if config.Hooks == nil {
		config.Hooks = &Hooks{}
	}
	logger := config.Logger
	if logger == nil {
		logger = NewDefaultLogger(LogLevelWarn)
	}

	stats := &Stats{}
	cache, err := newCache(config, stats, config.Hooks, logger)
	if err != nil {
		return nil, err
	}

	cl := &Client{
		config: config,
		cache:  cache,
		sf:     &singleflight.Group[string, any]{},
		stats:  stats,
		hooks:  config.Hooks,
		logger: logger,
	}
	cl.online.Store(true)
	cl.refresh = newRefreshScheduler(cl)
	cl.queue = newSyncQueue(config.Queue, stats, config.Hooks, logger, cl.Online)

	if config.Breaker != nil {
		cl.breaker = gobreaker.NewCircuitBreaker(*config.Breaker)
	}

	if config.Metrics != nil && config.Metrics.Enabled && config.Metrics.Exporter != nil {
		cl.setupMetrics(config.Metrics)
	}

	return cl, nil
}

// Get reads a cached value and its state without fetching.
func (cl *Client) Get(key string) (any, State) {
	return cl.cache.Get(key)
}

// Set writes a confirmed value with the given TTL (zero uses the default).
func (cl *Client) Set(key string, value any, ttl time.Duration) error {
	if cl.closed.Load() {
		return ErrClosed
	}
	return cl.cache.Set(key, value, ttl)
}

// IsFresh reports whether key holds a confirmed value inside its TTL window.
func (cl *Client) IsFresh(key string) bool {
	return cl.cache.IsFresh(key)
}

// Delete removes a single key.
func (cl *Client) Delete(key string) error {
	return cl.cache.Delete(key)
}

// Invalidate removes every entry matching the pattern and returns the
// count removed. Subscribers of matching keys are notified.
func (cl *Client) Invalidate(pattern string) (int, error) {
	return cl.cache.Invalidate(pattern)
}

// ClearAll removes every entry.
func (cl *Client) ClearAll() error {
	return cl.cache.Clear()
}

// Keys returns all cached keys, stale included.
func (cl *Client) Keys() []string {
	return cl.cache.Keys()
}

// Len returns the number of cached entries.
func (cl *Client) Len() int {
	return cl.cache.Len()
}

// Subscribe registers fn for entry transitions on an exact key or a
// wildcard pattern. The returned func unregisters it; background refreshes
// for keys left without subscribers stop on unsubscribe.
func (cl *Client) Subscribe(keyOrPattern string, fn SubscriberFunc) func() {
	id := cl.cache.subs.add(keyOrPattern, fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			cl.cache.subs.remove(id)
			cl.refresh.prune()
		})
	}
}

// SetOnline flips the connectivity flag. Going online wakes the sync queue
// so held mutations settle without waiting for the next flush tick.
func (cl *Client) SetOnline(online bool) {
	was := cl.online.Swap(online)
	if online && !was {
		cl.logger.Info("client back online, waking sync queue",
			F("pending", cl.queue.Len()))
		cl.queue.Wake()
	}
}

// Online reports the current connectivity flag.
func (cl *Client) Online() bool {
	return cl.online.Load()
}

// SyncNow runs a queue flush pass immediately and waits for it.
func (cl *Client) SyncNow(ctx context.Context) {
	cl.queue.Flush(ctx)
}

// QueueLen returns the number of mutations waiting to sync.
func (cl *Client) QueueLen() int {
	return cl.queue.Len()
}

// Failures returns the channel of permanently failed sync items. Items are
// delivered best-effort; a consumer that falls behind misses notifications
// but the drop hooks still fire.
func (cl *Client) Failures() <-chan *QueueItem {
	return cl.queue.Failures()
}

// Stats returns the client's performance counters.
func (cl *Client) Stats() *Stats {
	return cl.stats
}

// Close stops background work and releases the store. Safe to call more
// than once.
func (cl *Client) Close() error {
	if cl.closed.Swap(true) {
		return nil
	}

	cl.refresh.close()
	cl.queue.Close()

	if cl.metricsStop != nil {
		close(cl.metricsStop)
		cl.metricsWg.Wait()
	}
	if cl.metricsExporter != nil {
		if err := cl.metricsExporter.Close(); err != nil {
			cl.logger.Warn("failed to close metrics exporter", F("error", err))
		}
	}

	return cl.cache.Close()
}

func (cl *Client) setupMetrics(cfg *MetricsConfig) {
	cl.metricsExporter = cfg.Exporter
	cl.metricsLabels = make(metrics.Labels)
	for k, v := range cfg.Labels {
		cl.metricsLabels[k] = v
	}
	if cfg.ClientName != "" {
		cl.metricsLabels["client"] = cfg.ClientName
	}

	if cfg.ReportingInterval > 0 {
		cl.metricsStop = make(chan struct{})
		cl.metricsWg.Add(1)
		go cl.metricsReporter(cfg.ReportingInterval)
	}
}

func (cl *Client) metricsReporter(interval time.Duration) {
	defer cl.metricsWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.metricsStop:
			return
		case <-ticker.C:
			if err := cl.metricsExporter.ExportStats(cl.stats, cl.metricsLabels); err != nil {
				cl.logger.Warn("failed to export stats", F("error", err))
			}
		}
	}
}
