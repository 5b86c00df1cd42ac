package obsync

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/vnykmshr/obsync-go/pkg/metrics"
)

// StoreType defines the backend holding cache entries.
type StoreType int

const (
	// StoreTypeMemory uses in-process storage (default)
	StoreTypeMemory StoreType = iota
	// StoreTypeRedis shares the cache across processes via Redis
	StoreTypeRedis
)

// RedisConfig holds Redis-specific configuration.
type RedisConfig struct {
	// Client is a pre-configured Redis client. If nil, one is created
	// from Addr, Password and DB.
	Client redis.Cmdable

	// Addr is the Redis server address (host:port), used if Client is nil
	Addr string

	// Password for Redis authentication, used if Client is nil
	Password string

	// DB is the Redis database number, used if Client is nil
	DB int

	// KeyPrefix is prepended to all cache keys. Default: "obsync:"
	KeyPrefix string
}

// MetricsConfig holds metrics exporter configuration.
type MetricsConfig struct {
	// Exporter receives stats and operation timings
	Exporter metrics.Exporter

	// Enabled determines whether metrics are collected
	Enabled bool

	// ClientName labels all metrics from this client instance
	ClientName string

	// ReportingInterval is how often stats are exported automatically;
	// zero disables periodic reporting
	ReportingInterval time.Duration

	// Labels are additional labels applied to all metrics
	Labels metrics.Labels
}

// QueueConfig holds background sync queue configuration.
type QueueConfig struct {
	// FlushInterval is how often the queue attempts pending items.
	// Default: 5 seconds.
	FlushInterval time.Duration

	// MaxItems bounds the queue; the oldest item is dropped (and
	// reported) when a new one would exceed it. Default: 1024.
	MaxItems int

	// MaxRetries is the default attempt budget per item. Default: 5.
	MaxRetries int

	// InitialBackoff seeds each item's exponential backoff. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps each item's backoff. Default: 1 minute.
	MaxBackoff time.Duration
}

// Config defines the configuration options for a Client.
type Config struct {
	// StoreType determines the backend store. Default: StoreTypeMemory.
	StoreType StoreType

	// MaxEntries bounds the memory store. Default: 4096.
	MaxEntries int

	// DefaultTTL is the freshness window applied when a write does not
	// carry its own. TTL policy is otherwise the caller's: pass the
	// window that fits the data category on each Set or QueryOptions.
	// Default: 5 minutes.
	DefaultTTL time.Duration

	// SweepInterval is how often stale entries past retention are
	// discarded (memory store only). Default: 1 minute.
	SweepInterval time.Duration

	// StaleRetention is how long stale entries stay servable before the
	// sweep discards them. Default: 1 hour.
	StaleRetention time.Duration

	// Hooks defines event callbacks
	Hooks *Hooks

	// Logger receives structured log output. Defaults to a zerolog
	// logger at warn level.
	Logger Logger

	// Redis holds Redis configuration, used when StoreType is StoreTypeRedis
	Redis *RedisConfig

	// Metrics holds metrics exporter configuration; nil disables export
	Metrics *MetricsConfig

	// Queue configures the background sync queue
	Queue QueueConfig

	// Breaker, when set, wraps query fetchers in a circuit breaker so a
	// flapping remote trips fast instead of burning retry budgets
	Breaker *gobreaker.Settings
}

// NewDefaultConfig returns a Config with sensible defaults for in-process use.
func NewDefaultConfig() *Config {
	return &Config{
		StoreType:      StoreTypeMemory,
		MaxEntries:     4096,
		DefaultTTL:     5 * time.Minute,
		SweepInterval:  time.Minute,
		StaleRetention: time.Hour,
		Hooks:          &Hooks{},
		Queue: QueueConfig{
			FlushInterval:  5 * time.Second,
			MaxItems:       1024,
			MaxRetries:     5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     time.Minute,
		},
	}
}

// NewRedisConfig returns a Config backed by Redis at the given address.
func NewRedisConfig(addr string) *Config {
	c := NewDefaultConfig()
	c.StoreType = StoreTypeRedis
	c.SweepInterval = 0 // Redis expiry handles retention
	c.Redis = &RedisConfig{Addr: addr, KeyPrefix: "obsync:"}
	return c
}

// WithMaxEntries sets the memory store capacity.
func (c *Config) WithMaxEntries(maxEntries int) *Config {
	c.MaxEntries = maxEntries
	return c
}

// WithDefaultTTL sets the default freshness window.
func (c *Config) WithDefaultTTL(ttl time.Duration) *Config {
	c.DefaultTTL = ttl
	return c
}

// WithSweepInterval sets how often stale entries past retention are swept.
func (c *Config) WithSweepInterval(interval time.Duration) *Config {
	c.SweepInterval = interval
	return c
}

// WithStaleRetention sets how long stale entries stay servable.
func (c *Config) WithStaleRetention(retention time.Duration) *Config {
	c.StaleRetention = retention
	return c
}

// WithHooks sets the event hooks.
func (c *Config) WithHooks(hooks *Hooks) *Config {
	c.Hooks = hooks
	return c
}

// WithLogger sets the logger.
func (c *Config) WithLogger(logger Logger) *Config {
	c.Logger = logger
	return c
}

// WithRedis configures a Redis-backed store.
func (c *Config) WithRedis(redisConfig *RedisConfig) *Config {
	c.StoreType = StoreTypeRedis
	c.Redis = redisConfig
	c.SweepInterval = 0
	return c
}

// WithRedisClient configures a Redis-backed store with an existing client.
func (c *Config) WithRedisClient(client redis.Cmdable) *Config {
	return c.WithRedis(&RedisConfig{Client: client, KeyPrefix: "obsync:"})
}

// WithMetricsExporter enables metrics export with the given exporter.
func (c *Config) WithMetricsExporter(exporter metrics.Exporter, clientName string) *Config {
	c.Metrics = &MetricsConfig{
		Exporter:          exporter,
		Enabled:           true,
		ClientName:        clientName,
		ReportingInterval: 30 * time.Second,
		Labels:            make(metrics.Labels),
	}
	return c
}

// WithMetricsLabels adds labels to the metrics configuration.
func (c *Config) WithMetricsLabels(labels metrics.Labels) *Config {
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{Labels: make(metrics.Labels)}
	}
	if c.Metrics.Labels == nil {
		c.Metrics.Labels = make(metrics.Labels)
	}
	for k, v := range labels {
		c.Metrics.Labels[k] = v
	}
	return c
}

// WithQueueFlushInterval sets the sync queue flush interval.
func (c *Config) WithQueueFlushInterval(interval time.Duration) *Config {
	c.Queue.FlushInterval = interval
	return c
}

// WithQueueMaxItems bounds the sync queue.
func (c *Config) WithQueueMaxItems(maxItems int) *Config {
	c.Queue.MaxItems = maxItems
	return c
}

// WithQueueMaxRetries sets the default attempt budget per queued item.
func (c *Config) WithQueueMaxRetries(maxRetries int) *Config {
	c.Queue.MaxRetries = maxRetries
	return c
}

// WithQueueBackoff sets the per-item backoff bounds.
func (c *Config) WithQueueBackoff(initial, maxBackoff time.Duration) *Config {
	c.Queue.InitialBackoff = initial
	c.Queue.MaxBackoff = maxBackoff
	return c
}

// WithBreaker wraps query fetchers in a circuit breaker.
func (c *Config) WithBreaker(settings gobreaker.Settings) *Config {
	c.Breaker = &settings
	return c
}
