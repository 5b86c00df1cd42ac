package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter implements the Exporter interface for Prometheus metrics
type PrometheusExporter struct {
	config   *Config
	registry prometheus.Registerer

	// Counters
	hitsTotal              *prometheus.CounterVec
	missesTotal            *prometheus.CounterVec
	invalidationsTotal     *prometheus.CounterVec
	fetchesTotal           *prometheus.CounterVec
	fetchErrorsTotal       *prometheus.CounterVec
	dedupWaitsTotal        *prometheus.CounterVec
	refreshesTotal         *prometheus.CounterVec
	optimisticAppliesTotal *prometheus.CounterVec
	rollbacksTotal         *prometheus.CounterVec
	commitsTotal           *prometheus.CounterVec
	queueDropsTotal        *prometheus.CounterVec
	operationsTotal        *prometheus.CounterVec

	// Histograms
	operationDuration *prometheus.HistogramVec

	// Gauges
	keysCount        *prometheus.GaugeVec
	inFlightRequests *prometheus.GaugeVec
	queueDepth       *prometheus.GaugeVec
	hitRate          *prometheus.GaugeVec

	// Exported stats are cumulative; lastSeen tracks the previous export so
	// each counter receives only the delta
	lastSeen map[string]int64

	// Custom metrics (for IncrementCounter, etc.)
	customCounters   map[string]*prometheus.CounterVec
	customHistograms map[string]*prometheus.HistogramVec
	customGauges     map[string]*prometheus.GaugeVec
	mu               sync.Mutex
}

// PrometheusConfig holds Prometheus-specific configuration
type PrometheusConfig struct {
	// Registry is the Prometheus registry to use (optional, uses default if nil)
	Registry prometheus.Registerer

	// DefaultLabels are applied to all metrics
	DefaultLabels prometheus.Labels

	// Buckets for duration histogram metrics
	DurationBuckets []float64
}

// NewPrometheusExporter creates a new Prometheus metrics exporter
func NewPrometheusExporter(config *Config, promConfig *PrometheusConfig) (*PrometheusExporter, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if promConfig == nil {
		promConfig = &PrometheusConfig{}
	}

	registry := promConfig.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	durationBuckets := promConfig.DurationBuckets
	if durationBuckets == nil {
		durationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	}

	defaultLabels := make(prometheus.Labels)
	for k, v := range promConfig.DefaultLabels {
		defaultLabels[k] = v
	}
	for k, v := range config.Labels {
		defaultLabels[k] = v
	}

	exporter := &PrometheusExporter{
		config:           config,
		registry:         registry,
		lastSeen:         make(map[string]int64),
		customCounters:   make(map[string]*prometheus.CounterVec),
		customHistograms: make(map[string]*prometheus.HistogramVec),
		customGauges:     make(map[string]*prometheus.GaugeVec),
	}

	if err := exporter.createStandardMetrics(defaultLabels, durationBuckets); err != nil {
		return nil, fmt.Errorf("failed to create standard metrics: %w", err)
	}

	return exporter, nil
}

// createStandardMetrics creates all the standard sync-layer metrics
func (p *PrometheusExporter) createStandardMetrics(defaultLabels prometheus.Labels, durationBuckets []float64) error {
	// Use a consistent set of base labels for all metrics
	baseLabels := []string{"client"}
	names := p.config.MetricNames

	counters := []struct {
		dst  **prometheus.CounterVec
		name string
		help string
	}{
		{&p.hitsTotal, names.HitsTotal, "Total number of cache hits"},
		{&p.missesTotal, names.MissesTotal, "Total number of cache misses"},
		{&p.invalidationsTotal, names.InvalidationsTotal, "Total number of cache invalidations"},
		{&p.fetchesTotal, names.FetchesTotal, "Total number of remote fetch attempts"},
		{&p.fetchErrorsTotal, names.FetchErrorsTotal, "Total number of failed fetch attempts"},
		{&p.dedupWaitsTotal, names.DedupWaitsTotal, "Total number of callers deduplicated onto an in-flight fetch"},
		{&p.refreshesTotal, names.RefreshesTotal, "Total number of background refresh runs"},
		{&p.optimisticAppliesTotal, names.OptimisticAppliesTotal, "Total number of optimistic cache writes"},
		{&p.rollbacksTotal, names.RollbacksTotal, "Total number of mutation rollbacks"},
		{&p.commitsTotal, names.CommitsTotal, "Total number of confirmed mutations"},
		{&p.queueDropsTotal, names.QueueDropsTotal, "Total number of sync queue items dropped"},
	}
	for _, c := range counters {
		vec, err := p.createCounterVec(c.name, c.help, baseLabels, defaultLabels)
		if err != nil {
			return err
		}
		*c.dst = vec
	}

	var err error
	p.operationsTotal, err = p.createCounterVec(names.OperationsTotal, "Total number of sync-layer operations", append(baseLabels, "operation", "result"), defaultLabels)
	if err != nil {
		return err
	}

	if p.config.IncludeDetailedTimings {
		p.operationDuration, err = p.createHistogramVec(names.OperationDuration, "Sync-layer operation duration in seconds", append(baseLabels, "operation"), defaultLabels, durationBuckets)
		if err != nil {
			return err
		}
	}

	p.keysCount, err = p.createGaugeVec(names.KeysCount, "Current number of cached keys", baseLabels, defaultLabels)
	if err != nil {
		return err
	}
	p.inFlightRequests, err = p.createGaugeVec(names.InFlightRequests, "Current number of in-flight fetches", baseLabels, defaultLabels)
	if err != nil {
		return err
	}
	p.queueDepth, err = p.createGaugeVec(names.QueueDepth, "Current number of pending sync queue items", baseLabels, defaultLabels)
	if err != nil {
		return err
	}
	p.hitRate, err = p.createGaugeVec(names.HitRate, "Cache hit rate as a percentage", baseLabels, defaultLabels)
	if err != nil {
		return err
	}

	return nil
}

// ExportStats exports the current client statistics to Prometheus
func (p *PrometheusExporter) ExportStats(stats Stats, labels Labels) error {
	baseLabels := prometheus.Labels{"client": labels["client"]}

	p.mu.Lock()
	p.addDelta(p.hitsTotal, baseLabels, "hits", stats.Hits())
	p.addDelta(p.missesTotal, baseLabels, "misses", stats.Misses())
	p.addDelta(p.invalidationsTotal, baseLabels, "invalidations", stats.Invalidations())
	p.addDelta(p.fetchesTotal, baseLabels, "fetches", stats.Fetches())
	p.addDelta(p.fetchErrorsTotal, baseLabels, "fetchErrors", stats.FetchErrors())
	p.addDelta(p.dedupWaitsTotal, baseLabels, "dedupWaits", stats.DedupWaits())
	p.addDelta(p.refreshesTotal, baseLabels, "refreshes", stats.Refreshes())
	p.addDelta(p.optimisticAppliesTotal, baseLabels, "optimisticApplies", stats.OptimisticApplies())
	p.addDelta(p.rollbacksTotal, baseLabels, "rollbacks", stats.Rollbacks())
	p.addDelta(p.commitsTotal, baseLabels, "commits", stats.Commits())
	p.addDelta(p.queueDropsTotal, baseLabels, "queueDrops", stats.QueueDrops())
	p.mu.Unlock()

	p.keysCount.With(baseLabels).Set(float64(stats.KeyCount()))
	p.inFlightRequests.With(baseLabels).Set(float64(stats.InFlight()))
	p.queueDepth.With(baseLabels).Set(float64(stats.QueueDepth()))
	p.hitRate.With(baseLabels).Set(stats.HitRate())

	return nil
}

// addDelta feeds a cumulative stat into a counter as the increase since the
// previous export. Callers hold p.mu.
func (p *PrometheusExporter) addDelta(vec *prometheus.CounterVec, labels prometheus.Labels, key string, total int64) {
	last := p.lastSeen[key]
	if total > last {
		vec.With(labels).Add(float64(total - last))
	}
	p.lastSeen[key] = total
}

// RecordOperation records an operation with timing
func (p *PrometheusExporter) RecordOperation(operation Operation, duration time.Duration, labels Labels) error {
	opLabels := prometheus.Labels{
		"client":    labels["client"],
		"operation": string(operation),
	}
	if p.operationDuration != nil {
		p.operationDuration.With(opLabels).Observe(duration.Seconds())
	}
	return nil
}

// IncrementCounter increments a custom counter
func (p *PrometheusExporter) IncrementCounter(name string, labels Labels) error {
	p.mu.Lock()
	counter, exists := p.customCounters[name]
	if !exists {
		var err error
		counter, err = p.createCounterVec(name, fmt.Sprintf("Custom counter: %s", name), labelNames(labels), p.constLabels())
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create counter %s: %w", name, err)
		}
		p.customCounters[name] = counter
	}
	p.mu.Unlock()

	counter.With(prometheus.Labels(labels)).Inc()
	return nil
}

// RecordHistogram records a value in a custom histogram
func (p *PrometheusExporter) RecordHistogram(name string, value float64, labels Labels) error {
	p.mu.Lock()
	histogram, exists := p.customHistograms[name]
	if !exists {
		var err error
		histogram, err = p.createHistogramVec(name, fmt.Sprintf("Custom histogram: %s", name), labelNames(labels), p.constLabels(), prometheus.DefBuckets)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create histogram %s: %w", name, err)
		}
		p.customHistograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(prometheus.Labels(labels)).Observe(value)
	return nil
}

// SetGauge sets a custom gauge value
func (p *PrometheusExporter) SetGauge(name string, value float64, labels Labels) error {
	p.mu.Lock()
	gauge, exists := p.customGauges[name]
	if !exists {
		var err error
		gauge, err = p.createGaugeVec(name, fmt.Sprintf("Custom gauge: %s", name), labelNames(labels), p.constLabels())
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create gauge %s: %w", name, err)
		}
		p.customGauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(prometheus.Labels(labels)).Set(value)
	return nil
}

// Close shuts down the exporter
func (p *PrometheusExporter) Close() error {
	// Prometheus metrics don't need explicit cleanup
	return nil
}

// Helper methods

func (p *PrometheusExporter) constLabels() prometheus.Labels {
	labels := make(prometheus.Labels)
	for k, v := range p.config.Labels {
		labels[k] = v
	}
	return labels
}

func labelNames(labels Labels) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (p *PrometheusExporter) createCounterVec(name, help string, names []string, defaultLabels prometheus.Labels) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: defaultLabels,
		},
		names,
	)
	if err := p.registry.Register(counter); err != nil {
		return nil, err
	}
	return counter, nil
}

func (p *PrometheusExporter) createHistogramVec(name, help string, names []string, defaultLabels prometheus.Labels, buckets []float64) (*prometheus.HistogramVec, error) {
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        name,
			Help:        help,
			ConstLabels: defaultLabels,
			Buckets:     buckets,
		},
		names,
	)
	if err := p.registry.Register(histogram); err != nil {
		return nil, err
	}
	return histogram, nil
}

func (p *PrometheusExporter) createGaugeVec(name, help string, names []string, defaultLabels prometheus.Labels) (*prometheus.GaugeVec, error) {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        name,
			Help:        help,
			ConstLabels: defaultLabels,
		},
		names,
	)
	if err := p.registry.Register(gauge); err != nil {
		return nil, err
	}
	return gauge, nil
}

var _ Exporter = (*PrometheusExporter)(nil)
