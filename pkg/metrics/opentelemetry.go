package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OpenTelemetryExporter implements the Exporter interface for OpenTelemetry metrics
type OpenTelemetryExporter struct {
	config *Config
	meter  metric.Meter
	ctx    context.Context

	// Standard metrics instruments
	hitsCounter              metric.Int64Counter
	missesCounter            metric.Int64Counter
	invalidationsCounter     metric.Int64Counter
	fetchesCounter           metric.Int64Counter
	fetchErrorsCounter       metric.Int64Counter
	dedupWaitsCounter        metric.Int64Counter
	refreshesCounter         metric.Int64Counter
	optimisticAppliesCounter metric.Int64Counter
	rollbacksCounter         metric.Int64Counter
	commitsCounter           metric.Int64Counter
	queueDropsCounter        metric.Int64Counter

	operationDuration metric.Float64Histogram

	keysGauge       metric.Int64Gauge
	inFlightGauge   metric.Int64Gauge
	queueDepthGauge metric.Int64Gauge
	hitRateGauge    metric.Float64Gauge

	// lastSeen tracks the previous export per cumulative stat so counters
	// receive only the delta
	lastSeen map[string]int64

	// Custom metrics (for IncrementCounter, etc.)
	customCounters   map[string]metric.Int64Counter
	customHistograms map[string]metric.Float64Histogram
	customGauges     map[string]metric.Float64Gauge
	mu               sync.Mutex
}

// OpenTelemetryConfig holds OpenTelemetry-specific configuration
type OpenTelemetryConfig struct {
	// Meter is the OpenTelemetry meter to use
	Meter metric.Meter

	// Context is the context to use for metric operations
	Context context.Context

	// DefaultAttributes are applied to all metrics
	DefaultAttributes []attribute.KeyValue
}

// NewOpenTelemetryExporter creates a new OpenTelemetry metrics exporter
func NewOpenTelemetryExporter(config *Config, otelConfig *OpenTelemetryConfig) (*OpenTelemetryExporter, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if otelConfig == nil {
		return nil, fmt.Errorf("OpenTelemetry configuration is required")
	}
	if otelConfig.Meter == nil {
		return nil, fmt.Errorf("OpenTelemetry meter is required")
	}

	ctx := otelConfig.Context
	if ctx == nil {
		ctx = context.Background()
	}

	exporter := &OpenTelemetryExporter{
		config:           config,
		meter:            otelConfig.Meter,
		ctx:              ctx,
		lastSeen:         make(map[string]int64),
		customCounters:   make(map[string]metric.Int64Counter),
		customHistograms: make(map[string]metric.Float64Histogram),
		customGauges:     make(map[string]metric.Float64Gauge),
	}

	if err := exporter.createStandardMetrics(); err != nil {
		return nil, fmt.Errorf("failed to create standard metrics: %w", err)
	}

	return exporter, nil
}

// createStandardMetrics creates all the standard sync-layer metrics
func (o *OpenTelemetryExporter) createStandardMetrics() error {
	names := o.config.MetricNames

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&o.hitsCounter, names.HitsTotal, "Total number of cache hits"},
		{&o.missesCounter, names.MissesTotal, "Total number of cache misses"},
		{&o.invalidationsCounter, names.InvalidationsTotal, "Total number of cache invalidations"},
		{&o.fetchesCounter, names.FetchesTotal, "Total number of remote fetch attempts"},
		{&o.fetchErrorsCounter, names.FetchErrorsTotal, "Total number of failed fetch attempts"},
		{&o.dedupWaitsCounter, names.DedupWaitsTotal, "Total number of callers deduplicated onto an in-flight fetch"},
		{&o.refreshesCounter, names.RefreshesTotal, "Total number of background refresh runs"},
		{&o.optimisticAppliesCounter, names.OptimisticAppliesTotal, "Total number of optimistic cache writes"},
		{&o.rollbacksCounter, names.RollbacksTotal, "Total number of mutation rollbacks"},
		{&o.commitsCounter, names.CommitsTotal, "Total number of confirmed mutations"},
		{&o.queueDropsCounter, names.QueueDropsTotal, "Total number of sync queue items dropped"},
	}
	for _, c := range counters {
		counter, err := o.meter.Int64Counter(
			c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit("1"),
		)
		if err != nil {
			return fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	if o.config.IncludeDetailedTimings {
		o.operationDuration, err = o.meter.Float64Histogram(
			names.OperationDuration,
			metric.WithDescription("Sync-layer operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return fmt.Errorf("failed to create operation duration histogram: %w", err)
		}
	}

	o.keysGauge, err = o.meter.Int64Gauge(
		names.KeysCount,
		metric.WithDescription("Current number of cached keys"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create keys gauge: %w", err)
	}

	o.inFlightGauge, err = o.meter.Int64Gauge(
		names.InFlightRequests,
		metric.WithDescription("Current number of in-flight fetches"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create in-flight gauge: %w", err)
	}

	o.queueDepthGauge, err = o.meter.Int64Gauge(
		names.QueueDepth,
		metric.WithDescription("Current number of pending sync queue items"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue depth gauge: %w", err)
	}

	o.hitRateGauge, err = o.meter.Float64Gauge(
		names.HitRate,
		metric.WithDescription("Cache hit rate as a percentage"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return fmt.Errorf("failed to create hit rate gauge: %w", err)
	}

	return nil
}

// ExportStats exports the current client statistics to OpenTelemetry
func (o *OpenTelemetryExporter) ExportStats(stats Stats, labels Labels) error {
	attrs := metric.WithAttributes(o.attributes(labels)...)

	o.mu.Lock()
	o.addDelta(o.hitsCounter, attrs, "hits", stats.Hits())
	o.addDelta(o.missesCounter, attrs, "misses", stats.Misses())
	o.addDelta(o.invalidationsCounter, attrs, "invalidations", stats.Invalidations())
	o.addDelta(o.fetchesCounter, attrs, "fetches", stats.Fetches())
	o.addDelta(o.fetchErrorsCounter, attrs, "fetchErrors", stats.FetchErrors())
	o.addDelta(o.dedupWaitsCounter, attrs, "dedupWaits", stats.DedupWaits())
	o.addDelta(o.refreshesCounter, attrs, "refreshes", stats.Refreshes())
	o.addDelta(o.optimisticAppliesCounter, attrs, "optimisticApplies", stats.OptimisticApplies())
	o.addDelta(o.rollbacksCounter, attrs, "rollbacks", stats.Rollbacks())
	o.addDelta(o.commitsCounter, attrs, "commits", stats.Commits())
	o.addDelta(o.queueDropsCounter, attrs, "queueDrops", stats.QueueDrops())
	o.mu.Unlock()

	o.keysGauge.Record(o.ctx, stats.KeyCount(), attrs)
	o.inFlightGauge.Record(o.ctx, stats.InFlight(), attrs)
	o.queueDepthGauge.Record(o.ctx, stats.QueueDepth(), attrs)
	o.hitRateGauge.Record(o.ctx, stats.HitRate(), attrs)

	return nil
}

// addDelta feeds a cumulative stat into a counter as the increase since the
// previous export. Callers hold o.mu.
func (o *OpenTelemetryExporter) addDelta(counter metric.Int64Counter, attrs metric.MeasurementOption, key string, total int64) {
	last := o.lastSeen[key]
	if total > last {
		counter.Add(o.ctx, total-last, attrs)
	}
	o.lastSeen[key] = total
}

// RecordOperation records an operation with timing
func (o *OpenTelemetryExporter) RecordOperation(operation Operation, duration time.Duration, labels Labels) error {
	if o.operationDuration == nil {
		return nil
	}

	attrs := o.attributes(labels)
	attrs = append(attrs, attribute.String("operation", string(operation)))
	o.operationDuration.Record(o.ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	return nil
}

// IncrementCounter increments a custom counter
func (o *OpenTelemetryExporter) IncrementCounter(name string, labels Labels) error {
	o.mu.Lock()
	counter, exists := o.customCounters[name]
	if !exists {
		var err error
		counter, err = o.meter.Int64Counter(
			name,
			metric.WithDescription(fmt.Sprintf("Custom counter: %s", name)),
			metric.WithUnit("1"),
		)
		if err != nil {
			o.mu.Unlock()
			return fmt.Errorf("failed to create counter %s: %w", name, err)
		}
		o.customCounters[name] = counter
	}
	o.mu.Unlock()

	counter.Add(o.ctx, 1, metric.WithAttributes(o.attributes(labels)...))
	return nil
}

// RecordHistogram records a value in a custom histogram
func (o *OpenTelemetryExporter) RecordHistogram(name string, value float64, labels Labels) error {
	o.mu.Lock()
	histogram, exists := o.customHistograms[name]
	if !exists {
		var err error
		histogram, err = o.meter.Float64Histogram(
			name,
			metric.WithDescription(fmt.Sprintf("Custom histogram: %s", name)),
		)
		if err != nil {
			o.mu.Unlock()
			return fmt.Errorf("failed to create histogram %s: %w", name, err)
		}
		o.customHistograms[name] = histogram
	}
	o.mu.Unlock()

	histogram.Record(o.ctx, value, metric.WithAttributes(o.attributes(labels)...))
	return nil
}

// SetGauge sets a custom gauge value
func (o *OpenTelemetryExporter) SetGauge(name string, value float64, labels Labels) error {
	o.mu.Lock()
	gauge, exists := o.customGauges[name]
	if !exists {
		var err error
		gauge, err = o.meter.Float64Gauge(
			name,
			metric.WithDescription(fmt.Sprintf("Custom gauge: %s", name)),
		)
		if err != nil {
			o.mu.Unlock()
			return fmt.Errorf("failed to create gauge %s: %w", name, err)
		}
		o.customGauges[name] = gauge
	}
	o.mu.Unlock()

	gauge.Record(o.ctx, value, metric.WithAttributes(o.attributes(labels)...))
	return nil
}

// Close shuts down the exporter
func (o *OpenTelemetryExporter) Close() error {
	// The meter provider owns instrument lifecycle
	return nil
}

func (o *OpenTelemetryExporter) attributes(labels Labels) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

var _ Exporter = (*OpenTelemetryExporter)(nil)
