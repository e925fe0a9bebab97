// Package otel provides OpenTelemetry metrics integration for the
// control plane.
package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "hvaccp",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with control-plane
// specific helpers: job throughput, gate decisions, safety triggers,
// and lead-lag failovers.
type Metrics struct {
	config         *MetricsConfig
	meterProvider  *sdkmetric.MeterProvider
	meter          metric.Meter
	shutdown       func(context.Context) error
	mu             sync.RWMutex
	inFlightJobs   atomic.Int64
	jobGauge       metric.Int64ObservableGauge
	jobGaugeReg    metric.Registration

	jobLatency       metric.Float64Histogram
	jobsEnqueued     metric.Int64Counter
	jobsSkipped      metric.Int64Counter
	algorithmErrors  metric.Int64Counter
	safetyTriggers   metric.Int64Counter
	leadLagFailovers metric.Int64Counter
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	// Create exporter based on type
	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	// Create resource with service information
	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	// Create meter provider
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	// Register metric instruments
	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	// Add custom attributes
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	m.jobLatency, err = m.meter.Float64Histogram(
		"hvaccp.job.latency",
		metric.WithDescription("Latency of a worker-pool job from dequeue to completion"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create job latency histogram: %w", err)
	}

	m.jobsEnqueued, err = m.meter.Int64Counter(
		"hvaccp.jobs.enqueued",
		metric.WithDescription("Count of jobs enqueued by the smart gate, by priority"),
	)
	if err != nil {
		return fmt.Errorf("failed to create jobs-enqueued counter: %w", err)
	}

	m.jobsSkipped, err = m.meter.Int64Counter(
		"hvaccp.jobs.skipped",
		metric.WithDescription("Count of equipment ticks skipped by the smart gate"),
	)
	if err != nil {
		return fmt.Errorf("failed to create jobs-skipped counter: %w", err)
	}

	m.algorithmErrors, err = m.meter.Int64Counter(
		"hvaccp.algorithm.errors",
		metric.WithDescription("Count of control algorithm faults caught by the worker pool"),
	)
	if err != nil {
		return fmt.Errorf("failed to create algorithm-errors counter: %w", err)
	}

	m.safetyTriggers, err = m.meter.Int64Counter(
		"hvaccp.safety.triggers",
		metric.WithDescription("Count of priority-20 safety conditions detected by the smart gate"),
	)
	if err != nil {
		return fmt.Errorf("failed to create safety-triggers counter: %w", err)
	}

	m.leadLagFailovers, err = m.meter.Int64Counter(
		"hvaccp.leadlag.failovers",
		metric.WithDescription("Count of fault-triggered lead promotions"),
	)
	if err != nil {
		return fmt.Errorf("failed to create leadlag-failovers counter: %w", err)
	}

	m.jobGauge, err = m.meter.Int64ObservableGauge(
		"hvaccp.jobs.in_flight",
		metric.WithDescription("Current size of the per-location in-flight job set"),
	)
	if err != nil {
		return fmt.Errorf("failed to create in-flight jobs gauge: %w", err)
	}

	m.jobGaugeReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.jobGauge, m.inFlightJobs.Load())
			return nil
		},
		m.jobGauge,
	)
	if err != nil {
		return fmt.Errorf("failed to register in-flight jobs gauge callback: %w", err)
	}

	return nil
}

// RecordJobLatency records the latency of one worker-pool job.
func (m *Metrics) RecordJobLatency(ctx context.Context, equipmentType string, latencyMs float64, success bool) {
	if m.jobLatency == nil {
		return
	}
	m.jobLatency.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.String("equipment_type", equipmentType),
		attribute.Bool("success", success),
	))
}

// RecordJobEnqueued increments the jobs-enqueued counter for priority.
func (m *Metrics) RecordJobEnqueued(ctx context.Context, priority int, reason string) {
	if m.jobsEnqueued == nil {
		return
	}
	m.jobsEnqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("priority", priority),
		attribute.String("reason", reason),
	))
}

// RecordJobSkipped increments the jobs-skipped counter.
func (m *Metrics) RecordJobSkipped(ctx context.Context, reason string) {
	if m.jobsSkipped == nil {
		return
	}
	m.jobsSkipped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordAlgorithmError increments the algorithm-errors counter.
func (m *Metrics) RecordAlgorithmError(ctx context.Context, equipmentType string) {
	if m.algorithmErrors == nil {
		return
	}
	m.algorithmErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("equipment_type", equipmentType),
	))
}

// RecordSafetyTrigger increments the safety-triggers counter.
func (m *Metrics) RecordSafetyTrigger(ctx context.Context, equipmentType, condition string) {
	if m.safetyTriggers == nil {
		return
	}
	m.safetyTriggers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("equipment_type", equipmentType),
		attribute.String("condition", condition),
	))
}

// RecordLeadLagFailover increments the leadlag-failovers counter.
func (m *Metrics) RecordLeadLagFailover(ctx context.Context, groupID string) {
	if m.leadLagFailovers == nil {
		return
	}
	m.leadLagFailovers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("group_id", groupID),
	))
}

// SetInFlightJobs sets the current in-flight job count for the
// observable gauge. Thread-safe.
func (m *Metrics) SetInFlightJobs(count int) {
	m.inFlightJobs.Store(int64(count))
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.jobGaugeReg != nil {
		if err := m.jobGaugeReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister in-flight jobs gauge: %w", err)
		}
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		// Return a no-op metrics instance
		cfg := DefaultMetricsConfig()
		m := &Metrics{
			config:        cfg,
			meterProvider: sdkmetric.NewMeterProvider(),
			shutdown:      func(context.Context) error { return nil },
		}
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		return m
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
