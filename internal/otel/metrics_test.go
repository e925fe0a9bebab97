package otel

import (
	"context"
	"testing"
	"time"
)

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	if cfg == nil {
		t.Fatal("DefaultMetricsConfig returned nil")
	}
	if cfg.Enabled {
		t.Error("Expected metrics to be disabled by default")
	}
	if cfg.ServiceName != "hvaccp" {
		t.Errorf("Expected service name 'hvaccp', got %q", cfg.ServiceName)
	}
	if cfg.ExporterType != ExporterNone {
		t.Errorf("Expected ExporterNone, got %v", cfg.ExporterType)
	}
}

func TestNewMetrics_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultMetricsConfig()

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if m.Enabled() {
		t.Error("Expected metrics to be disabled")
	}
}

func TestNewMetrics_StdoutExporter(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if !m.Enabled() {
		t.Error("Expected metrics to be enabled")
	}
}

func TestRecordJobLatency(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	m.RecordJobLatency(ctx, "air_handler", 45.5, true)
	m.RecordJobLatency(ctx, "chiller", 120.3, true)
	m.RecordJobLatency(ctx, "chiller", 250.7, false)

	// No assertions - just verify it doesn't panic
}

func TestRecordJobEnqueuedAndSkipped(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	m.RecordJobEnqueued(ctx, 20, "safety")
	m.RecordJobEnqueued(ctx, 5, "change-detect")
	m.RecordJobSkipped(ctx, "stale-metrics")

	// No assertions - just verify it doesn't panic
}

func TestRecordAlgorithmError(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	m.RecordAlgorithmError(ctx, "boiler")
	m.RecordAlgorithmError(ctx, "doas")

	// No assertions - just verify it doesn't panic
}

func TestRecordSafetyTriggerAndFailover(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	m.RecordSafetyTrigger(ctx, "chiller", "freezestat")
	m.RecordLeadLagFailover(ctx, "chiller-group-1")

	// No assertions - just verify it doesn't panic
}

func TestSetInFlightJobs(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	m.SetInFlightJobs(0)
	m.SetInFlightJobs(3)
	m.SetInFlightJobs(7)

	if got := m.inFlightJobs.Load(); got != 7 {
		t.Errorf("inFlightJobs = %d, want 7", got)
	}
}

func TestGlobalMetrics(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	// Set and get global metrics
	SetGlobalMetrics(m)
	retrieved := GetGlobalMetrics()

	if retrieved != m {
		t.Error("GetGlobalMetrics did not return the set instance")
	}

	// Clean up
	SetGlobalMetrics(nil)
}

func TestGetGlobalMetrics_Uninitialized(t *testing.T) {
	// Ensure global is nil
	SetGlobalMetrics(nil)

	// Should return a no-op instance
	m := GetGlobalMetrics()
	if m == nil {
		t.Fatal("GetGlobalMetrics returned nil")
	}
	if m.Enabled() {
		t.Error("Expected no-op metrics to be disabled")
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics()
	if m == nil {
		t.Fatal("NoopMetrics returned nil")
	}
	if m.Enabled() {
		t.Error("Expected no-op metrics to be disabled")
	}

	ctx := context.Background()

	// Verify all methods work without panicking even though no
	// instruments were registered (NoopMetrics builds its Metrics
	// directly and never calls registerInstruments).
	m.RecordJobLatency(ctx, "air_handler", 100.0, true)
	m.RecordJobEnqueued(ctx, 10, "deviation")
	m.RecordJobSkipped(ctx, "duplicate")
	m.RecordAlgorithmError(ctx, "pump")
	m.RecordSafetyTrigger(ctx, "chiller", "high-head-pressure")
	m.RecordLeadLagFailover(ctx, "pump-group-1")
	m.SetInFlightJobs(1)

	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("NoopMetrics.Shutdown failed: %v", err)
	}
}

func TestMetricsShutdown(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	// Record some metrics
	m.RecordJobLatency(ctx, "air_handler", 50.0, true)
	m.SetInFlightJobs(2)

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestMetricsWithCustomAttributes(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:        true,
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		ExporterType:   ExporterStdout,
		Attributes: map[string]string{
			"environment": "test",
			"region":      "us-west-2",
		},
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if !m.Enabled() {
		t.Error("Expected metrics to be enabled")
	}
}

func TestMetricsDisabledOperations(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultMetricsConfig() // Disabled by default

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	// All operations should be no-ops when disabled (instruments are nil)
	m.RecordJobLatency(ctx, "air_handler", 100.0, true)
	m.RecordJobEnqueued(ctx, 10, "deviation")
	m.RecordJobSkipped(ctx, "duplicate")
	m.RecordAlgorithmError(ctx, "pump")
	m.RecordSafetyTrigger(ctx, "chiller", "high-head-pressure")
	m.RecordLeadLagFailover(ctx, "pump-group-1")
	m.SetInFlightJobs(1)

	// Should not panic
}
