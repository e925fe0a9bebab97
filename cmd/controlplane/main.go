// Command controlplane runs the HTTP surface named in spec §6: the
// cron-driven batch/single-equipment entry point (C9) and the
// operator command/state/status endpoints. It does not itself run any
// location's tickers or workers — those are cmd/locationprocessor
// processes — but it shares the same Redis-backed job queue and state
// store, so the batch path it drives enqueues work those processes
// pick up.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/automatabms/corefabric/internal/artifacts"
	"github.com/automatabms/corefabric/internal/batchenqueue"
	"github.com/automatabms/corefabric/internal/config"
	"github.com/automatabms/corefabric/internal/eventlog"
	"github.com/automatabms/corefabric/internal/httpapi"
	"github.com/automatabms/corefabric/internal/jobqueue"
	"github.com/automatabms/corefabric/internal/metricstore"
	"github.com/automatabms/corefabric/internal/otel"
	"github.com/automatabms/corefabric/internal/statestore"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP server address")
	rosterPath := flag.String("roster", "roster.yaml", "Path to the equipment roster YAML file")
	artifactDir := flag.String("artifact-dir", "./artifacts", "Base directory for debug-report artifacts")
	otelEnabled := flag.Bool("otel", false, "Enable OpenTelemetry metrics and tracing export")
	flag.Parse()

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	roster, err := config.LoadRoster(*rosterPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	eventlog.SetGlobal(eventlog.New("controlplane"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCfg := otel.DefaultMetricsConfig()
	metricsCfg.Enabled = *otelEnabled
	metricsCfg.ServiceName = "hvaccp-controlplane"
	m, err := otel.NewMetrics(ctx, metricsCfg)
	if err != nil {
		slog.Error("metrics init failed, continuing with noop metrics", "error", err)
		m = otel.NoopMetrics()
	}
	otel.SetGlobalMetrics(m)

	tracerCfg := otel.DefaultConfig()
	tracerCfg.Enabled = *otelEnabled
	tracerCfg.ServiceName = "hvaccp-controlplane"
	tracer, err := otel.NewTracer(ctx, tracerCfg)
	if err != nil {
		slog.Error("tracer init failed, continuing with noop tracer", "error", err)
		tracer = otel.NoopTracer()
	}
	otel.SetGlobalTracer(tracer)

	state := statestore.New(statestore.Config{Addr: env.RedisAddr})
	defer state.Close()

	metrics := metricstore.New(metricstore.Config{URL: env.InfluxURL, Database: env.InfluxDatabase})
	defer metrics.Close()

	queue := jobqueue.New(env.RedisAddr)
	defer queue.Close()

	enqueuer := batchenqueue.New(roster, state, metrics, queue, nil)

	artifactStore, err := artifacts.NewFilesystemStore(*artifactDir)
	if err != nil {
		slog.Error("artifact store init failed, debug reports disabled", "error", err)
		artifactStore = nil
	}

	server := httpapi.New(*addr, env.ActionSecretKey, roster, state, queue, enqueuer, artifactStore, tracer)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error starting server: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("HVAC control plane listening on %s\n", *addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
	}
	_ = m.Shutdown(shutdownCtx)
	_ = tracer.Shutdown(shutdownCtx)
}
