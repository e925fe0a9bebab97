// Command locationprocessor runs the per-location processor (C6) and
// worker pool (C7) for one location as a single process, matching the
// scheduling model in spec §5: "parallel processes at the granularity
// of location... within a location, equipment ticks are cooperatively
// scheduled". One instance of this binary is started per location in
// the roster.
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

	"github.com/automatabms/corefabric/internal/config"
	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/controlalgo/algorithms"
	"github.com/automatabms/corefabric/internal/eventlog"
	"github.com/automatabms/corefabric/internal/jobqueue"
	"github.com/automatabms/corefabric/internal/leadlag"
	"github.com/automatabms/corefabric/internal/locationprocessor"
	"github.com/automatabms/corefabric/internal/metricstore"
	"github.com/automatabms/corefabric/internal/otel"
	"github.com/automatabms/corefabric/internal/statestore"
	"github.com/automatabms/corefabric/internal/types"
	"github.com/automatabms/corefabric/internal/workerpool"
)

func main() {
	locationID := flag.String("location", "", "Location id this process serves (required)")
	rosterPath := flag.String("roster", "roster.yaml", "Path to the equipment roster YAML file")
	concurrency := flag.Int("concurrency", workerpool.DefaultConcurrency, "Worker pool concurrency bound (spec §5: typically 2-4)")
	otelEnabled := flag.Bool("otel", false, "Enable OpenTelemetry metrics and tracing export")
	flag.Parse()

	if *locationID == "" {
		fmt.Fprintln(os.Stderr, "missing required -location flag")
		os.Exit(1)
	}

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

	eventlog.SetGlobal(eventlog.New(*locationID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCfg := otel.DefaultMetricsConfig()
	metricsCfg.Enabled = *otelEnabled
	metricsCfg.ServiceName = "hvaccp-locationprocessor"
	m, err := otel.NewMetrics(ctx, metricsCfg)
	if err != nil {
		slog.Error("metrics init failed, continuing with noop metrics", "error", err)
		m = otel.NoopMetrics()
	}
	otel.SetGlobalMetrics(m)

	registry := controlalgo.NewRegistry()
	if err := algorithms.RegisterAll(registry); err != nil {
		fmt.Fprintf(os.Stderr, "control algorithm registration failed: %v\n", err)
		os.Exit(1)
	}

	state := statestore.New(statestore.Config{Addr: env.RedisAddr})
	defer state.Close()
	metrics := metricstore.New(metricstore.Config{URL: env.InfluxURL, Database: env.InfluxDatabase})
	defer metrics.Close()
	queue := jobqueue.New(env.RedisAddr)
	defer queue.Close()

	events := jobqueue.NewEventBus()
	equipment := roster.Equipment[*locationID]

	proc := locationprocessor.New(*locationID, equipment, metrics, queue, events)
	pool := workerpool.New(*locationID, registry, metrics, state, events, queue)

	groups := groupsForLocation(roster, *locationID)
	mgr := leadlag.New(*locationID, groups, nil, state, metrics, pool)

	proc.Start(ctx)
	defer proc.Stop()

	asynqServer := jobqueue.NewServer(env.RedisAddr, *locationID, *concurrency)
	mux := workerpool.NewMux(pool)

	go runLeadLagLoop(ctx, mgr)

	if err := asynqServer.Start(mux); err != nil {
		fmt.Fprintf(os.Stderr, "asynq server failed to start: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("location processor %q running (tick+worker in one process)\n", *locationID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	cancel()
	asynqServer.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = m.Shutdown(shutdownCtx)
}

// runLeadLagLoop drives the lead-lag manager (C8) once every
// config.LeadLagRunInterval. The manager's own lock keeps a pass from
// this loop from overlapping with one started elsewhere (such as a
// batch pass) for the same location; it does not space passes apart.
func runLeadLagLoop(ctx context.Context, mgr *leadlag.Manager) {
	ticker := time.NewTicker(config.LeadLagRunInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := mgr.Run(ctx); err != nil {
				eventlog.Global().LogAlgorithmFault("", "", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func groupsForLocation(roster *config.Roster, locationID string) []types.LeadLagGroup {
	equipmentLocation := make(map[string]string)
	for _, eq := range roster.Equipment[locationID] {
		equipmentLocation[eq.EquipmentID] = locationID
	}
	var out []types.LeadLagGroup
	for _, g := range roster.LeadLag {
		if len(g.Members) == 0 {
			continue
		}
		if _, ok := equipmentLocation[g.Members[0]]; ok {
			out = append(out, g)
		}
	}
	return out
}
