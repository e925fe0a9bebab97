// Package workerpool implements the worker pool (C7): consumes jobs
// from the per-location queue, resolves and runs the control algorithm
// for each, and publishes the result to the metric store and shared
// state store in the order spec §4.2/§5 require.
package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/automatabms/corefabric/internal/config"
	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/eventlog"
	"github.com/automatabms/corefabric/internal/jobqueue"
	"github.com/automatabms/corefabric/internal/metricstore"
	"github.com/automatabms/corefabric/internal/otel"
	"github.com/automatabms/corefabric/internal/statestore"
	"github.com/automatabms/corefabric/internal/types"
	"github.com/automatabms/corefabric/internal/validation"
)

// DefaultConcurrency is the worker-pool concurrency bound named in
// spec §5 ("a small bound, typically 2-4").
const DefaultConcurrency = 4

// Pool drains one location's job queue, running each job's control
// algorithm and fanning its result out to the metric store, state
// store, and event bus.
type Pool struct {
	locationID string
	registry   *controlalgo.Registry
	metrics    *metricstore.Gateway
	state      *statestore.Store
	events     *jobqueue.EventBus
	queue      *jobqueue.Queue

	stateMu        sync.Mutex
	algorithmState map[string]controlalgo.StateStorage // equipmentID -> scratchpad
}

// New creates a Pool for one location. algorithmState is kept
// in-process rather than in the shared state store: the worker pool
// for a location's jobs runs in the same process as that location's
// processor (spec §5), so there is exactly one writer. queue may be
// nil, in which case completed/failed jobs are not recorded into C3's
// bounded debugging history (spec §4.3).
func New(locationID string, registry *controlalgo.Registry, metrics *metricstore.Gateway, state *statestore.Store, events *jobqueue.EventBus, queue *jobqueue.Queue) *Pool {
	return &Pool{
		locationID:     locationID,
		registry:       registry,
		metrics:        metrics,
		state:          state,
		events:         events,
		queue:          queue,
		algorithmState: make(map[string]controlalgo.StateStorage),
	}
}

// ProcessTask implements asynq.Handler. It is registered for
// jobqueue.TaskTypeControlJob and is the single entry point the asynq
// server calls for every dequeued job.
func (p *Pool) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload jobqueue.Payload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("workerpool: unmarshal payload: %w", err)
	}
	return p.run(ctx, payload)
}

func (p *Pool) run(ctx context.Context, payload jobqueue.Payload) error {
	start := time.Now()
	jobID := payload.JobKey

	alg, ok := p.registry.Resolve(payload.LocationID, payload.Type, payload.EquipmentID)
	if !ok {
		return p.fail(ctx, payload, jobID, "no control algorithm registered and no default configured")
	}

	metrics, err := p.metrics.ReadLatestMetrics(ctx, payload.EquipmentID, payload.LocationID, 15)
	if err != nil {
		return p.fail(ctx, payload, jobID, "metric read failed: "+err.Error())
	}

	settings, err := p.state.GetSettings(ctx, payload.EquipmentID)
	if err != nil && !statestore.IsNotFound(err) {
		return p.fail(ctx, payload, jobID, "settings read failed: "+err.Error())
	}

	in := controlalgo.Inputs{
		EquipmentID: payload.EquipmentID,
		LocationID:  payload.LocationID,
		Metrics:     metrics,
		Settings:    settings,
		State:       p.loadState(payload.EquipmentID),
	}

	out := p.runAlgorithm(alg, in, payload)
	p.storeState(payload.EquipmentID, out.State)

	whitelist := controlalgo.Whitelist(payload.Type)
	fields := make([]string, 0, len(out.OutputFields))
	for field := range out.OutputFields {
		fields = append(fields, field)
	}
	if report := validation.ValidateWhitelist(fields, whitelist); !report.OK {
		dropped := make([]string, 0, len(report.Errors))
		for _, d := range report.Errors {
			dropped = append(dropped, strings.TrimPrefix(d.JSONPointer, "/"))
		}
		eventlog.Global().LogFieldsDropped(jobID, payload.EquipmentID, dropped)
	}

	commands := make([]types.ControlCommand, 0, len(out.OutputFields))
	nowNs := time.Now().UnixNano()
	for field, value := range out.OutputFields {
		if _, allowed := whitelist[field]; !allowed {
			continue
		}
		commands = append(commands, types.ControlCommand{
			EquipmentID:      payload.EquipmentID,
			LocationID:       payload.LocationID,
			CommandType:      field,
			Value:            value,
			SourceTag:        "controlalgo",
			StatusTag:        "applied",
			EquipmentTypeTag: payload.Type,
			TimestampNs:      nowNs,
		})
	}

	writeResults := p.metrics.WriteCommands(ctx, payload.EquipmentID, payload.LocationID, payload.Type, commands)
	failedWrites := 0
	for _, r := range writeResults {
		if !r.OK {
			failedWrites++
		}
	}

	if err := p.advanceSettings(ctx, payload.EquipmentID, commands); err != nil {
		return p.fail(ctx, payload, jobID, "settings write failed: "+err.Error())
	}

	status := &types.JobStatus{
		JobID:  jobID,
		Status: "completed",
		Result: map[string]interface{}{
			"fieldsWritten": len(commands) - failedWrites,
			"fieldsFailed":  failedWrites,
		},
	}
	if err := p.state.PutStatus(ctx, jobID, status, config.JobStatusTTL); err != nil {
		eventlog.Global().LogAlgorithmFault(jobID, payload.EquipmentID, err)
	}

	latencyMs := float64(time.Since(start).Milliseconds())
	otel.GetGlobalMetrics().RecordJobLatency(ctx, payload.Type, latencyMs, true)

	if p.queue != nil {
		p.queue.RecordCompleted(jobID)
	}
	if p.events != nil {
		p.events.Publish(jobqueue.Event{JobKey: payload.JobKey})
	}
	return nil
}

// runAlgorithm invokes alg.Run, recovering into alg.SafeState if Run
// itself panics despite its own internal recovery (defense in depth:
// algorithms are expected to recover via runSafely, this is the
// worker pool's own backstop).
func (p *Pool) runAlgorithm(alg controlalgo.Algorithm, in controlalgo.Inputs, payload jobqueue.Payload) (out controlalgo.Outputs) {
	defer func() {
		if r := recover(); r != nil {
			eventlog.Global().LogAlgorithmFault(payload.JobKey, payload.EquipmentID, fmt.Errorf("panic: %v", r))
			otel.GetGlobalMetrics().RecordAlgorithmError(context.Background(), payload.Type)
			out = alg.SafeState(in)
		}
	}()
	return alg.Run(in)
}

// advanceSettings writes back the equipment's settings record with a
// strictly-increasing lastModified (Invariant 4) and ModifiedBy set to
// "workerpool". The record's other fields are written back as read;
// the command outputs are not copied into it.
func (p *Pool) advanceSettings(ctx context.Context, equipmentID string, commands []types.ControlCommand) error {
	existing, err := p.state.GetSettings(ctx, equipmentID)
	if err != nil && !statestore.IsNotFound(err) {
		return err
	}
	settings := existing
	if settings == nil {
		settings = &types.EquipmentSettings{EquipmentID: equipmentID, Enabled: true, Setpoints: map[string]float64{}}
	}
	if settings.Setpoints == nil {
		settings.Setpoints = map[string]float64{}
	}

	settings.LastModified = time.Now().UTC().Format(time.RFC3339Nano)
	settings.ModifiedBy = "workerpool"

	if err := p.state.PutSettings(ctx, settings); err != nil {
		return err
	}
	eventlog.Global().LogSettingsApplied("", equipmentID, settings.LastModified)
	return nil
}

func (p *Pool) fail(ctx context.Context, payload jobqueue.Payload, jobID, reason string) error {
	eventlog.Global().LogAlgorithmFault(jobID, payload.EquipmentID, fmt.Errorf("%s", reason))
	otel.GetGlobalMetrics().RecordAlgorithmError(ctx, payload.Type)

	status := &types.JobStatus{JobID: jobID, Status: "failed", Message: reason}
	_ = p.state.PutStatus(ctx, jobID, status, config.JobStatusTTL)

	if p.queue != nil {
		p.queue.RecordFailed(jobID, reason)
	}
	if p.events != nil {
		p.events.Publish(jobqueue.Event{JobKey: payload.JobKey, Failed: true, Reason: reason})
	}
	return fmt.Errorf("workerpool: job %s: %s", jobID, reason)
}

// PeekState returns a snapshot of equipmentID's algorithm scratchpad,
// for the lead-lag manager (C8) to read a lead's shortfall-timer
// without routing it through another I/O round trip: that manager
// runs in the same process as this pool (spec §5).
func (p *Pool) PeekState(equipmentID string) controlalgo.StateStorage {
	return p.loadState(equipmentID)
}

func (p *Pool) loadState(equipmentID string) controlalgo.StateStorage {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	st := p.algorithmState[equipmentID]
	snap := make(controlalgo.StateStorage, len(st))
	for k, v := range st {
		snap[k] = v
	}
	return snap
}

func (p *Pool) storeState(equipmentID string, st controlalgo.StateStorage) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if st == nil {
		st = controlalgo.StateStorage{}
	}
	p.algorithmState[equipmentID] = st
}

// NewMux builds the asynq.ServeMux the location's asynq.Server should
// run, with p registered as the control-job handler.
func NewMux(p *Pool) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(jobqueue.TaskTypeControlJob, p)
	return mux
}
