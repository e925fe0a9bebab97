// Package batchenqueue implements the batch enqueuer (C9): the
// cron-driven fallback path (spec §4.8) that walks the whole roster
// once per invocation and fires the same smart gate the per-location
// processors (C6) run continuously, then gives the lead-lag manager
// (C8) a chance to run its own maintenance pass per location.
package batchenqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/automatabms/corefabric/internal/config"
	"github.com/automatabms/corefabric/internal/eventlog"
	"github.com/automatabms/corefabric/internal/jobqueue"
	"github.com/automatabms/corefabric/internal/leadlag"
	"github.com/automatabms/corefabric/internal/locationprocessor"
	"github.com/automatabms/corefabric/internal/metricstore"
	"github.com/automatabms/corefabric/internal/statestore"
	"github.com/automatabms/corefabric/internal/types"
)

// batchLockKey is the advisory lock name guarding one batch pass at a
// time across every process that might run this path (spec §4.8 step
// 4 / §9).
const batchLockKey = "batch"

// Summary reports what one Run pass did, for the caller (cmd/batchenqueue
// or the httpapi cron path) to log and return to its caller.
type Summary struct {
	RunID         string
	LockSkipped   bool
	LocationsSeen int
	EquipmentSeen int
	Queued        int
	AlreadyQueued int
	Errors        int
}

// Enqueuer holds one location processor and lead-lag manager per
// location, built lazily and reused across Run calls so their
// in-flight/changeover bookkeeping persists between batch passes the
// same way it would for a long-lived per-location ticker.
type Enqueuer struct {
	roster   *config.Roster
	state    *statestore.Store
	metrics  *metricstore.Gateway
	queue    *jobqueue.Queue
	schedule map[string]time.Duration // groupID -> lead-lag changeover period

	processors map[string]*locationprocessor.Processor
	managers   map[string]*leadlag.Manager
}

// New creates an Enqueuer over roster's locations. schedule may be nil;
// any lead-lag group absent from it rotates on leadlag.DefaultChangeoverPeriod.
func New(roster *config.Roster, state *statestore.Store, metrics *metricstore.Gateway, queue *jobqueue.Queue, schedule map[string]time.Duration) *Enqueuer {
	return &Enqueuer{
		roster:     roster,
		state:      state,
		metrics:    metrics,
		queue:      queue,
		schedule:   schedule,
		processors: make(map[string]*locationprocessor.Processor),
		managers:   make(map[string]*leadlag.Manager),
	}
}

// Run executes one batch pass (spec §4.8 steps 1-4). force bypasses
// the batch lock only: no other step changes meaning under force (the
// smart gate's own staleness and priority rules still apply exactly as
// they do for the per-location tickers).
func (e *Enqueuer) Run(ctx context.Context, force bool) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()}

	if !force {
		acquired, err := e.state.AcquireLock(ctx, batchLockKey, config.BatchLockTTL)
		if err != nil {
			return summary, fmt.Errorf("batchenqueue: acquire lock: %w", err)
		}
		if !acquired {
			summary.LockSkipped = true
			return summary, nil
		}
		defer e.state.ReleaseLock(ctx, batchLockKey)
	}

	equipmentByLocation := e.refreshEquipmentList(ctx)
	equipmentLocation := make(map[string]string, len(equipmentByLocation))

	summary.LocationsSeen = len(e.roster.Locations)
	for _, locationID := range e.roster.Locations {
		items := equipmentByLocation[locationID]
		summary.EquipmentSeen += len(items)
		for _, eq := range items {
			equipmentLocation[eq.EquipmentID] = locationID
		}

		proc := e.processorFor(locationID, items)
		for _, eq := range items {
			outcome := proc.ProcessOne(ctx, eq)
			switch {
			case outcome.Err != nil:
				summary.Errors++
			case outcome.AlreadyQueued:
				summary.AlreadyQueued++
			case outcome.Enqueued:
				summary.Queued++
			}
		}
	}

	for locationID, groups := range groupsByLocation(e.roster.LeadLag, equipmentLocation) {
		mgr := e.managerFor(locationID, groups)
		if err := mgr.Run(ctx); err != nil {
			summary.Errors++
			eventlog.Global().LogAlgorithmFault(summary.RunID, locationID, err)
		}
	}

	eventlog.Global().LogBatchRun(summary.RunID, summary.Queued, summary.AlreadyQueued, summary.Errors, time.Since(start).Milliseconds())
	return summary, nil
}

// ProcessSingle runs the smart-gate-and-enqueue path for one
// equipment id outside the full batch pass, for the cron endpoint's
// equipmentId-present branch (spec §6). It shares the same processor
// (and therefore the same in-flight bookkeeping) this Enqueuer's batch
// Run uses for that equipment's location. A per-location ticker in
// another process keeps its own in-flight set; the queue's jobKey
// dedup is what keeps the two from double-enqueueing the same jobKey.
func (e *Enqueuer) ProcessSingle(ctx context.Context, equipmentID string) (locationprocessor.Outcome, error) {
	eq, ok := e.roster.Lookup(equipmentID)
	if !ok {
		return locationprocessor.Outcome{}, fmt.Errorf("batchenqueue: unknown equipment %q", equipmentID)
	}
	proc := e.processorFor(eq.LocationID, e.roster.Equipment[eq.LocationID])
	return proc.ProcessOne(ctx, eq), nil
}

// refreshEquipmentList reads the 4-hour equipment-list cache (spec
// §4.2), re-seeding it from the statically loaded roster on a miss.
// "Refresh" here means re-validating the cache entry, not re-parsing
// the roster source file every pass.
func (e *Enqueuer) refreshEquipmentList(ctx context.Context) map[string][]types.Equipment {
	cached, ok, err := e.state.GetEquipmentListCache(ctx)
	if err != nil || !ok {
		all := e.roster.AllEquipment()
		if putErr := e.state.PutEquipmentListCache(ctx, all, config.EquipmentListCacheTTL); putErr != nil {
			eventlog.Global().LogAlgorithmFault("", "", putErr)
		}
		return e.roster.Equipment
	}

	byLocation := make(map[string][]types.Equipment)
	for _, eq := range cached {
		byLocation[eq.LocationID] = append(byLocation[eq.LocationID], eq)
	}
	return byLocation
}

func (e *Enqueuer) processorFor(locationID string, items []types.Equipment) *locationprocessor.Processor {
	if proc, ok := e.processors[locationID]; ok {
		return proc
	}
	proc := locationprocessor.New(locationID, items, e.metrics, e.queue, nil)
	e.processors[locationID] = proc
	return proc
}

func (e *Enqueuer) managerFor(locationID string, groups []types.LeadLagGroup) *leadlag.Manager {
	if mgr, ok := e.managers[locationID]; ok {
		return mgr
	}
	// No worker pool wired yet: shortfall mirroring is skipped until
	// WireWorkers attaches one (neither cmd/batchenqueue nor
	// cmd/controlplane runs a worker pool or calls WireWorkers).
	mgr := leadlag.New(locationID, groups, e.schedule, e.state, e.metrics, nil)
	e.managers[locationID] = mgr
	return mgr
}

// WireWorkers lets the caller attach the in-process worker pool for
// locationID once it exists, so the lead-lag manager can mirror a
// lead's shortfall timer (spec §4.7) instead of running without it.
// Must be called before the first Run that touches locationID's
// groups; safe to call again to replace the manager's reader.
func (e *Enqueuer) WireWorkers(locationID string, groups []types.LeadLagGroup, workers leadlag.StateReader) {
	e.managers[locationID] = leadlag.New(locationID, groups, e.schedule, e.state, e.metrics, workers)
}

// groupsByLocation buckets lead-lag groups by the location of their
// first member. A group's own record carries no locationId; roster
// groups never mix equipment across locations, so the first member is
// sufficient to resolve it.
func groupsByLocation(groups []types.LeadLagGroup, equipmentLocation map[string]string) map[string][]types.LeadLagGroup {
	out := make(map[string][]types.LeadLagGroup)
	for _, g := range groups {
		if len(g.Members) == 0 {
			continue
		}
		loc, ok := equipmentLocation[g.Members[0]]
		if !ok {
			continue
		}
		out[loc] = append(out[loc], g)
	}
	return out
}
