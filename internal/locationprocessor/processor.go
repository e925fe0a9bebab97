// Package locationprocessor implements the per-location processor
// (C6): a cooperative scheduler that ticks every piece of equipment at
// its roster's assigned location on its own cadence, runs the smart
// gate (C5), and enqueues jobs for whatever fires.
package locationprocessor

import (
	"context"
	"sync"
	"time"

	"github.com/automatabms/corefabric/internal/config"
	"github.com/automatabms/corefabric/internal/eventlog"
	"github.com/automatabms/corefabric/internal/jobqueue"
	"github.com/automatabms/corefabric/internal/metricstore"
	"github.com/automatabms/corefabric/internal/otel"
	"github.com/automatabms/corefabric/internal/smartgate"
	"github.com/automatabms/corefabric/internal/types"
)

// Processor runs the per-location tick loop for one location's
// equipment roster. One Processor per location; the worker pool (C7)
// that drains its jobs runs in the same process (spec §5).
type Processor struct {
	locationID string
	equipment  []types.Equipment
	metrics    *metricstore.Gateway
	queue      *jobqueue.Queue
	events     *jobqueue.EventBus

	tickMu          sync.Mutex // serializes ticks across equipment
	mu              sync.Mutex
	inFlight        map[string]time.Time // jobKey -> cleanup deadline
	lastProcessedAt map[string]time.Time // equipmentID -> last smart-gate "process" decision
	lastSnapshot    map[string]smartgate.Snapshot

	stopCh    chan struct{}
	stoppedCh chan struct{}
	wg        sync.WaitGroup
	runMu     sync.Mutex
	running   bool
}

// New creates a Processor for locationID's equipment roster. events
// may be nil if the worker pool publishes completion events through a
// different channel than this processor's subscription.
func New(locationID string, equipment []types.Equipment, metrics *metricstore.Gateway, queue *jobqueue.Queue, events *jobqueue.EventBus) *Processor {
	items := make([]types.Equipment, 0, len(equipment))
	for _, e := range equipment {
		if e.LocationID == locationID {
			items = append(items, e)
		}
	}
	return &Processor{
		locationID:      locationID,
		equipment:       items,
		metrics:         metrics,
		queue:           queue,
		events:          events,
		inFlight:        make(map[string]time.Time),
		lastProcessedAt: make(map[string]time.Time),
		lastSnapshot:    make(map[string]smartgate.Snapshot),
		stopCh:          make(chan struct{}),
		stoppedCh:       make(chan struct{}),
	}
}

// Start launches one ticker goroutine per equipment item plus the
// in-flight cleanup listener. Safe to call only once; subsequent calls
// while already running are no-ops.
func (p *Processor) Start(ctx context.Context) {
	p.runMu.Lock()
	if p.running {
		p.runMu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.runMu.Unlock()

	if p.events != nil {
		p.wg.Add(1)
		go p.drainEvents()
	}

	for _, e := range p.equipment {
		p.wg.Add(1)
		go p.tickLoop(ctx, e)
	}
}

// Stop halts every ticker goroutine and the event listener, blocking
// until they have all exited.
func (p *Processor) Stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.runMu.Unlock()

	p.wg.Wait()
}

func (p *Processor) tickLoop(ctx context.Context, e types.Equipment) {
	defer p.wg.Done()

	period, ok := config.TickPeriod[e.Type]
	if !ok {
		period = config.DefaultTickPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tickMu.Lock()
			p.tick(ctx, e)
			p.tickMu.Unlock()
		case <-p.stopCh:
			return
		}
	}
}

// drainEvents listens for job completion/failure events and clears
// their jobKey from the in-flight set early, ahead of its cleanup
// deadline (spec §4.4 step 1).
func (p *Processor) drainEvents() {
	defer p.wg.Done()
	ch := p.events.Subscribe()
	for {
		select {
		case evt := <-ch:
			p.clearInFlight(evt.JobKey)
		case <-p.stopCh:
			return
		}
	}
}

// Outcome reports what one tick did, for callers that need to count
// results across many equipment items (the batch enqueuer's run
// summary, spec §4.8 step 4).
type Outcome struct {
	Enqueued      bool
	AlreadyQueued bool
	Err           error
}

// ProcessOne runs a single smart-gate-and-enqueue pass for e outside
// the Processor's own ticker loop. The batch enqueuer (C9) calls this
// directly so it shares the exact same gating and in-flight bookkeeping
// as the per-location tickers (spec §4.8 step 2), without needing its
// own ticker goroutines.
func (p *Processor) ProcessOne(ctx context.Context, e types.Equipment) Outcome {
	return p.tick(ctx, e)
}

// tick runs one smart-gate evaluation for e and enqueues a job if it
// fires. In-flight jobKeys are skipped outright: the worker pool
// hasn't finished the previous tick's job yet.
func (p *Processor) tick(ctx context.Context, e types.Equipment) Outcome {
	jobKey := e.JobKey()

	if p.isInFlight(jobKey) {
		eventlog.Global().LogJobSkipped("", e.EquipmentID, "job already in flight")
		otel.GetGlobalMetrics().RecordJobSkipped(ctx, "in_flight")
		return Outcome{}
	}

	metrics, err := p.metrics.ReadLatestMetrics(ctx, e.EquipmentID, e.LocationID, 15)
	if err != nil {
		eventlog.Global().LogJobSkipped("", e.EquipmentID, "metric read failed: "+err.Error())
		return Outcome{Err: err}
	}
	recentCmds, rerr := p.metrics.ReadRecentUICommands(ctx, e.EquipmentID, 5)
	if rerr != nil {
		recentCmds = 0
	}

	now := time.Now()
	p.mu.Lock()
	lastProcessed := p.lastProcessedAt[e.EquipmentID]
	var lastSnap *smartgate.Snapshot
	if snap, ok := p.lastSnapshot[e.EquipmentID]; ok {
		lastSnap = &snap
	}
	p.mu.Unlock()

	dec, snapshot := smartgate.Evaluate(smartgate.Inputs{
		Equipment:        e,
		Metrics:          metrics,
		RecentUICommands: recentCmds,
		LastSnapshot:     lastSnap,
		LastProcessedAt:  lastProcessed,
		Now:              now,
	})

	p.mu.Lock()
	p.lastSnapshot[e.EquipmentID] = snapshot
	p.mu.Unlock()

	if !dec.Process {
		eventlog.Global().LogJobSkipped("", e.EquipmentID, dec.Reason)
		otel.GetGlobalMetrics().RecordJobSkipped(ctx, dec.Reason)
		return Outcome{}
	}

	if dec.Priority == smartgate.PrioritySafety {
		eventlog.Global().LogSafetyTrigger("", e.EquipmentID, dec.Reason)
		otel.GetGlobalMetrics().RecordSafetyTrigger(ctx, e.Type, dec.Reason)
	}

	result, err := p.queue.Enqueue(ctx, types.Job{
		JobKey:      jobKey,
		EquipmentID: e.EquipmentID,
		LocationID:  e.LocationID,
		Type:        e.Type,
		Priority:    dec.Priority,
		Reason:      dec.Reason,
	})
	if err != nil {
		eventlog.Global().LogJobSkipped("", e.EquipmentID, "enqueue failed: "+err.Error())
		return Outcome{Err: err}
	}

	p.mu.Lock()
	p.lastProcessedAt[e.EquipmentID] = now
	p.mu.Unlock()

	if result.AlreadyQueued {
		eventlog.Global().LogJobSkipped("", e.EquipmentID, "already queued")
		return Outcome{AlreadyQueued: true}
	}

	timeout, ok := config.InFlightTimeout[e.Type]
	if !ok {
		timeout = config.DefaultInFlightTimeout
	}
	p.setInFlight(jobKey, now.Add(timeout))

	eventlog.Global().LogJobEnqueued("", e.EquipmentID, jobKey, dec.Reason, dec.Priority)
	otel.GetGlobalMetrics().RecordJobEnqueued(ctx, dec.Priority, dec.Reason)
	otel.GetGlobalMetrics().SetInFlightJobs(p.inFlightCount())
	return Outcome{Enqueued: true}
}

func (p *Processor) isInFlight(jobKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	deadline, ok := p.inFlight[jobKey]
	if !ok {
		return false
	}
	if time.Now().After(deadline) {
		delete(p.inFlight, jobKey)
		return false
	}
	return true
}

func (p *Processor) setInFlight(jobKey string, deadline time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight[jobKey] = deadline
}

func (p *Processor) clearInFlight(jobKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, jobKey)
}

func (p *Processor) inFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	n := 0
	for _, deadline := range p.inFlight {
		if now.Before(deadline) {
			n++
		}
	}
	return n
}

// InFlightCount reports the current size of the in-flight set, for
// diagnostics endpoints and tests.
func (p *Processor) InFlightCount() int {
	return p.inFlightCount()
}
