// Package leadlag implements the lead-lag manager (C8): scheduled
// lead rotation and fault-triggered failover for paired equipment
// groups (boilers, pumps, chillers), plus mirroring the lead's
// sustained-shortfall timer into its lag members' settings so the
// lag's own control algorithm can decide when to join.
package leadlag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/automatabms/corefabric/internal/config"
	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/eventlog"
	"github.com/automatabms/corefabric/internal/metricstore"
	"github.com/automatabms/corefabric/internal/otel"
	"github.com/automatabms/corefabric/internal/scalar"
	"github.com/automatabms/corefabric/internal/smartgate"
	"github.com/automatabms/corefabric/internal/statestore"
	"github.com/automatabms/corefabric/internal/types"
)

// staleMetricsWindow is "N minutes" from spec §4.7's fault signature:
// no samples within this window counts as a fault, matching the
// metric store's 15-minute read window.
const staleMetricsWindow = 15

// DefaultChangeoverPeriod is used for any group without a more
// specific entry in a Manager's schedule (weekly rotation, spec
// §4.7's "commonly weekly").
const DefaultChangeoverPeriod = 7 * 24 * time.Hour

// StateReader exposes a snapshot of one equipment item's algorithm
// scratchpad. *workerpool.Pool implements this; the interface exists
// so leadlag doesn't need to know about asynq or job dispatch.
type StateReader interface {
	PeekState(equipmentID string) controlalgo.StateStorage
}

// Manager runs scheduled changeover and fault failover for one
// location's lead-lag groups.
type Manager struct {
	locationID string
	groups     []types.LeadLagGroup
	schedule   map[string]time.Duration // groupID -> rotation period
	state      *statestore.Store
	metrics    *metricstore.Gateway
	workers    StateReader
}

// New creates a Manager for locationID's lead-lag groups. schedule may
// be nil; any group absent from it rotates on DefaultChangeoverPeriod.
// workers may be nil, in which case shortfall mirroring is skipped
// (lag members then rely solely on their own metrics).
func New(locationID string, groups []types.LeadLagGroup, schedule map[string]time.Duration, state *statestore.Store, metrics *metricstore.Gateway, workers StateReader) *Manager {
	return &Manager{
		locationID: locationID,
		groups:     groups,
		schedule:   schedule,
		state:      state,
		metrics:    metrics,
		workers:    workers,
	}
}

// Run executes one maintenance pass across every group, guarded by the
// C2 lock named in spec §4.7/§9 (TTL config.LeadLagLockTTL). The lock
// keeps two passes for the same location from overlapping and is
// released when the pass ends, so it does not by itself limit how
// often passes run; that cadence comes from the caller. Returns nil
// without doing anything if the lock is already held elsewhere.
func (m *Manager) Run(ctx context.Context) error {
	lockKey := "leadlag:" + m.locationID
	acquired, err := m.state.AcquireLock(ctx, lockKey, config.LeadLagLockTTL)
	if err != nil {
		return fmt.Errorf("leadlag: acquire lock: %w", err)
	}
	if !acquired {
		return nil
	}
	defer m.state.ReleaseLock(ctx, lockKey)

	for _, g := range m.groups {
		m.runGroup(ctx, g)
	}
	return nil
}

func (m *Manager) runGroup(ctx context.Context, seed types.LeadLagGroup) {
	record, err := m.state.GetLeadLagGroup(ctx, seed.GroupID)
	if err != nil {
		if !statestore.IsNotFound(err) {
			return
		}
		record = &seed
	}

	if !m.checkFailover(ctx, record) {
		m.checkScheduledChangeover(ctx, record)
	}
	_ = m.state.PutLeadLagGroup(ctx, record)

	m.mirrorShortfall(ctx, record)
}

// checkFailover polls each member's recent metrics for the fault
// signature from spec §4.7 (no samples within N minutes, or an active
// safety trigger) and promotes a healthy lag when the current lead
// exhibits it. Returns true if a promotion happened.
func (m *Manager) checkFailover(ctx context.Context, record *types.LeadLagGroup) bool {
	if m.metrics == nil {
		return false
	}
	equipmentType := groupEquipmentType(record.GroupID)

	lead := record.LeadEquipmentID
	if lead == "" {
		return false
	}
	if !m.isFaulted(ctx, lead, equipmentType) {
		return false
	}

	for _, member := range record.Members {
		if member == lead {
			continue
		}
		if m.isFaulted(ctx, member, equipmentType) {
			continue
		}
		m.promote(ctx, record, lead, member, "lead fault signature detected")
		return true
	}
	return false
}

func (m *Manager) isFaulted(ctx context.Context, equipmentID, equipmentType string) bool {
	metrics, err := m.metrics.ReadLatestMetrics(ctx, equipmentID, m.locationID, staleMetricsWindow)
	if err != nil {
		return true
	}
	if isFallback(metrics) {
		return true
	}
	if _, fired := smartgate.SafetyTrigger(equipmentType, metrics); fired {
		return true
	}
	return false
}

func isFallback(m types.MetricMap) bool {
	fallback := types.FallbackMetrics()
	if len(m) != len(fallback) {
		return false
	}
	for k, v := range fallback {
		got, ok := m[k]
		if !ok || scalar.ParseSafeNumber(got, -1) != scalar.ParseSafeNumber(v, -2) {
			return false
		}
	}
	return true
}

// promote swaps lead status between oldLead and newLead. The old
// lead's isLead is written false before the new lead's is written
// true: absent a cross-key transaction, a brief zero-lead window is
// safer than a brief dual-lead window (both algorithms treat
// isLead=false as "wait for sustained shortfall" rather than "fire").
func (m *Manager) promote(ctx context.Context, record *types.LeadLagGroup, oldLead, newLead, reason string) {
	if err := m.setIsLead(ctx, oldLead, false); err != nil {
		eventlog.Global().LogAlgorithmFault("", oldLead, err)
		return
	}
	if err := m.setIsLead(ctx, newLead, true); err != nil {
		eventlog.Global().LogAlgorithmFault("", newLead, err)
		return
	}

	record.LeadEquipmentID = newLead
	record.FailoverState = types.FailoverActive

	eventlog.Global().LogLeadLagFailover(record.GroupID, oldLead, newLead, reason)
	otel.GetGlobalMetrics().RecordLeadLagFailover(ctx, record.GroupID)
}

func (m *Manager) setIsLead(ctx context.Context, equipmentID string, isLead bool) error {
	settings, err := m.state.GetSettings(ctx, equipmentID)
	if err != nil {
		if !statestore.IsNotFound(err) {
			return err
		}
		settings = &types.EquipmentSettings{EquipmentID: equipmentID, Enabled: true, Setpoints: map[string]float64{}}
	}
	settings.IsLead = isLead
	settings.LastModified = time.Now().UTC().Format(time.RFC3339Nano)
	settings.ModifiedBy = "leadlag"
	return m.state.PutSettings(ctx, settings)
}

// checkScheduledChangeover rotates the lead to the next member in
// round-robin order once the group's changeover schedule elapses.
// Returns true if a rotation happened.
func (m *Manager) checkScheduledChangeover(ctx context.Context, record *types.LeadLagGroup) bool {
	period, ok := m.schedule[record.GroupID]
	if !ok {
		period = DefaultChangeoverPeriod
	}

	now := time.Now().UnixMilli()
	if record.NextChangeoverAt == 0 {
		// First time this group has been seen: establish the baseline
		// schedule rather than rotating immediately.
		record.NextChangeoverAt = now + period.Milliseconds()
		return false
	}
	if now < record.NextChangeoverAt {
		return false
	}
	if len(record.Members) < 2 {
		record.NextChangeoverAt = now + period.Milliseconds()
		return false
	}

	oldLead := record.LeadEquipmentID
	newLead := nextMember(record.Members, oldLead)
	if newLead == oldLead {
		record.NextChangeoverAt = now + period.Milliseconds()
		return false
	}

	if err := m.setIsLead(ctx, oldLead, false); err != nil {
		eventlog.Global().LogAlgorithmFault("", oldLead, err)
		return false
	}
	if err := m.setIsLead(ctx, newLead, true); err != nil {
		eventlog.Global().LogAlgorithmFault("", newLead, err)
		return false
	}

	record.LeadEquipmentID = newLead
	record.NextChangeoverAt = now + period.Milliseconds()
	record.FailoverState = types.FailoverNone

	eventlog.Global().LogLeadLagChangeover(record.GroupID, oldLead, newLead)
	return true
}

func nextMember(members []string, current string) string {
	for i, member := range members {
		if member == current {
			return members[(i+1)%len(members)]
		}
	}
	return members[0]
}

// mirrorShortfall copies the lead's leadShortfallSince scratchpad
// value into every lag member's settings, so each lag's own algorithm
// invocation can see how long the lead has been short without the
// worker pool routing cross-equipment reads through C1/C2.
func (m *Manager) mirrorShortfall(ctx context.Context, record *types.LeadLagGroup) {
	if m.workers == nil || record.LeadEquipmentID == "" {
		return
	}
	leadState := m.workers.PeekState(record.LeadEquipmentID)
	since, ok := leadState["leadShortfallSince"]
	if !ok {
		return
	}
	var sinceUnix int64
	switch v := since.(type) {
	case int64:
		sinceUnix = v
	case int:
		sinceUnix = int64(v)
	case float64:
		sinceUnix = int64(v)
	default:
		return
	}

	for _, member := range record.Members {
		if member == record.LeadEquipmentID {
			continue
		}
		settings, err := m.state.GetSettings(ctx, member)
		if err != nil {
			if !statestore.IsNotFound(err) {
				continue
			}
			settings = &types.EquipmentSettings{EquipmentID: member, Enabled: true, Setpoints: map[string]float64{}}
		}
		if settings.Setpoints == nil {
			settings.Setpoints = map[string]float64{}
		}
		if settings.Setpoints["leadShortfallSince"] == float64(sinceUnix) {
			continue
		}
		settings.Setpoints["leadShortfallSince"] = float64(sinceUnix)
		settings.LastModified = time.Now().UTC().Format(time.RFC3339Nano)
		settings.ModifiedBy = "leadlag"
		_ = m.state.PutSettings(ctx, settings)
	}
}

// groupEquipmentType infers the equipment category a group controls
// from its groupID, since the manager only holds member IDs, not
// roster entries. Roster group IDs are expected to carry the category
// (e.g. "boilers-1", "pumps-north").
func groupEquipmentType(groupID string) string {
	lower := strings.ToLower(groupID)
	switch {
	case strings.Contains(lower, "boiler"):
		return "boiler"
	case strings.Contains(lower, "pump"):
		return "pump"
	case strings.Contains(lower, "chiller"):
		return "chiller"
	default:
		return "pump"
	}
}
