// Package smartgate implements the smart gate (C5): for one equipment
// item, decides {process now, priority, reason} vs {skip, reason}
// using the priority ladder from spec §4.5.
package smartgate

import (
	"time"

	"github.com/automatabms/corefabric/internal/types"
)

// Priority constants from the spec §4.5 ladder, higher wins.
const (
	PrioritySafety          = 20
	PriorityDeviation       = 16
	PriorityStageThreshold  = 15
	PriorityOperatorCommand = 10
	PriorityChange          = 5
	PriorityStaleness       = 1
)

// Decision is the smart gate's output for one equipment item.
type Decision struct {
	Process  bool
	Priority int
	Reason   string
}

// skip is the zero-value "don't process" decision.
var skip = Decision{Process: false}

// GateError is the fail-safe decision returned when the gate's own
// logic panics: priority 1, process=true, "gate error" (spec §4.5
// "Policy on error" — fail-safe toward work, not silence).
func GateError() Decision {
	return Decision{Process: true, Priority: PriorityStaleness, Reason: "gate error"}
}

// Snapshot is the subset of an equipment's last-seen metrics the gate
// compares against for change detection (spec §3 DeviationCache).
type Snapshot struct {
	Values map[string]float64
	At     time.Time
}

// Inputs bundles everything Evaluate needs for one equipment item.
type Inputs struct {
	Equipment          types.Equipment
	Metrics            types.MetricMap
	RecentUICommands   int // from C1 readRecentUICommands
	LastSnapshot       *Snapshot
	LastProcessedAt    time.Time
	Now                time.Time
}

// Evaluate runs the full priority ladder for one equipment item,
// returning the highest-priority trigger that fires, recovering into
// GateError() if anything panics.
func Evaluate(in Inputs) (dec Decision, snapshot Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			dec = GateError()
		}
	}()

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	snapshot = Snapshot{Values: numericSnapshot(in.Metrics), At: now}

	if reason, ok := safetyTrigger(in.Equipment.Type, in.Metrics); ok {
		return Decision{Process: true, Priority: PrioritySafety, Reason: reason}, snapshot
	}

	if reason, ok := deviationTrigger(in.Equipment.Type, in.Metrics); ok {
		return Decision{Process: true, Priority: PriorityDeviation, Reason: reason}, snapshot
	}

	if in.Equipment.Type == "chiller" {
		if reason, ok := chillerStageThresholdImminent(in.Metrics); ok {
			return Decision{Process: true, Priority: PriorityStageThreshold, Reason: reason}, snapshot
		}
	}

	if in.RecentUICommands > 0 {
		return Decision{Process: true, Priority: PriorityOperatorCommand, Reason: "recent operator command"}, snapshot
	}

	if in.LastSnapshot != nil {
		if reason, ok := changeTrigger(in.Equipment.Type, snapshot.Values, in.LastSnapshot.Values); ok {
			return Decision{Process: true, Priority: PriorityChange, Reason: reason}, snapshot
		}
	}

	maxStale := maxStaleness(in.Equipment.Type)
	if in.LastProcessedAt.IsZero() || now.Sub(in.LastProcessedAt) > maxStale {
		return Decision{Process: true, Priority: PriorityStaleness, Reason: "max staleness exceeded"}, snapshot
	}

	return skip, snapshot
}

func numericSnapshot(m types.MetricMap) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k := range m {
		out[k] = m.Number(k, 0)
	}
	return out
}

func maxStaleness(equipmentType string) time.Duration {
	if d, ok := maxStalenessTable[equipmentType]; ok {
		return d
	}
	return 30 * time.Second
}

var maxStalenessTable = map[string]time.Duration{
	"air_handler": 30 * time.Second,
	"boiler":      30 * time.Second,
	"chiller":     30 * time.Second,
	"pump":        30 * time.Second,
}
