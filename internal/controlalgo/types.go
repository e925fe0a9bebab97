// Package controlalgo implements the control algorithm registry (C4):
// a mapping from (location, equipment type, equipment id) to a pure
// control function with a uniform signature, plus the representative
// algorithms named in spec §4.6.
package controlalgo

import (
	"github.com/automatabms/corefabric/internal/scalar"
	"github.com/automatabms/corefabric/internal/types"
)

// StateStorage is an algorithm-owned scratchpad persisted across
// invocations by the worker pool (PID integrators, hysteresis flags,
// cycle timers). It is owned by the caller: algorithms must always
// return the (possibly mutated) map they were given rather than
// allocating a new one, and callers must always reassign from the
// returned value (spec §9 open question).
type StateStorage map[string]interface{}

// Inputs is everything an Algorithm needs to compute an output. It
// never carries I/O handles; algorithms must never perform I/O.
type Inputs struct {
	EquipmentID string
	LocationID  string
	Metrics     types.MetricMap
	Settings    *types.EquipmentSettings
	// CurrentTempHint lets the worker pass a single best-known process
	// temperature when the algorithm needs one reading as a scalar
	// rather than reaching into Metrics directly (spec §4.6 step 3).
	CurrentTempHint float64
	State           StateStorage
}

// Outputs is an Algorithm's result: the command fields it wants
// published, the updated scratchpad, and free-form diagnostics for
// logging. OutputFields is filtered by the worker pool's
// type-specific whitelist before anything is written (spec Invariant
// 5); an algorithm may propose fields outside its own whitelist and
// rely on that clamp.
type Outputs struct {
	OutputFields map[string]scalar.Scalar
	State        StateStorage
	Diagnostics  map[string]string
}

// Algorithm is a pure function of (metrics, settings, stateStorage).
// Implementations must never perform I/O and must always produce a
// conservative safe state (fan off, valves to failsafe position, unit
// enable false where applicable) instead of panicking.
type Algorithm interface {
	// Name identifies the algorithm for registry lookups and logging.
	Name() string

	// Run computes the next control output from in.
	Run(in Inputs) Outputs

	// SafeState returns the conservative output this algorithm
	// publishes when it cannot compute a real result (caught panic,
	// malformed input). The worker pool calls this directly; Run
	// itself must never be allowed to panic out to the caller, so
	// implementations should recover internally and fall back to
	// this same state.
	SafeState(in Inputs) Outputs
}

// Whitelist returns the set of command fields an equipment type is
// permitted to publish (spec §4.6 "Example whitelists"). The worker
// pool consults this, not the algorithm, so the clamp applies
// uniformly regardless of which algorithm produced the output.
func Whitelist(equipmentType string) map[string]struct{} {
	wl, ok := whitelists[equipmentType]
	if !ok {
		return whitelists["default"]
	}
	return wl
}

func set(fields ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		m[f] = struct{}{}
	}
	return m
}

var whitelists = map[string]map[string]struct{}{
	"air_handler": set(
		"heatingValvePosition", "coolingValvePosition", "fanEnabled", "fanSpeed",
		"fanVFDSpeed", "outdoorDamperPosition", "supplyAirTempSetpoint",
		"temperatureSetpoint", "unitEnable", "isOccupied",
	),
	"boiler": set("unitEnable", "firing", "temperatureSetpoint", "isLead"),
	"chiller": set(
		"unitEnable", "temperatureSetpoint", "activeStages", "compressorEnable",
	),
	"pump": set("pumpEnable", "pumpSpeed", "isLead"),
	"doas": set(
		"unitEnable", "gasValvePosition", "dxStage", "heatingEnable",
		"coolingEnable", "supplyAirTempSetpoint", "emergencyShutdown",
	),
	"cooling_tower": set("fanEnabled", "fanSpeed", "unitEnable"),
	"rtu":           set("unitEnable", "fanEnabled", "coolingStage", "heatingStage", "temperatureSetpoint"),
	// default is intentionally small and conservative: any unmapped
	// equipment type can still turn itself off.
	"default": set("unitEnable"),
}

// FieldConventions enumerates, per equipment type, which boolean
// wire-encoding convention a field uses (spec §4.1, §9 open question
// #1). The gateway must never mix conventions for the same field
// across writes, so this table is the single source of truth.
var FieldConventions = map[string]map[string]types.FieldConvention{
	"air_handler": {
		"fanEnabled": {IsBoolean: true, Convention: types.BoolAsFloat},
		"unitEnable": {IsBoolean: true, Convention: types.BoolAsQuotedString},
		"isOccupied": {IsBoolean: true, Convention: types.BoolAsFloat},
	},
	"boiler": {
		"unitEnable": {IsBoolean: true, Convention: types.BoolAsQuotedString},
		"firing":     {IsBoolean: true, Convention: types.BoolAsFloat},
		"isLead":     {IsBoolean: true, Convention: types.BoolAsFloat},
	},
	"chiller": {
		"unitEnable":       {IsBoolean: true, Convention: types.BoolAsQuotedString},
		"compressorEnable": {IsBoolean: true, Convention: types.BoolAsFloat},
	},
	"pump": {
		"pumpEnable": {IsBoolean: true, Convention: types.BoolAsFloat},
		"isLead":     {IsBoolean: true, Convention: types.BoolAsFloat},
	},
	"doas": {
		"unitEnable":        {IsBoolean: true, Convention: types.BoolAsQuotedString},
		"heatingEnable":     {IsBoolean: true, Convention: types.BoolAsFloat},
		"coolingEnable":     {IsBoolean: true, Convention: types.BoolAsFloat},
		"emergencyShutdown": {IsBoolean: true, Convention: types.BoolAsFloat},
	},
}

// FieldConvention looks up the boolean convention for equipmentType's
// field. An unmapped pair is treated as non-boolean and written as a
// number (a boolean value is coerced to 1/0).
func FieldConvention(equipmentType, field string) types.FieldConvention {
	if byType, ok := FieldConventions[equipmentType]; ok {
		if conv, ok := byType[field]; ok {
			return conv
		}
	}
	return types.FieldConvention{IsBoolean: false}
}

// Outdoor air reset curve bounds for the air-handler algorithm (spec
// §4.6, §6's "derived oarSetpoint"): 32°F outdoor -> 74°F supply,
// 72°F outdoor -> 50°F supply.
const (
	oarLowOAT, oarLowSupply   = 32.0, 74.0
	oarHighOAT, oarHighSupply = 72.0, 50.0
)

// OARSetpoint computes the outdoor-air-reset supply setpoint for a
// given outdoor temperature. It is exported so the read-only HTTP
// state endpoint can report the same derived value the air-handler
// algorithm itself computes, without duplicating the curve.
func OARSetpoint(outdoorTemp float64) float64 {
	if outdoorTemp <= oarLowOAT {
		return oarLowSupply
	}
	if outdoorTemp >= oarHighOAT {
		return oarHighSupply
	}
	return oarLowSupply + (outdoorTemp-oarLowOAT)*(oarHighSupply-oarLowSupply)/(oarHighOAT-oarLowOAT)
}
