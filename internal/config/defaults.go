// Package config holds the control plane's environment-driven
// configuration and the equipment roster loaded at startup.
package config

import "time"

// Per-equipment-category tick period, used by the location processor
// (C6) to schedule each equipment's dedicated ticker.
var TickPeriod = map[string]time.Duration{
	"air_handler": 30 * time.Second,
	"boiler":      45 * time.Second,
	"chiller":     30 * time.Second,
	"pump":        30 * time.Second,
	"doas":        30 * time.Second,
	"cooling_tower": 30 * time.Second,
	"rtu":         30 * time.Second,
}

// DefaultTickPeriod is used for equipment types not present in
// TickPeriod.
const DefaultTickPeriod = 30 * time.Second

// InFlightTimeout is the per-category wall-clock timeout (§4.3) after
// which a job's in-flight entry is force-cleaned even if no
// completed/failed event was observed.
var InFlightTimeout = map[string]time.Duration{
	"air_handler": 90 * time.Second,
	"boiler":      90 * time.Second,
	"chiller":     90 * time.Second,
	"pump":        60 * time.Second,
}

// DefaultInFlightTimeout is used for equipment types not present in
// InFlightTimeout.
const DefaultInFlightTimeout = 90 * time.Second

// Queue retention.
const (
	MaxFailedJobsRetained    = 25
	MaxCompletedJobsRetained = 50
)

// Job retry policy (§4.3): 3 attempts, exponential backoff from 2s.
const (
	MaxJobAttempts     = 3
	RetryBaseDelay     = 2 * time.Second
	RetryMaxDelay      = 30 * time.Second
)

// Shared-state store TTLs (§4.2).
const (
	JobStatusTTL           = 5 * time.Minute
	EquipmentListCacheTTL  = 4 * time.Hour
	EquipmentResultCacheTTL = 2 * time.Minute
	BatchLockTTL           = 3 * time.Minute
	LeadLagLockTTL         = 10 * time.Minute
	SingleEquipmentResultCacheTTL = 2 * time.Minute
)

// Lead-lag manager cadence (§4.7): runs at most every 10 minutes.
const LeadLagRunInterval = 10 * time.Minute

// Smart gate staleness default (§4.5), used when an equipment type has
// no more specific staleness table entry.
const DefaultMaxStaleness = 30 * time.Second

// Operator command priorities (§6).
const (
	PriorityDefaultOperatorCommand = 10
	PriorityEmergencyShutdown      = 20
)

// Event buffer bound for the in-process audit log (mirrors the
// teacher's bounded event log pattern).
const DefaultEventBufferSize = 10000
