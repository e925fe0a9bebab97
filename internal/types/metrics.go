package types

import "github.com/automatabms/corefabric/internal/scalar"

// SystemTagFields are metric-table columns that carry identity/tagging
// information rather than sensor readings; they are never surfaced as
// metrics to control algorithms.
var SystemTagFields = map[string]struct{}{
	"equipmentId":   {},
	"locationId":    {},
	"time":          {},
	"equipment_type": {},
	"system":        {},
	"zone":          {},
}

// IsSystemTagField reports whether field is a tag slot rather than a
// sensor reading.
func IsSystemTagField(field string) bool {
	_, ok := SystemTagFields[field]
	return ok
}

// MetricSample is one timestamped sensor reading for one field on one
// piece of equipment.
type MetricSample struct {
	EquipmentID string
	LocationID  string
	TimestampNs int64
	Field       string
	Value       scalar.Scalar
}

// MetricMap is the merged, most-recent-per-field view of an
// equipment's sensor state returned by readLatestMetrics.
type MetricMap map[string]scalar.Scalar

// FallbackMetrics is returned by the metric store when no samples
// exist for an equipment, so control algorithms degrade rather than
// fail outright.
func FallbackMetrics() MetricMap {
	return MetricMap{
		"outdoor": scalar.Num(50),
		"supply":  scalar.Num(55),
		"room":    scalar.Num(72),
		"return":  scalar.Num(72),
	}
}

// Get returns the scalar for field, or fallback if absent.
func (m MetricMap) Get(field string, fallback scalar.Scalar) scalar.Scalar {
	if v, ok := m[field]; ok {
		return v
	}
	return fallback
}

// Number is a convenience accessor combining Get and ParseSafeNumber.
func (m MetricMap) Number(field string, fallback float64) float64 {
	v, ok := m[field]
	if !ok {
		return fallback
	}
	return scalar.ParseSafeNumber(v, fallback)
}
