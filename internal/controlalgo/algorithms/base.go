// Package algorithms holds the representative per-equipment-type
// control algorithms named in spec §4.6. Each implements
// controlalgo.Algorithm as a pure function: no I/O, a recover-guarded
// Run, and a conservative SafeState used both on panic and whenever
// the caller wants a fail-safe output without computing one.
package algorithms

import (
	"strconv"
	"time"

	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/scalar"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// runSafely invokes fn, recovering from any panic and substituting
// safeState so a control-algorithm exception never escapes to the
// worker pool (spec §4.6: "must always produce a conservative safe
// state on exception").
func runSafely(fn func() controlalgo.Outputs, safeState func() controlalgo.Outputs) (out controlalgo.Outputs) {
	defer func() {
		if r := recover(); r != nil {
			out = safeState()
			if out.Diagnostics == nil {
				out.Diagnostics = map[string]string{}
			}
			out.Diagnostics["recovered_panic"] = "true"
		}
	}()
	return fn()
}

// clockNow is overridable in tests so occupancy-window and
// cycle-timer logic can be exercised deterministically.
var clockNow = time.Now

func withClock(fn func() time.Time) (restore func()) {
	prev := clockNow
	clockNow = fn
	return func() { clockNow = prev }
}

func num(m map[string]scalar.Scalar, field string, fallback float64) float64 {
	if s, ok := m[field]; ok {
		return scalar.ParseSafeNumber(s, fallback)
	}
	return fallback
}

func stateMapFloat64(st controlalgo.StateStorage, key string) (map[string]interface{}, bool) {
	v, ok := st[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}
