package algorithms

import (
	"testing"
	"time"

	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/scalar"
	"github.com/automatabms/corefabric/internal/types"
)

// TestChillerStagingSweep exercises the literal boundary behavior from
// spec §8: setpoint 45 °F, chilled-water temp stepping
// 45 → 46 → 47.5 → 49 → 51 °F, expected active stages 0, 0, 1, 2, 4.
func TestChillerStagingSweep(t *testing.T) {
	restore := withClock(func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) })
	defer restore()

	c := NewChiller4Stage()
	st := controlalgo.StateStorage{}
	settings := &types.EquipmentSettings{Setpoints: map[string]float64{"chilledWaterSetpoint": 45}}

	steps := []struct {
		temp          float64
		expectedStage float64
	}{
		{45, 0},
		{46, 0},
		{47.5, 1},
		{49, 2},
		{51, 4},
	}

	for _, step := range steps {
		in := controlalgo.Inputs{
			Metrics:  types.MetricMap{"chilledWaterSupply": scalar.Num(step.temp)},
			Settings: settings,
			State:    st,
		}
		out := c.Run(in)
		st = out.State
		got := scalar.ParseSafeNumber(out.OutputFields["activeStages"], -1)
		if got != step.expectedStage {
			t.Errorf("temp=%.1f: expected stage %v, got %v", step.temp, step.expectedStage, got)
		}
	}
}

func TestChillerSheddingRequiresHysteresisAndHoldTime(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	restore := withClock(func() time.Time { return now })
	defer restore()

	c := NewChiller4Stage()
	settings := &types.EquipmentSettings{Setpoints: map[string]float64{"chilledWaterSetpoint": 45}}
	in := controlalgo.Inputs{
		Metrics:  types.MetricMap{"chilledWaterSupply": scalar.Num(51)},
		Settings: settings,
		State:    controlalgo.StateStorage{},
	}
	out := c.Run(in)
	if got := scalar.ParseSafeNumber(out.OutputFields["activeStages"], -1); got != 4 {
		t.Fatalf("setup: expected stage 4, got %v", got)
	}

	// Temperature drops back toward setpoint immediately; shedding
	// should not happen within the minimum hold time even though the
	// new error is below every stage's (threshold-hysteresis).
	in.State = out.State
	in.Metrics = types.MetricMap{"chilledWaterSupply": scalar.Num(45.2)}
	out = c.Run(in)
	if got := scalar.ParseSafeNumber(out.OutputFields["activeStages"], -1); got != 4 {
		t.Fatalf("expected no shedding inside the minimum hold time, got %v", got)
	}

	// Past the hold time, shedding drops exactly one stage per tick.
	now = now.Add(chillerMinOnOffSec * time.Second)
	in.State = out.State
	out = c.Run(in)
	if got := scalar.ParseSafeNumber(out.OutputFields["activeStages"], -1); got != 3 {
		t.Errorf("expected shedding to drop exactly one stage per tick, got %v", got)
	}
}
