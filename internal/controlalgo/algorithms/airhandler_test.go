package algorithms

import (
	"testing"
	"time"

	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/scalar"
	"github.com/automatabms/corefabric/internal/types"
)

func TestAirHandlerFreezestat(t *testing.T) {
	restore := withClock(func() time.Time { return time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC) })
	defer restore()

	a := NewAirHandler()
	in := controlalgo.Inputs{
		Metrics: types.MetricMap{"supply": scalar.Num(39.9), "outdoor": scalar.Num(20)},
		State:   controlalgo.StateStorage{},
	}
	out := a.Run(in)

	if scalar.ParseSafeBoolean(out.OutputFields["fanEnabled"], true) != false {
		t.Errorf("expected fanEnabled=false under freezestat, got %v", out.OutputFields["fanEnabled"])
	}
	heatValve := scalar.ParseSafeNumber(out.OutputFields["heatingValvePosition"], -1)
	if heatValve != 100 && heatValve != 0 {
		t.Errorf("expected heating valve at a failsafe-open polarity, got %v", heatValve)
	}
	if heatValve != 100 {
		t.Errorf("expected heating valve fully open under freezestat, got %v", heatValve)
	}
	if scalar.ParseSafeNumber(out.OutputFields["outdoorDamperPosition"], -1) != 0 {
		t.Errorf("expected damper closed under freezestat")
	}
}

func TestAirHandlerUnoccupiedFanCycle(t *testing.T) {
	base := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC) // 22:00, outside 06:30-18:30
	restore := withClock(func() time.Time { return base })
	defer restore()

	a := NewAirHandler()
	st := controlalgo.StateStorage{}
	in := controlalgo.Inputs{
		Metrics: types.MetricMap{"supply": scalar.Num(60), "outdoor": scalar.Num(50), "room": scalar.Num(72)},
		State:   st,
	}

	out := a.Run(in)
	if !scalar.ParseSafeBoolean(out.OutputFields["fanEnabled"], false) {
		t.Fatalf("expected fan cycle to start immediately when nextCycleEligibleTime is already past")
	}
	st = out.State

	clockNow = func() time.Time { return base.Add(15 * time.Minute) }
	in.State = st
	out = a.Run(in)
	if scalar.ParseSafeBoolean(out.OutputFields["fanEnabled"], true) {
		t.Fatalf("expected fan cycle to have ended after 15 minutes")
	}
}

func TestAirHandlerOccupiedNoFreezestat(t *testing.T) {
	restore := withClock(func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) })
	defer restore()

	a := NewAirHandler()
	in := controlalgo.Inputs{
		Metrics: types.MetricMap{"supply": scalar.Num(60), "outdoor": scalar.Num(50), "room": scalar.Num(72)},
		State:   controlalgo.StateStorage{},
	}
	out := a.Run(in)
	if !scalar.ParseSafeBoolean(out.OutputFields["isOccupied"], false) {
		t.Errorf("expected occupied at noon")
	}
	if !scalar.ParseSafeBoolean(out.OutputFields["fanEnabled"], false) {
		t.Errorf("expected fan enabled while occupied")
	}
}
