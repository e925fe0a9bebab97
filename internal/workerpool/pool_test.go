package workerpool

import (
	"testing"

	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/jobqueue"
	"github.com/automatabms/corefabric/internal/scalar"
)

type panicAlgorithm struct{}

func (panicAlgorithm) Name() string { return "panics" }
func (panicAlgorithm) Run(in controlalgo.Inputs) controlalgo.Outputs {
	panic("boom")
}
func (panicAlgorithm) SafeState(in controlalgo.Inputs) controlalgo.Outputs {
	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{"unitEnable": scalar.Bool(false)},
		State:        in.State,
	}
}

func TestRunAlgorithmRecoversFromPanic(t *testing.T) {
	p := &Pool{}
	out := p.runAlgorithm(panicAlgorithm{}, controlalgo.Inputs{EquipmentID: "E1"}, jobqueue.Payload{
		JobKey: "L1-E1-pump", EquipmentID: "E1", LocationID: "L1", Type: "pump",
	})

	enabled, ok := out.OutputFields["unitEnable"]
	if !ok {
		t.Fatal("expected safe-state unitEnable field")
	}
	if scalar.ParseSafeBoolean(enabled, true) {
		t.Fatal("expected safe state to disable the unit")
	}
}

func TestLoadStoreState(t *testing.T) {
	p := New("L1", controlalgo.NewRegistry(), nil, nil, nil, nil)

	st := p.loadState("E1")
	if len(st) != 0 {
		t.Fatalf("expected empty initial state, got %+v", st)
	}

	st["cycleStart"] = int64(42)
	p.storeState("E1", st)

	reloaded := p.loadState("E1")
	if reloaded["cycleStart"] != int64(42) {
		t.Fatalf("expected persisted state to round-trip, got %+v", reloaded)
	}

	other := p.loadState("E2")
	if len(other) != 0 {
		t.Fatalf("expected separate equipment to have its own empty state, got %+v", other)
	}
}
