package algorithms

import (
	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/scalar"
)

// chillerStageOffsets are the offsets above setpoint at which stages
// 1..4 turn on (spec §4.6: "+1.5, +3.0, +4.5, +6.0 °F").
var chillerStageOffsets = []float64{1.5, 3.0, 4.5, 6.0}

const (
	chillerHysteresis  = 0.5
	chillerMinOnOffSec = 5 * 60
)

// Chiller4Stage implements the 4-stage chiller staging algorithm from
// spec §4.6. Staging never skips a stage within one shedding step
// (only one stage is removed per tick, gated by a minimum hold time);
// adding stages reacts immediately to how far above setpoint the
// chilled-water temperature has drifted, since a safety-adjacent
// demand swing should not wait for sequential ramp-up.
type Chiller4Stage struct{}

func NewChiller4Stage() *Chiller4Stage { return &Chiller4Stage{} }

func (c *Chiller4Stage) Name() string { return "chiller_4stage" }

func (c *Chiller4Stage) SafeState(in controlalgo.Inputs) controlalgo.Outputs {
	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{
			"unitEnable":       scalar.Bool(false),
			"compressorEnable": scalar.Bool(false),
			"activeStages":     scalar.Num(0),
		},
		State:       in.State,
		Diagnostics: map[string]string{"reason": "safe_state"},
	}
}

func (c *Chiller4Stage) Run(in controlalgo.Inputs) controlalgo.Outputs {
	return runSafely(func() controlalgo.Outputs { return c.run(in) }, func() controlalgo.Outputs { return c.SafeState(in) })
}

func (c *Chiller4Stage) run(in controlalgo.Inputs) controlalgo.Outputs {
	st := in.State
	if st == nil {
		st = controlalgo.StateStorage{}
	}

	setpoint := 45.0
	if in.Settings != nil {
		if sp, ok := in.Settings.Setpoints["chilledWaterSetpoint"]; ok {
			setpoint = sp
		}
	}
	supplyTemp := in.Metrics.Number("chilledWaterSupply", in.CurrentTempHint)
	chwError := supplyTemp - setpoint

	currentStage := 0
	if v, ok := st["activeStages"]; ok {
		if f, ok := toInt64(v); ok {
			currentStage = int(f)
		}
	}

	desiredStage := 0
	for i, offset := range chillerStageOffsets {
		if chwError >= offset {
			desiredStage = i + 1
		}
	}

	nowUnix := clockNow().Unix()
	lastChange, _ := toInt64(st["lastStageChangeTime"])

	newStage := currentStage
	switch {
	case desiredStage > currentStage:
		// Raising jumps straight to the stage the current error calls
		// for, possibly adding several stages in one tick.
		newStage = desiredStage
		st["lastStageChangeTime"] = nowUnix
	case desiredStage < currentStage:
		// Shed with hysteresis and a minimum hold time, one stage at
		// a time, so a transient dip doesn't cycle the compressors.
		belowWithHysteresis := currentStage > 0 && chwError < chillerStageOffsets[currentStage-1]-chillerHysteresis
		if belowWithHysteresis && nowUnix-lastChange >= chillerMinOnOffSec {
			newStage = currentStage - 1
			st["lastStageChangeTime"] = nowUnix
		}
	}

	st["activeStages"] = int64(newStage)

	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{
			"unitEnable":       scalar.Bool(newStage > 0),
			"compressorEnable": scalar.Bool(newStage > 0),
			"activeStages":     scalar.Num(float64(newStage)),
			"temperatureSetpoint": scalar.Num(setpoint),
		},
		State: st,
		Diagnostics: map[string]string{
			"chwError":     formatFloat(chwError),
			"desiredStage": formatFloat(float64(desiredStage)),
		},
	}
}
