package algorithms

import (
	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/scalar"
)

const (
	boilerSafetyWaterTemp = 200.0
	boilerSafetyPressure  = 30.0
	boilerDeviationBand   = 10.0
	boilerLagJoinWindow   = 10 * 60 // seconds, spec §4.6 "sustained window, category-specific"
)

// Boiler implements the lead-lag boiler control sketch from spec
// §4.6: the lead fires to hold setpoint; a lag member only joins once
// the lead has been unable to close the gap for a sustained window.
// Role (lead vs lag) is read from settings.IsLead, which the lead-lag
// manager (C8) is responsible for keeping accurate — this algorithm
// never changes it itself.
type Boiler struct{}

func NewBoiler() *Boiler { return &Boiler{} }

func (b *Boiler) Name() string { return "boiler" }

func (b *Boiler) SafeState(in controlalgo.Inputs) controlalgo.Outputs {
	isLead := in.Settings != nil && in.Settings.IsLead
	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{
			"unitEnable": scalar.Bool(false),
			"firing":     scalar.Bool(false),
			"isLead":     scalar.Bool(isLead),
		},
		State:       in.State,
		Diagnostics: map[string]string{"reason": "safe_state"},
	}
}

func (b *Boiler) Run(in controlalgo.Inputs) controlalgo.Outputs {
	return runSafely(func() controlalgo.Outputs { return b.run(in) }, func() controlalgo.Outputs { return b.SafeState(in) })
}

func (b *Boiler) run(in controlalgo.Inputs) controlalgo.Outputs {
	st := in.State
	if st == nil {
		st = controlalgo.StateStorage{}
	}

	waterTemp := in.Metrics.Number("waterTemp", in.CurrentTempHint)
	pressure := in.Metrics.Number("pressure", 0)
	if waterTemp > boilerSafetyWaterTemp || pressure > boilerSafetyPressure {
		out := b.SafeState(in)
		out.State = st
		out.Diagnostics = map[string]string{"reason": "safety_limit"}
		return out
	}

	setpoint := 160.0
	if in.Settings != nil {
		if sp, ok := in.Settings.Setpoints["supplyTempSetpoint"]; ok {
			setpoint = sp
		}
	}

	isLead := in.Settings == nil || in.Settings.IsLead
	shortfall := setpoint - waterTemp

	firing := false
	if isLead {
		firing = shortfall > 0

		nowUnix := clockNow().Unix()
		shortfallSince, _ := toInt64(st["leadShortfallSince"])
		if shortfall > boilerDeviationBand {
			if shortfallSince == 0 {
				st["leadShortfallSince"] = nowUnix
			}
		} else {
			st["leadShortfallSince"] = int64(0)
		}
	} else {
		// Lag only fires once the lead has posted a sustained
		// shortfall; it reads the start of the lead's shortfall window
		// from its own settings (Setpoints["leadShortfallSince"]),
		// which the lead-lag manager mirrors in for lag members.
		leadShortfallSince := int64(0)
		if in.Settings != nil {
			leadShortfallSince = int64(in.Settings.Setpoints["leadShortfallSince"])
		}
		if leadShortfallSince != 0 && clockNow().Unix()-leadShortfallSince >= boilerLagJoinWindow {
			firing = true
		}
	}

	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{
			"unitEnable":          scalar.Bool(true),
			"firing":              scalar.Bool(firing),
			"isLead":              scalar.Bool(isLead),
			"temperatureSetpoint": scalar.Num(setpoint),
		},
		State: st,
		Diagnostics: map[string]string{
			"shortfall": formatFloat(shortfall),
		},
	}
}
