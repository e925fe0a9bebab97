package algorithms

import (
	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/scalar"
)

const (
	pumpSafetyAmps       = 20.0
	pumpSafetyVibration  = 10.0
	pumpLagJoinWindow    = 10 * 60
	pumpDeviationPercent = 15.0
)

// Pump implements the lead-lag pump control sketch from spec §4.6,
// mirroring Boiler's sustained-shortfall join rule but driven by
// differential pressure rather than temperature.
type Pump struct{}

func NewPump() *Pump { return &Pump{} }

func (p *Pump) Name() string { return "pump" }

func (p *Pump) SafeState(in controlalgo.Inputs) controlalgo.Outputs {
	isLead := in.Settings != nil && in.Settings.IsLead
	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{
			"pumpEnable": scalar.Bool(false),
			"pumpSpeed":  scalar.Num(0),
			"isLead":     scalar.Bool(isLead),
		},
		State:       in.State,
		Diagnostics: map[string]string{"reason": "safe_state"},
	}
}

func (p *Pump) Run(in controlalgo.Inputs) controlalgo.Outputs {
	return runSafely(func() controlalgo.Outputs { return p.run(in) }, func() controlalgo.Outputs { return p.SafeState(in) })
}

func (p *Pump) run(in controlalgo.Inputs) controlalgo.Outputs {
	st := in.State
	if st == nil {
		st = controlalgo.StateStorage{}
	}

	amps := in.Metrics.Number("motorAmps", 0)
	vibration := in.Metrics.Number("vibration", 0)
	if amps > pumpSafetyAmps || vibration > pumpSafetyVibration {
		out := p.SafeState(in)
		out.State = st
		out.Diagnostics = map[string]string{"reason": "safety_limit"}
		return out
	}

	setpoint := 15.0 // PSI differential pressure setpoint
	if in.Settings != nil {
		if sp, ok := in.Settings.Setpoints["diffPressureSetpoint"]; ok {
			setpoint = sp
		}
	}
	diffPressure := in.Metrics.Number("diffPressure", setpoint)

	isLead := in.Settings == nil || in.Settings.IsLead
	shortfall := setpoint - diffPressure

	speed := clamp(50+shortfall*5, 0, 100)

	enabled := true
	if isLead {
		nowUnix := clockNow().Unix()
		shortfallSince, _ := toInt64(st["leadShortfallSince"])
		if shortfall > 0 {
			if shortfallSince == 0 {
				st["leadShortfallSince"] = nowUnix
			}
		} else {
			st["leadShortfallSince"] = int64(0)
		}
	} else {
		leadShortfallSince := int64(0)
		if in.Settings != nil {
			leadShortfallSince = int64(in.Settings.Setpoints["leadShortfallSince"])
		}
		enabled = leadShortfallSince != 0 && clockNow().Unix()-leadShortfallSince >= pumpLagJoinWindow
		if !enabled {
			speed = 0
		}
	}

	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{
			"pumpEnable": scalar.Bool(enabled),
			"pumpSpeed":  scalar.Num(speed),
			"isLead":     scalar.Bool(isLead),
		},
		State: st,
		Diagnostics: map[string]string{
			"shortfall": formatFloat(shortfall),
		},
	}
}
