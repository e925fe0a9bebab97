package algorithms

import (
	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/scalar"
)

const (
	doasHeatLockoutOAT  = 65.0
	doasCoolLockoutOAT  = 50.0
	doasHighTempSafety  = 85.0
	doasLowTempSafety   = 45.0
	doasModeHeatBelow   = 60.0
	doasModeCoolAtOrAbv = 60.5
)

func doasEmergencyShutdown(in controlalgo.Inputs, reason string) controlalgo.Outputs {
	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{
			"unitEnable":        scalar.Bool(false),
			"heatingEnable":     scalar.Bool(false),
			"coolingEnable":     scalar.Bool(false),
			"gasValvePosition":  scalar.Num(0),
			"dxStage":           scalar.Num(0),
			"emergencyShutdown": scalar.Bool(true),
		},
		State:       in.State,
		Diagnostics: map[string]string{"reason": reason},
	}
}

// DOAS1 implements the outdoor-led dedicated-outdoor-air-system
// algorithm from spec §4.6: OAT-driven heat/cool mode selection with
// 0.5 °F hysteresis, proportional gas valve, staged DX cooling, and
// OAT lockouts/safeties.
type DOAS1 struct{}

func NewDOAS1() *DOAS1 { return &DOAS1{} }

func (d *DOAS1) Name() string { return "doas_1" }

func (d *DOAS1) SafeState(in controlalgo.Inputs) controlalgo.Outputs {
	return doasEmergencyShutdown(in, "safe_state")
}

func (d *DOAS1) Run(in controlalgo.Inputs) controlalgo.Outputs {
	return runSafely(func() controlalgo.Outputs { return d.run(in) }, func() controlalgo.Outputs { return d.SafeState(in) })
}

func (d *DOAS1) run(in controlalgo.Inputs) controlalgo.Outputs {
	st := in.State
	if st == nil {
		st = controlalgo.StateStorage{}
	}

	oat := in.Metrics.Number("outdoor", 60)
	if oat > doasHighTempSafety || oat < doasLowTempSafety {
		out := doasEmergencyShutdown(in, "oat_safety_limit")
		out.State = st
		return out
	}

	setpoint := 65.0
	if in.Settings != nil {
		if sp, ok := in.Settings.Setpoints["supplyAirTempSetpoint"]; ok {
			setpoint = sp
		}
	}
	supply := in.Metrics.Number("supply", setpoint)

	heating, _ := st["heatingMode"].(bool)
	switch {
	case oat < doasModeHeatBelow:
		heating = true
	case oat >= doasModeCoolAtOrAbv:
		heating = false
	} // else: inside the hysteresis band, keep previous mode
	st["heatingMode"] = heating

	heatingEnable := heating && oat <= doasHeatLockoutOAT
	coolingEnable := !heating && oat >= doasCoolLockoutOAT

	gasValve := 0.0
	if heatingEnable {
		tempError := setpoint - supply
		gasValve = clamp(tempError*10, 0, 100)
	}

	dxStage := 0
	if coolingEnable {
		tempError := supply - setpoint
		switch {
		case tempError >= 4.0:
			dxStage = 2
		case tempError >= 2.0:
			dxStage = 1
		}
	}

	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{
			"unitEnable":            scalar.Bool(true),
			"heatingEnable":         scalar.Bool(heatingEnable),
			"coolingEnable":         scalar.Bool(coolingEnable),
			"gasValvePosition":      scalar.Num(gasValve),
			"dxStage":               scalar.Num(float64(dxStage)),
			"supplyAirTempSetpoint": scalar.Num(setpoint),
			"emergencyShutdown":     scalar.Bool(false),
		},
		State: st,
	}
}

// DOAS2 implements the simpler feedback variant: on/off with a 2 °F
// deadband around a 65 °F supply setpoint, sharing DOAS1's OAT
// lockouts and safeties.
type DOAS2 struct{}

func NewDOAS2() *DOAS2 { return &DOAS2{} }

func (d *DOAS2) Name() string { return "doas_2" }

func (d *DOAS2) SafeState(in controlalgo.Inputs) controlalgo.Outputs {
	return doasEmergencyShutdown(in, "safe_state")
}

func (d *DOAS2) Run(in controlalgo.Inputs) controlalgo.Outputs {
	return runSafely(func() controlalgo.Outputs { return d.run(in) }, func() controlalgo.Outputs { return d.SafeState(in) })
}

const doas2Deadband = 2.0

func (d *DOAS2) run(in controlalgo.Inputs) controlalgo.Outputs {
	st := in.State
	if st == nil {
		st = controlalgo.StateStorage{}
	}

	oat := in.Metrics.Number("outdoor", 60)
	if oat > doasHighTempSafety || oat < doasLowTempSafety {
		out := doasEmergencyShutdown(in, "oat_safety_limit")
		out.State = st
		return out
	}

	setpoint := 65.0
	if in.Settings != nil {
		if sp, ok := in.Settings.Setpoints["supplyAirTempSetpoint"]; ok {
			setpoint = sp
		}
	}
	supply := in.Metrics.Number("supply", setpoint)

	on, _ := st["on"].(bool)
	switch {
	case supply < setpoint-doas2Deadband:
		on = true
	case supply > setpoint+doas2Deadband:
		on = false
	}
	st["on"] = on

	heating := on && oat <= doasHeatLockoutOAT
	cooling := on && oat >= doasCoolLockoutOAT && oat > doasModeHeatBelow

	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{
			"unitEnable":            scalar.Bool(on),
			"heatingEnable":         scalar.Bool(heating),
			"coolingEnable":         scalar.Bool(cooling),
			"supplyAirTempSetpoint": scalar.Num(setpoint),
			"emergencyShutdown":     scalar.Bool(false),
		},
		State: st,
	}
}
