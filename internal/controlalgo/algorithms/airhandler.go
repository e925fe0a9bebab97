package algorithms

import (
	"time"

	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/scalar"
)

// AirHandler implements the OAR + unoccupied-fan-cycling + freezestat
// algorithm sketched in spec §4.6.
type AirHandler struct{}

func NewAirHandler() *AirHandler { return &AirHandler{} }

func (a *AirHandler) Name() string { return "air_handler" }

const (
	ahOccupiedStart = 6*60 + 30  // 06:30 in minutes-of-day
	ahOccupiedEnd   = 18*60 + 30 // 18:30 in minutes-of-day

	ahFanCycleDuration = 15 * 60 // seconds
	ahFanCycleInterval = 60 * 60 // seconds

	ahStaticPressureOccupied = 4.0
	ahStaticPressureCycling  = 3.0
	ahDeadband               = 2.0

	ahFreezestatThreshold = 40.0
)

func (a *AirHandler) SafeState(in controlalgo.Inputs) controlalgo.Outputs {
	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{
			"fanEnabled":            scalar.Bool(false),
			"heatingValvePosition":  scalar.Num(100), // failsafe-open polarity
			"coolingValvePosition":  scalar.Num(0),
			"outdoorDamperPosition": scalar.Num(0),
			"unitEnable":            scalar.Bool(false),
		},
		State:       in.State,
		Diagnostics: map[string]string{"reason": "safe_state"},
	}
}

func (a *AirHandler) Run(in controlalgo.Inputs) controlalgo.Outputs {
	return runSafely(func() controlalgo.Outputs { return a.run(in) }, func() controlalgo.Outputs { return a.SafeState(in) })
}

func (a *AirHandler) run(in controlalgo.Inputs) controlalgo.Outputs {
	st := in.State
	if st == nil {
		st = controlalgo.StateStorage{}
	}

	supply := in.Metrics.Number("supply", 55)
	mixedAir := in.Metrics.Number("mixedAir", supply)
	room := in.Metrics.Number("room", 72)
	outdoor := in.Metrics.Number("outdoor", 50)

	// Freezestat takes priority over every other computation.
	if supply < ahFreezestatThreshold || mixedAir < ahFreezestatThreshold {
		out := a.SafeState(in)
		out.State = st
		out.Diagnostics = map[string]string{"reason": "freezestat"}
		return out
	}

	oarSetpoint := controlalgo.OARSetpoint(outdoor)
	if in.Settings != nil {
		if sp, ok := in.Settings.Setpoints["supplyTempSetpoint"]; ok {
			oarSetpoint = sp
		}
	}

	occupied := isOccupied(clockNow())

	fanEnabled := true
	staticSetpoint := ahStaticPressureOccupied
	if !occupied {
		fanEnabled, staticSetpoint, st = a.unoccupiedFanCycle(st)
	}

	roomError := room - oarSetpoint
	heatingValve := 0.0
	coolingValve := 0.0
	switch {
	case roomError < -ahDeadband:
		heatingValve = clamp(-roomError*10, 0, 100)
	case roomError > ahDeadband:
		coolingValve = clamp(roomError*10, 0, 100)
	}

	fields := map[string]scalar.Scalar{
		"fanEnabled":            scalar.Bool(fanEnabled),
		"heatingValvePosition":  scalar.Num(heatingValve),
		"coolingValvePosition":  scalar.Num(coolingValve),
		"outdoorDamperPosition": scalar.Num(boolToFloat(occupied) * 30),
		"supplyAirTempSetpoint": scalar.Num(oarSetpoint),
		"isOccupied":            scalar.Bool(occupied),
		"unitEnable":            scalar.Bool(true),
	}

	return controlalgo.Outputs{
		OutputFields: fields,
		State:        st,
		Diagnostics: map[string]string{
			"staticPressureSetpoint": formatFloat(staticSetpoint),
			"oarSetpoint":            formatFloat(oarSetpoint),
		},
	}
}

// unoccupiedFanCycle implements a 15-minute fan cycle every 60 minutes
// while unoccupied (spec §4.6, §8 scenario 5), tracked in
// stateStorage.unoccupiedFanCycle.
func (a *AirHandler) unoccupiedFanCycle(st controlalgo.StateStorage) (fanEnabled bool, staticSetpoint float64, out controlalgo.StateStorage) {
	nowUnix := clockNow().Unix()

	cycle, _ := stateMapFloat64(st, "unoccupiedFanCycle")
	if cycle == nil {
		cycle = map[string]interface{}{
			"isCycling":            false,
			"cycleStartTime":       int64(0),
			"nextCycleEligibleTime": nowUnix,
		}
	}

	isCycling, _ := cycle["isCycling"].(bool)
	cycleStart, _ := toInt64(cycle["cycleStartTime"])
	nextEligible, _ := toInt64(cycle["nextCycleEligibleTime"])

	if isCycling {
		if nowUnix-cycleStart >= ahFanCycleDuration {
			isCycling = false
			nextEligible = cycleStart + ahFanCycleInterval
		}
	} else if nowUnix >= nextEligible {
		isCycling = true
		cycleStart = nowUnix
	}

	cycle["isCycling"] = isCycling
	cycle["cycleStartTime"] = cycleStart
	cycle["nextCycleEligibleTime"] = nextEligible
	st["unoccupiedFanCycle"] = cycle

	return isCycling, ahStaticPressureCycling, st
}

func isOccupied(t time.Time) bool {
	minuteOfDay := t.Hour()*60 + t.Minute()
	return minuteOfDay >= ahOccupiedStart && minuteOfDay < ahOccupiedEnd
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}
