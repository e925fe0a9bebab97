package smartgate

import (
	"fmt"

	"github.com/automatabms/corefabric/internal/types"
)

// SafetyTrigger exposes safetyTrigger for callers outside the gate
// itself — the lead-lag manager (C8) reuses the same safety table to
// decide whether a lead member's fault signature includes an active
// safety condition, rather than duplicating the thresholds.
func SafetyTrigger(equipmentType string, m types.MetricMap) (string, bool) {
	return safetyTrigger(equipmentType, m)
}

// safetyTrigger implements spec §4.5's "Safety triggers" table: any
// one firing takes priority 20 regardless of anything else.
func safetyTrigger(equipmentType string, m types.MetricMap) (string, bool) {
	switch equipmentType {
	case "air_handler":
		supply := m.Number("supply", 55)
		if supply > 120 {
			return "supply temp > 120F", true
		}
		if supply < 35 {
			return "supply temp < 35F (freeze protection)", true
		}
	case "boiler":
		if t := m.Number("waterTemp", 0); t > 200 {
			return "water temp > 200F", true
		}
		if p := m.Number("pressure", 0); p > 30 {
			return "pressure > 30 PSI", true
		}
	case "chiller":
		if a := m.Number("compressorCurrent", 0); a > 50 {
			return "compressor current > 50A", true
		}
		if p := m.Number("refrigerantPressure", 0); p > 200 {
			return "refrigerant pressure > 200 PSI", true
		}
		if t := m.Number("chilledWaterSupply", 45); t < 35 {
			return "chilled-water supply < 35F", true
		}
	case "pump":
		if a := m.Number("motorAmps", 0); a > 20 {
			return "motor current > 20A", true
		}
		if v := m.Number("vibration", 0); v > 10 {
			return "vibration > 10", true
		}
	}
	return "", false
}

// deviationTrigger implements spec §4.5's "Deviation bands" table,
// priority 16.
func deviationTrigger(equipmentType string, m types.MetricMap) (string, bool) {
	switch equipmentType {
	case "air_handler":
		room := m.Number("room", 72)
		setpoint := m.Number("roomSetpoint", 72)
		if diff := room - setpoint; diff > 2.0 || diff < -2.0 {
			return fmt.Sprintf("room temp error %.1fF exceeds 2.0F band", diff), true
		}
		supply := m.Number("supply", 55)
		if supply < 45 || supply > 85 {
			return "supply temp outside 45-85F band", true
		}
	case "boiler":
		water := m.Number("waterTemp", 160)
		setpoint := m.Number("temperatureSetpoint", 160)
		if diff := water - setpoint; diff > 10 || diff < -10 {
			return fmt.Sprintf("water temp error %.1fF exceeds 10F band", diff), true
		}
	case "chiller":
		supply := m.Number("chilledWaterSupply", 45)
		setpoint := m.Number("chilledWaterSetpoint", 45)
		if diff := supply - setpoint; diff > 2 || diff < -2 {
			return fmt.Sprintf("chilled-water temp error %.1fF exceeds 2F band", diff), true
		}
	}
	return "", false
}

// chillerStageThresholdImminent fires priority 15 when the chilled
// water error is within half a degree of crossing the next staging
// threshold, so the worker gets a chance to act before the stage
// actually needs to change (spec §4.5).
func chillerStageThresholdImminent(m types.MetricMap) (string, bool) {
	offsets := []float64{1.5, 3.0, 4.5, 6.0}
	supply := m.Number("chilledWaterSupply", 45)
	setpoint := m.Number("chilledWaterSetpoint", 45)
	chwError := supply - setpoint
	for _, off := range offsets {
		if chwError >= off-0.5 && chwError < off {
			return fmt.Sprintf("within 0.5F of stage threshold %.1fF", off), true
		}
	}
	return "", false
}

// changeTrigger implements spec §4.5's "Change detection" table,
// priority 5: absolute difference vs the cached snapshot beyond
// type-specific thresholds.
func changeTrigger(equipmentType string, current, last map[string]float64) (string, bool) {
	thresholds := changeThresholds(equipmentType)
	for field, threshold := range thresholds {
		cur, curOK := current[field]
		prev, prevOK := last[field]
		if !curOK || !prevOK {
			continue
		}
		diff := cur - prev
		if diff < 0 {
			diff = -diff
		}
		if diff > threshold {
			return fmt.Sprintf("%s changed by %.2f (> %.2f)", field, diff, threshold), true
		}
	}
	return "", false
}

func changeThresholds(equipmentType string) map[string]float64 {
	switch equipmentType {
	case "air_handler":
		return map[string]float64{"room": 2.0, "supply": 2.0, "heatingValvePosition": 15, "coolingValvePosition": 15}
	case "boiler":
		return map[string]float64{"waterTemp": 2.0}
	case "chiller":
		return map[string]float64{"chilledWaterSupply": 2.0}
	case "pump":
		return map[string]float64{"pumpSpeed": 12, "diffPressure": 2.0}
	default:
		return map[string]float64{}
	}
}
