package algorithms

import "github.com/automatabms/corefabric/internal/controlalgo"

// RegisterAll wires every representative algorithm into r at the
// type-wide registration level, plus the always-present default. This
// is the registry shape cmd/locationprocessor constructs at startup; site-specific overrides are layered on top
// via RegisterForLocation / RegisterForEquipment.
func RegisterAll(r *controlalgo.Registry) error {
	r.SetDefault(NewDefault())

	algs := []struct {
		equipmentType string
		alg           controlalgo.Algorithm
	}{
		{"air_handler", NewAirHandler()},
		{"chiller", NewChiller4Stage()},
		{"boiler", NewBoiler()},
		{"pump", NewPump()},
		{"doas_1", NewDOAS1()},
		{"doas_2", NewDOAS2()},
	}
	for _, a := range algs {
		if err := r.Register(a.equipmentType, a.alg); err != nil {
			return err
		}
	}
	return nil
}
