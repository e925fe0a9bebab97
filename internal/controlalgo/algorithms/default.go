package algorithms

import (
	"github.com/automatabms/corefabric/internal/controlalgo"
	"github.com/automatabms/corefabric/internal/scalar"
)

// Default is the always-present fallback algorithm the registry
// resolves to when no more specific algorithm is registered for an
// equipment type (spec §4.6 step 1: "a default algorithm always
// exists"). It holds enable state to whatever settings say and
// otherwise does nothing — safe for an equipment type the control
// plane doesn't yet know how to drive.
type Default struct{}

func NewDefault() *Default { return &Default{} }

func (d *Default) Name() string { return "default" }

func (d *Default) SafeState(in controlalgo.Inputs) controlalgo.Outputs {
	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{"unitEnable": scalar.Bool(false)},
		State:        in.State,
		Diagnostics:  map[string]string{"reason": "safe_state"},
	}
}

func (d *Default) Run(in controlalgo.Inputs) controlalgo.Outputs {
	return runSafely(func() controlalgo.Outputs { return d.run(in) }, func() controlalgo.Outputs { return d.SafeState(in) })
}

func (d *Default) run(in controlalgo.Inputs) controlalgo.Outputs {
	enabled := in.Settings != nil && in.Settings.Enabled
	return controlalgo.Outputs{
		OutputFields: map[string]scalar.Scalar{"unitEnable": scalar.Bool(enabled)},
		State:        in.State,
	}
}
