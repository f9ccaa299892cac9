package engine

import (
	"sync/atomic"

	"github.com/roach88/morph/internal/harden"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/profile"
)

// ExecutionForm is how one call runs. The guard selects it once per call.
type ExecutionForm uint8

const (
	// FormInterpreted runs the tree-walking interpreter.
	FormInterpreted ExecutionForm = iota

	// FormNative runs the hardened native form.
	FormNative
)

func (f ExecutionForm) String() string {
	if f == FormNative {
		return "native"
	}
	return "interpreted"
}

// Function is the engine's context for one program function: its body, its
// profile and the slot holding its native form.
type Function struct {
	Name string
	Body *ir.Function

	// Hash identifies the body. A persisted profile whose hash differs is
	// stale and is discarded on restore.
	Hash string

	profile atomic.Pointer[profile.Profile]
	slot    harden.Slot
}

func newFunction(fn *ir.Function, th profile.Thresholds) *Function {
	f := &Function{Name: fn.Name, Body: fn, Hash: ir.FunctionHash(fn)}
	f.profile.Store(profile.New(th))
	return f
}

// Profile returns the function's current profile.
func (f *Function) Profile() *profile.Profile { return f.profile.Load() }

// Native returns the installed native form, or nil.
func (f *Function) Native() *harden.Native { return f.slot.Load() }

// replace swaps in a restored profile and drops any native form.
func (f *Function) replace(p *profile.Profile) {
	f.slot.Clear()
	f.profile.Store(p)
}
