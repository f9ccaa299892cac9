package harden

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/roach88/morph/internal/interp"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/pulse"
)

// Native is a function monomorphized to one shape.
//
// Its ownership was proven by the pulse analysis before it was built, so the
// body keeps values in slot-indexed locals instead of arena cells. The arena
// is still the boundary: Exec opens and seals an entry zone on the caller's
// arena, and nested calls run on that same arena whichever form they use.
type Native struct {
	Function string
	Shape    ir.Shape
	ShapeKey string
	Hash     string
	Report   *pulse.Report

	// Retained counts the ghost checks kept at run time.
	Retained int

	slots    int
	params   []func(ir.Value) error
	ret      func(ir.Value) error
	body     expr
	maxDepth int
}

// Guard is the prologue check: true iff args have exactly the native shape.
func (n *Native) Guard(args []ir.Value) bool {
	return n.Shape.Matches(args)
}

// GuardShape is Guard over a recorded shape instead of live arguments.
func (n *Native) GuardShape(shape ir.Shape) bool {
	return n.Shape.Equal(shape)
}

// Exec runs the native body. Callers must check Guard first.
func (n *Native) Exec(ctx context.Context, a *pulse.Arena, args []ir.Value) (ir.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, check := range n.params {
		if check == nil {
			continue
		}
		if err := check(args[i]); err != nil {
			return nil, err
		}
	}
	if a.Depth() >= n.maxDepth {
		return nil, interp.AttachFunction(&interp.RuntimeError{
			Code:    interp.ErrCodeInvalidOperation,
			Message: "maximum call depth exceeded",
		}, n.Function)
	}

	entry, err := a.Open(a.Top())
	if err != nil {
		return nil, err
	}
	fr := &frame{ctx: ctx, a: a, locals: make([]ir.Value, n.slots)}
	copy(fr.locals, args)
	v, err := n.body(fr)
	if errors.Is(err, errReturn) {
		v, err = fr.ret, nil
	}
	if err != nil {
		if a.Top() >= entry {
			a.Unwind(entry)
		}
		return nil, interp.AttachFunction(err, n.Function)
	}
	if _, err := a.Seal(entry); err != nil {
		return nil, err
	}
	if n.ret != nil {
		if err := n.ret(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Slot holds the installed native form of one function. Install and
// Uninstall are compare-and-swap operations, so concurrent deoptimizations
// of one form have exactly one winner.
type Slot struct {
	native atomic.Pointer[Native]
}

// Load returns the installed form, or nil.
func (s *Slot) Load() *Native { return s.native.Load() }

// Install sets n if no form is installed.
func (s *Slot) Install(n *Native) bool {
	return s.native.CompareAndSwap(nil, n)
}

// Uninstall removes n if it is still the installed form.
func (s *Slot) Uninstall(n *Native) bool {
	return n != nil && s.native.CompareAndSwap(n, nil)
}

// Clear drops whatever form is installed.
func (s *Slot) Clear() { s.native.Store(nil) }
