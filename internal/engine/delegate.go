package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/pulse"
)

// Worker runs a function on another logical stack. It adopts the argument
// parcel into its own arena and hands the result back as a parcel.
type Worker interface {
	Run(ctx context.Context, name string, args *pulse.Parcel) (*pulse.Parcel, error)
}

// DelegateCall is one call of a batch.
type DelegateCall struct {
	Function string
	Args     []ir.Value
}

// Delegate runs a function on w. The arguments leave the caller's arena as
// a parcel and the result comes back the same way; no value is reachable
// from both stacks. The host must grant "delegate:<name>".
func (e *Engine) Delegate(ctx context.Context, name string, args []ir.Value, w Worker) (ir.Value, error) {
	if e.closed.Load() {
		return nil, NewClosedError()
	}
	if _, err := e.Function(name); err != nil {
		return nil, err
	}
	capability := "delegate:" + name
	if !e.capability(ctx, capability) {
		return nil, NewCapabilityDeniedError(name, capability)
	}

	a := e.arena()
	defer e.arenas.Put(a)
	return e.delegateOn(ctx, a, name, args, w)
}

// delegateOn runs the exchange inside one zone of a. The zone is sealed on
// every path, so a leaves with the depth it came in with.
func (e *Engine) delegateOn(ctx context.Context, a *pulse.Arena, name string, args []ir.Value, w Worker) (ir.Value, error) {
	zone, err := a.Open(a.Root())
	if err != nil {
		return nil, err
	}
	v, err := e.exchange(ctx, a, zone, name, args, w)
	if err != nil {
		a.Unwind(zone)
		return nil, err
	}
	if _, err := a.Seal(zone); err != nil {
		return nil, err
	}
	return v, nil
}

func (e *Engine) exchange(ctx context.Context, a *pulse.Arena, zone pulse.ZoneID, name string, args []ir.Value, w Worker) (ir.Value, error) {
	for _, v := range args {
		if _, err := a.Alloc(zone, v); err != nil {
			return nil, err
		}
	}
	out, err := a.Detach(zone, e.ids.Generate())
	if err != nil {
		return nil, err
	}
	back, err := w.Run(ctx, name, out)
	if err != nil {
		return nil, err
	}
	handles, err := a.Adopt(zone, back)
	if err != nil {
		return nil, err
	}
	if len(handles) != 1 {
		return nil, fmt.Errorf("delegated %s returned %d values, want 1", name, len(handles))
	}
	return a.Value(handles[0]), nil
}

// DelegateBatch runs calls concurrently on w and returns their results in
// call order. The first error cancels the remaining calls.
func (e *Engine) DelegateBatch(ctx context.Context, calls []DelegateCall, w Worker) ([]ir.Value, error) {
	results := make([]ir.Value, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	if e.batchLimit > 0 {
		g.SetLimit(e.batchLimit)
	}
	for i, c := range calls {
		g.Go(func() error {
			v, err := e.Delegate(gctx, c.Function, c.Args, w)
			if err != nil {
				return fmt.Errorf("delegate %s[%d]: %w", c.Function, i, err)
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// LocalWorker runs delegated calls on a separate goroutine with its own
// arena, in the same engine.
type LocalWorker struct {
	e *Engine
}

// LocalWorker returns a worker backed by this engine.
func (e *Engine) LocalWorker() *LocalWorker {
	return &LocalWorker{e: e}
}

type workerResult struct {
	parcel *pulse.Parcel
	err    error
}

// Run implements Worker. When ctx is done first, Run returns ctx.Err()
// without waiting; a call already under way finishes on its own goroutine
// and its result parcel is discarded. A call that has not started yet is
// not run.
func (w *LocalWorker) Run(ctx context.Context, name string, args *pulse.Parcel) (*pulse.Parcel, error) {
	done := make(chan workerResult, 1)
	go func() {
		p, err := w.run(ctx, name, args)
		done <- workerResult{parcel: p, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.parcel, r.err
	}
}

func (w *LocalWorker) run(ctx context.Context, name string, in *pulse.Parcel) (*pulse.Parcel, error) {
	e := w.e
	f, err := e.Function(name)
	if err != nil {
		return nil, err
	}
	a := e.arena()
	defer e.arenas.Put(a)

	zone, err := a.Open(a.Root())
	if err != nil {
		return nil, err
	}
	v, err := w.invoke(ctx, a, zone, f, in)
	if err != nil {
		a.Unwind(zone)
		return nil, err
	}
	if _, err := a.Seal(zone); err != nil {
		return nil, err
	}

	result, err := a.Open(a.Root())
	if err != nil {
		return nil, err
	}
	if _, err := a.Alloc(result, v); err != nil {
		a.Unwind(result)
		return nil, err
	}
	out, err := a.Detach(result, in.ID)
	if err != nil {
		a.Unwind(result)
		return nil, err
	}
	if _, err := a.Seal(result); err != nil {
		return nil, err
	}
	return out, nil
}

// invoke adopts the arguments into zone and calls f, unless ctx is already
// done.
func (w *LocalWorker) invoke(ctx context.Context, a *pulse.Arena, zone pulse.ZoneID, f *Function, in *pulse.Parcel) (ir.Value, error) {
	handles, err := a.Adopt(zone, in)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := make([]ir.Value, len(handles))
	for i, h := range handles {
		args[i] = a.Value(h)
	}
	return w.e.call(ctx, a, f, args, true)
}
