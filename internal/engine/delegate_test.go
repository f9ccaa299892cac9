package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morph/internal/interp"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/pulse"
)

func TestDelegateLocal(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn()), WithIDGenerator(NewFixedGenerator("parcel-1")))

	v, err := e.Delegate(context.Background(), "add", []ir.Value{ir.Int(2), ir.Int(3)}, e.LocalWorker())
	require.NoError(t, err)
	assert.Equal(t, ir.Int(5), v)

	st, _ := e.FunctionStatus("add")
	assert.Equal(t, int64(1), st.Calls, "delegated calls are profiled")
}

func TestDelegateCapabilityDenied(t *testing.T) {
	var asked []string
	e, _ := newEngine(t, program(t, addFn()), WithCapabilityCheck(func(_ context.Context, c string) bool {
		asked = append(asked, c)
		return false
	}))

	_, err := e.Delegate(context.Background(), "add", []ir.Value{ir.Int(1), ir.Int(1)}, e.LocalWorker())
	assert.True(t, IsCapabilityDenied(err))
	assert.Equal(t, []string{"delegate:add"}, asked)
}

func TestDelegateUnknownFunction(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn()))
	_, err := e.Delegate(context.Background(), "nope", nil, e.LocalWorker())
	assert.True(t, IsUnknownFunction(err))
}

func TestDelegateRuntimeError(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn()))
	_, err := e.Delegate(context.Background(), "add", []ir.Value{ir.Bool(true), ir.Int(1)}, e.LocalWorker())
	assert.Equal(t, interp.ErrCodeTypeError, interp.CodeOf(err))
}

// recordingWorker checks that the parcel it receives is not shared.
type recordingWorker struct {
	inner Worker
	seen  []*pulse.Parcel
}

func (w *recordingWorker) Run(ctx context.Context, name string, p *pulse.Parcel) (*pulse.Parcel, error) {
	w.seen = append(w.seen, p)
	return w.inner.Run(ctx, name, p)
}

func TestDelegateMovesParcels(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn()), WithIDGenerator(NewFixedGenerator("p-1")))
	w := &recordingWorker{inner: e.LocalWorker()}

	_, err := e.Delegate(context.Background(), "add", []ir.Value{ir.Str("a"), ir.Str("b")}, w)
	require.NoError(t, err)
	require.Len(t, w.seen, 1)
	assert.Equal(t, "p-1", w.seen[0].ID)
	assert.True(t, w.seen[0].Consumed(), "the worker adopted the arguments")
	assert.Zero(t, w.seen[0].Len())
}

func TestDelegateBatch(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn(), twiceFn()), WithDelegationLimit(3))

	calls := make([]DelegateCall, 10)
	for i := range calls {
		calls[i] = DelegateCall{Function: "twice", Args: []ir.Value{ir.Int(i)}}
	}
	out, err := e.DelegateBatch(context.Background(), calls, e.LocalWorker())
	require.NoError(t, err)
	require.Len(t, out, 10)
	for i, v := range out {
		assert.Equal(t, ir.Int(2*i), v)
	}
}

func TestDelegateBatchStopsOnError(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn()))
	calls := []DelegateCall{
		{Function: "add", Args: []ir.Value{ir.Int(1), ir.Int(2)}},
		{Function: "missing"},
	}
	_, err := e.DelegateBatch(context.Background(), calls, e.LocalWorker())
	require.Error(t, err)
	assert.True(t, IsUnknownFunction(err))
	assert.Contains(t, err.Error(), "missing[1]")
}

func TestDelegateCancelled(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Delegate(ctx, "add", []ir.Value{ir.Int(1), ir.Int(2)}, e.LocalWorker())
	assert.True(t, errors.Is(err, context.Canceled))
}

// cannedWorker ignores its arguments and returns a fixed parcel.
type cannedWorker struct {
	reply func(args *pulse.Parcel) *pulse.Parcel
}

func (w cannedWorker) Run(_ context.Context, _ string, args *pulse.Parcel) (*pulse.Parcel, error) {
	return w.reply(args), nil
}

func TestDelegateBadReplyLeavesArenaClean(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn()))
	args := []ir.Value{ir.Int(1), ir.Int(2)}

	tests := []struct {
		name  string
		reply func(args *pulse.Parcel) *pulse.Parcel
		check func(t *testing.T, err error)
	}{
		{
			name: "two values",
			reply: func(*pulse.Parcel) *pulse.Parcel {
				return pulse.NewParcel("r", []ir.Value{ir.Int(1), ir.Int(2)})
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "returned 2 values, want 1")
			},
		},
		{
			name: "no values",
			reply: func(*pulse.Parcel) *pulse.Parcel {
				return pulse.NewParcel("r", nil)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "returned 0 values, want 1")
			},
		},
		{
			name: "already adopted",
			reply: func(args *pulse.Parcel) *pulse.Parcel {
				other := pulse.NewArena()
				zone, _ := other.Open(other.Root())
				_, _ = other.Adopt(zone, args)
				return args
			},
			check: func(t *testing.T, err error) {
				assert.True(t, pulse.IsOwnershipConflict(err), "got %v", err)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := pulse.NewArena()
			_, err := e.delegateOn(context.Background(), a, "add", args, cannedWorker{reply: tt.reply})
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, 0, a.Depth())
			assert.Equal(t, 0, a.Live())
		})
	}
}

func TestLocalWorkerSkipsCallAfterCancel(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := e.LocalWorker()
	_, err := w.run(ctx, "add", pulse.NewParcel("p", []ir.Value{ir.Int(1), ir.Int(2)}))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = w.Run(ctx, "add", pulse.NewParcel("q", []ir.Value{ir.Int(1), ir.Int(2)}))
	assert.ErrorIs(t, err, context.Canceled)

	st, _ := e.FunctionStatus("add")
	assert.Zero(t, st.Calls, "a cancelled delegation is never profiled")
}
