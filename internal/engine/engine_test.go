package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/harden"
	"github.com/roach88/morph/internal/interp"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/profile"
)

func TestNewRejectsBadThresholds(t *testing.T) {
	_, err := New(program(t, addFn()), nil,
		WithLogger(quietLogger()),
		WithThresholds(profile.Thresholds{T1: 10, T2: 5, S1: 0.9, Window: 4, Damping: 0.5}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine thresholds")
}

func TestInvokeUnknownFunction(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn()))

	_, err := e.Invoke(context.Background(), "missing", nil)
	assert.True(t, IsUnknownFunction(err))

	_, err = e.CurrentStage("missing")
	assert.True(t, IsUnknownFunction(err))
}

func TestInvokeAfterClose(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn()))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Invoke(context.Background(), "add", []ir.Value{ir.Int(1), ir.Int(2)})
	assert.True(t, IsClosed(err))
	assert.True(t, IsClosed(e.Observe(context.Background(), CallEvent{Function: "add", Shape: intPair})))
}

func TestDraftAndSolidAgree(t *testing.T) {
	prog := program(t, sumSquaresFn())
	draft, _ := newEngine(t, prog)
	solid, _ := newEngine(t, program(t, sumSquaresFn()), WithThresholds(quickThresholds()))
	observe(t, solid, "sum_squares", ir.Shape{ir.Sig(ir.KindInt)}, 4)
	stage, _ := solid.CurrentStage("sum_squares")
	require.Equal(t, profile.StageSolid, stage)

	ctx := context.Background()
	for n := range 20 {
		args := []ir.Value{ir.Int(n)}
		want, err := draft.Invoke(ctx, "sum_squares", args)
		require.NoError(t, err)
		got, err := solid.Invoke(ctx, "sum_squares", args)
		require.NoError(t, err)
		assert.Equal(t, want, got, "n=%d", n)
	}
	st, _ := solid.FunctionStatus("sum_squares")
	assert.Equal(t, "native", st.Form)
	stage, _ = draft.CurrentStage("sum_squares")
	assert.Equal(t, profile.StageDraft, stage)
}

func TestNestedCallsAreProfiled(t *testing.T) {
	e, _ := newEngine(t, program(t, addFn(), twiceFn()), WithThresholds(quickThresholds()))
	ctx := context.Background()

	for i := range 6 {
		v, err := e.Invoke(ctx, "twice", []ir.Value{ir.Int(i)})
		require.NoError(t, err)
		assert.Equal(t, ir.Int(2*i), v)
	}
	for _, name := range []string{"twice", "add"} {
		st, err := e.FunctionStatus(name)
		require.NoError(t, err)
		assert.Equal(t, int64(6), st.Calls, name)
		assert.Equal(t, profile.StageSolid, st.Stage, name)
	}

	// A new shape misses both guards; each function falls back on its own.
	v, err := e.Invoke(ctx, "twice", []ir.Value{ir.Float(1.5)})
	require.NoError(t, err)
	assert.Equal(t, ir.Float(3), v)
	for _, name := range []string{"twice", "add"} {
		stage, _ := e.CurrentStage(name)
		assert.Equal(t, profile.StageObserve, stage, name)
	}
}

func TestRuntimeErrorsNameTheFunction(t *testing.T) {
	div := &ir.Function{Name: "div", Params: params("a", "b"), Body: &ir.Block{Result: bin(ir.OpDiv, ref("a"), ref("b"))}}
	e, _ := newEngine(t, program(t, div))

	_, err := e.Invoke(context.Background(), "div", []ir.Value{ir.Int(1), ir.Int(0)})
	require.Error(t, err)
	assert.Equal(t, interp.ErrCodeDivisionByZero, interp.CodeOf(err))
	assert.Contains(t, err.Error(), "div")
}

func TestPrintGoesToOutput(t *testing.T) {
	hello := &ir.Function{Name: "hello", Body: &ir.Block{Result: call("print", lit(ir.Str("hello")))}}
	var out strings.Builder
	e, _ := newEngine(t, program(t, hello), WithOutput(&out))

	_, err := e.Invoke(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.String())
}

func TestExplicitHarden(t *testing.T) {
	e, rec := newEngine(t, program(t, addFn()))
	ctx := context.Background()

	_, err := e.Harden(ctx, "add")
	require.Error(t, err, "nothing observed yet")
	assert.True(t, harden.IsFailure(err))

	observe(t, e, "add", intPair, 3)
	n, err := e.Harden(ctx, "add")
	require.NoError(t, err)
	assert.Equal(t, "(i64,i64)", n.ShapeKey)

	stage, _ := e.CurrentStage("add")
	assert.Equal(t, profile.StageSolid, stage)

	again, err := e.Harden(ctx, "add")
	require.NoError(t, err)
	assert.Same(t, n, again)
	assert.Equal(t, 1, rec.Count(diag.KindHardeningFailure))
}

func TestAsyncHardeningUnderLoad(t *testing.T) {
	e, rec := newEngine(t, program(t, addFn()),
		WithThresholds(profile.Thresholds{T1: 10, T2: 50, S1: 0.9, Window: 32, Damping: 0.5}),
		WithHardenMode(harden.ModeAsync))
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				v, err := e.Invoke(ctx, "add", []ir.Value{ir.Int(g), ir.Int(i)})
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, ir.Int(g+i), v)
			}
		}()
	}
	wg.Wait()
	e.WaitIdle()

	stage, _ := e.CurrentStage("add")
	assert.Equal(t, profile.StageSolid, stage)
	assert.Zero(t, rec.Count(diag.KindHardeningFailure))

	solid := 0
	for _, ev := range rec.Events() {
		if ev.To == "solid" {
			solid++
		}
	}
	assert.Equal(t, 1, solid, "one hardening job per promotion")
}

func TestSnapshotRestore(t *testing.T) {
	src, _ := newEngine(t, program(t, addFn()), WithThresholds(quickThresholds()))
	observe(t, src, "add", intPair, 4)
	snap := src.Snapshot()
	require.Len(t, snap.Functions, 1)
	assert.Equal(t, profile.StageSolid, snap.Functions[0].Profile.Stage)

	dst, _ := newEngine(t, program(t, addFn()), WithThresholds(quickThresholds()))
	n, err := dst.Restore(snap)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, _ := dst.FunctionStatus("add")
	assert.Equal(t, profile.StageObserve, st.Stage, "native forms are not persisted")
	assert.Equal(t, int64(4), st.Calls)
	assert.Equal(t, "interpreted", st.Form)
	assert.GreaterOrEqual(t, dst.Clock().Current(), snap.Clock)

	// One more stable call promotes the restored profile again.
	observe(t, dst, "add", intPair, 1)
	stage, _ := dst.CurrentStage("add")
	assert.Equal(t, profile.StageSolid, stage)
}

func TestRestoreSkipsStaleProfiles(t *testing.T) {
	src, _ := newEngine(t, program(t, addFn()), WithThresholds(quickThresholds()))
	observe(t, src, "add", intPair, 3)
	snap := src.Snapshot()

	changed := &ir.Function{Name: "add", Params: params("a", "b"), Body: &ir.Block{Result: bin(ir.OpSub, ref("a"), ref("b"))}}
	dst, _ := newEngine(t, program(t, changed), WithThresholds(quickThresholds()))
	n, err := dst.Restore(snap)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, _ := dst.FunctionStatus("add")
	assert.Zero(t, st.Calls)
	assert.Equal(t, profile.StageDraft, st.Stage)
}

func TestRecorderSeesEveryCall(t *testing.T) {
	rec := &memoryRecorder{}
	e, _ := newEngine(t, program(t, addFn(), twiceFn()), WithRecorder(rec))

	_, err := e.Invoke(context.Background(), "twice", []ir.Value{ir.Int(2)})
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "twice", events[0].Function)
	assert.Equal(t, "add", events[1].Function)
	assert.Equal(t, "(i64,i64)", events[1].Shape.Key())
	assert.Less(t, events[0].Timestamp, events[1].Timestamp)
}
