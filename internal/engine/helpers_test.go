package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/profile"
	"github.com/roach88/morph/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	lit    = testutil.Lit
	ref    = testutil.Ref
	bin    = testutil.Bin
	call   = testutil.Call
	params = testutil.Params

	intPair   = testutil.IntPair
	floatPair = testutil.FloatPair

	addFn        = testutil.Add
	twiceFn      = testutil.Twice
	sumSquaresFn = testutil.SumSquares
)

func program(t *testing.T, fns ...*ir.Function) *ir.Program {
	return testutil.Program(t, fns...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scenarioThresholds are the thresholds of the 150-call scenario.
func scenarioThresholds() profile.Thresholds {
	return profile.Thresholds{T1: 100, T2: 140, S1: 0.9, Window: 150, Damping: 0.5}
}

// quickThresholds promote after a handful of calls.
func quickThresholds() profile.Thresholds {
	return profile.Thresholds{T1: 2, T2: 4, S1: 0.9, Window: 4, Damping: 0.5}
}

func newEngine(t *testing.T, prog *ir.Program, opts ...Option) (*Engine, *diag.Recorder) {
	t.Helper()
	rec := diag.NewRecorder()
	opts = append([]Option{WithLogger(quietLogger()), WithSink(rec)}, opts...)
	e, err := New(prog, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, rec
}

func observe(t *testing.T, e *Engine, name string, shape ir.Shape, n int) {
	t.Helper()
	for range n {
		require.NoError(t, e.Observe(context.Background(), CallEvent{Function: name, Shape: shape}))
	}
}

func transitions(events []diag.Event) [][2]string {
	var out [][2]string
	for _, ev := range events {
		if ev.From != "" {
			out = append(out, [2]string{ev.From, ev.To})
		}
	}
	return out
}

// memoryRecorder keeps recorded call events in memory.
type memoryRecorder struct {
	mu     sync.Mutex
	events []CallEvent
}

func (r *memoryRecorder) RecordCall(_ context.Context, ev CallEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *memoryRecorder) Events() []CallEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallEvent(nil), r.events...)
}
