package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/morph/internal/compiler"
	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/engine"
	"github.com/roach88/morph/internal/ghost"
	"github.com/roach88/morph/internal/harden"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/profile"
	"github.com/roach88/morph/internal/store"
)

// Harness runs a compiled scenario against a fresh engine.
type Harness struct {
	scenario *Scenario
	prog     *ir.Program
	policy   ghost.Policy
	store    *store.Store
	logger   *slog.Logger
}

// runConfig is stored with the run so a recorded scenario can be traced
// back to its settings.
type runConfig struct {
	Scenario    string             `json:"scenario"`
	Thresholds  profile.Thresholds `json:"thresholds"`
	GhostPolicy string             `json:"ghost_policy"`
}

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger handed to the engines. Scenario runs are
// silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithStore records the run into st instead of a private in-memory store.
// The caller keeps ownership of st.
func WithStore(st *store.Store) Option {
	return func(h *Harness) { h.store = st }
}

// Run executes a scenario and returns its result.
//
// Execution flow:
//  1. Compile the program
//  2. Begin a run in the store and invoke every call step on a fresh engine
//  3. Replay the recorded run into a second engine and compare traces
//  4. Evaluate assertions against the live run
//
// A returned error means the scenario could not run at all; failed
// expectations and assertions are reported in Result.Errors.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	prog, err := compiler.CompileFile(s.Program)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", s.Program, err)
	}
	policy, err := ghost.ParsePolicy(s.GhostPolicy)
	if err != nil {
		return nil, err
	}
	h := &Harness{
		scenario: s,
		prog:     prog,
		policy:   policy,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		st, err := store.Open(store.Memory)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
		h.store = st
	}
	return h.run(ctx)
}

func (h *Harness) newEngine(sink diag.Sink, recorder engine.CallRecorder) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithThresholds(h.scenario.Thresholds),
		engine.WithGhostPolicy(h.policy),
		engine.WithHardenMode(harden.ModeSync),
		engine.WithLogger(h.logger),
		engine.WithSink(sink),
	}
	if recorder != nil {
		opts = append(opts, engine.WithRecorder(recorder))
	}
	return engine.New(h.prog, nil, opts...)
}

func (h *Harness) run(ctx context.Context) (*Result, error) {
	cfg, err := json.Marshal(runConfig{
		Scenario:    h.scenario.Name,
		Thresholds:  h.scenario.Thresholds,
		GhostPolicy: h.policy.String(),
	})
	if err != nil {
		return nil, err
	}
	run, err := h.store.BeginRun(ctx, ir.ProgramHash(h.prog), string(cfg), 0)
	if err != nil {
		return nil, err
	}
	rec := h.store.Recorder(run.ID, h.logger)
	trace := diag.NewRecorder()
	live, err := h.newEngine(diag.Multi(trace, rec), rec)
	if err != nil {
		return nil, err
	}
	defer live.Close()

	result := NewResult()
	if err := RunCalls(ctx, live, h.scenario.Calls, result); err != nil {
		return nil, err
	}
	live.WaitIdle()
	result.Trace = trace.Events()
	result.Final = live.Status()

	replayTrace := diag.NewRecorder()
	fresh, err := h.newEngine(replayTrace, nil)
	if err != nil {
		return nil, err
	}
	defer fresh.Close()
	replay, err := h.store.Replay(ctx, run.ID, fresh, replayTrace)
	if err != nil {
		return nil, err
	}
	result.ReplayMatched = replay.Match()
	if !result.ReplayMatched {
		recorded, replayed := replay.Transitions()
		result.AddError(fmt.Sprintf("replay diverged: recorded %d transitions, replayed %d", len(recorded), len(replayed)))
	}

	for _, msg := range EvaluateAssertions(result, h.scenario.Assertions) {
		result.AddError(msg)
	}
	h.logger.Info("scenario finished",
		"scenario", h.scenario.Name,
		"run_id", run.ID,
		"calls", result.Calls,
		"diagnostics", len(result.Trace),
		"pass", result.Pass)
	return result, nil
}

// RunCalls invokes every step on e in order. Argument conversion errors
// abort the run; call outcomes are checked against each step's expect
// clause and failures are added to result.
func RunCalls(ctx context.Context, e *engine.Engine, steps []CallStep, result *Result) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := executeStep(ctx, e, i, step, result); err != nil {
			return err
		}
	}
	return nil
}

func executeStep(ctx context.Context, e *engine.Engine, i int, step CallStep, result *Result) error {
	args, err := convertArgs(step.Args)
	if err != nil {
		return fmt.Errorf("calls[%d]: %w", i, err)
	}
	var want ir.Value
	if step.Expect != nil && step.Expect.Result != nil {
		if want, err = ir.FromNative(step.Expect.Result); err != nil {
			return fmt.Errorf("calls[%d].expect: %w", i, err)
		}
	}
	for n := range step.Times() {
		got, err := e.Invoke(ctx, step.Function, args)
		result.Calls++
		if msg := checkExpect(step, want, got, err); msg != "" {
			result.AddError(fmt.Sprintf("calls[%d] #%d %s: %s", i, n+1, step.Function, msg))
		}
	}
	return nil
}

func checkExpect(step CallStep, want, got ir.Value, err error) string {
	switch {
	case step.Expect != nil && step.Expect.Error != "":
		if err == nil {
			return fmt.Sprintf("expected error containing %q, got %s", step.Expect.Error, ir.Display(got))
		}
		if !strings.Contains(err.Error(), step.Expect.Error) {
			return fmt.Sprintf("expected error containing %q, got %q", step.Expect.Error, err.Error())
		}
	case err != nil:
		return fmt.Sprintf("unexpected error: %v", err)
	case want != nil && !ir.Equal(want, got):
		return fmt.Sprintf("expected %s, got %s", ir.Display(want), ir.Display(got))
	}
	return ""
}

func convertArgs(raw []any) ([]ir.Value, error) {
	args := make([]ir.Value, len(raw))
	for i, a := range raw {
		v, err := ir.FromNative(a)
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}
