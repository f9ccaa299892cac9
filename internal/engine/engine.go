package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/ghost"
	"github.com/roach88/morph/internal/harden"
	"github.com/roach88/morph/internal/interp"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/profile"
	"github.com/roach88/morph/internal/pulse"
)

// CallEvent is one observed call. Timestamp is a logical clock value; zero
// means the engine stamps the event itself.
type CallEvent struct {
	Function  string
	Shape     ir.Shape
	Timestamp int64

	// Args are the call's arguments. Observe ignores them; recorders may
	// persist them so a trace can be executed again.
	Args []ir.Value
}

// CallRecorder persists call events. RecordCall runs on the calling
// goroutine before the function body executes.
type CallRecorder interface {
	RecordCall(ctx context.Context, ev CallEvent) error
}

// CapabilityFunc decides whether the host grants a capability such as
// "delegate:<function>".
type CapabilityFunc func(ctx context.Context, capability string) bool

// Engine is the process-wide registry of function contexts.
//
// Every function of the loaded program starts in Draft. Calls are counted
// and their argument shapes profiled; a function whose shapes stabilize is
// hardened to a native form, and a call that misses the native guard sends
// it back to the interpreter.
//
// Thread-safety model:
//   - Invoke, Observe, Harden, Status and Delegate: safe from any goroutine
//   - each call runs on its own pooled arena; nested calls share it
//   - hardening is single-flight per function and never blocks callers
type Engine struct {
	prog       *ir.Program
	ghosts     *ghost.Table
	interp     *interp.Interpreter
	controller *harden.Controller
	funcs      map[string]*Function

	th         profile.Thresholds
	clock      *Clock
	ids        IDGenerator
	sink       diag.Sink
	logger     *slog.Logger
	recorder   CallRecorder
	capability CapabilityFunc
	out        io.Writer
	mode       harden.Mode
	policy     ghost.Policy
	maxDepth   int
	batchLimit int

	arenas sync.Pool
	closed atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithThresholds sets the promotion thresholds.
func WithThresholds(th profile.Thresholds) Option {
	return func(e *Engine) { e.th = th }
}

// WithSink sets the diagnostic sink. Default: diag.Discard.
func WithSink(s diag.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithHardenMode selects synchronous or background hardening.
//
// Default: harden.ModeSync, which keeps promotion deterministic.
func WithHardenMode(m harden.Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithGhostPolicy selects what hardening does with ghost checks it cannot
// prove statically.
func WithGhostPolicy(p ghost.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithCapabilityCheck installs the host capability predicate. Default: every
// capability is granted.
func WithCapabilityCheck(f CapabilityFunc) Option {
	return func(e *Engine) {
		if f != nil {
			e.capability = f
		}
	}
}

// WithClock sets the logical clock, e.g. to resume a recorded run.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithOutput sets the writer for the log and print builtins.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) {
		if w != nil {
			e.out = w
		}
	}
}

// WithRecorder persists every call event.
func WithRecorder(r CallRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithIDGenerator sets the generator for parcel ids. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithMaxDepth limits nested call depth.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithDelegationLimit caps the number of concurrent calls in a
// DelegateBatch. Zero means no limit.
func WithDelegationLimit(n int) Option {
	return func(e *Engine) { e.batchLimit = n }
}

// New creates an engine for prog. If ghosts is nil the table is built from
// the program's type declarations.
func New(prog *ir.Program, ghosts *ghost.Table, opts ...Option) (*Engine, error) {
	e := &Engine{
		prog:       prog,
		funcs:      make(map[string]*Function, len(prog.Order)),
		th:         profile.DefaultThresholds(),
		clock:      NewClock(0),
		ids:        UUIDv7Generator{},
		sink:       diag.Discard,
		logger:     slog.Default(),
		capability: func(context.Context, string) bool { return true },
		out:        io.Discard,
		mode:       harden.ModeSync,
		policy:     ghost.PolicyRetain,
		maxDepth:   interp.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.th.Validate(); err != nil {
		return nil, fmt.Errorf("engine thresholds: %w", err)
	}

	if ghosts == nil {
		t, err := ghost.FromProgram(prog)
		if err != nil {
			return nil, fmt.Errorf("ghost types: %w", err)
		}
		ghosts = t
	}
	ghosts.SetLogger(e.logger)
	e.ghosts = ghosts

	e.interp = interp.New(prog, ghosts,
		interp.WithCaller(e),
		interp.WithOutput(e.out),
		interp.WithLogger(e.logger),
		interp.WithMaxDepth(e.maxDepth),
	)
	compiler := harden.NewCompiler(e.interp,
		harden.WithPolicy(e.policy),
		harden.WithLogger(e.logger),
	)
	e.controller = harden.NewController(compiler, e.mode, e.logger)
	e.arenas.New = func() any { return pulse.NewArena() }

	for _, name := range prog.Order {
		e.funcs[name] = newFunction(prog.Functions[name], e.th)
	}
	e.logger.Info("engine ready",
		"functions", len(e.funcs),
		"ghost_types", len(ghosts.Names()),
		"mode", e.mode.String(),
		"ghost_policy", e.policy.String())
	return e, nil
}

// Program returns the loaded program.
func (e *Engine) Program() *ir.Program { return e.prog }

// Ghosts returns the ghost type table.
func (e *Engine) Ghosts() *ghost.Table { return e.ghosts }

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Thresholds returns the promotion thresholds.
func (e *Engine) Thresholds() profile.Thresholds { return e.th }

// Function returns the context of a loaded function.
func (e *Engine) Function(name string) (*Function, error) {
	f, ok := e.funcs[name]
	if !ok {
		return nil, NewUnknownFunctionError(name)
	}
	return f, nil
}

// Invoke runs a function with args on a fresh arena.
func (e *Engine) Invoke(ctx context.Context, name string, args []ir.Value) (ir.Value, error) {
	if e.closed.Load() {
		return nil, NewClosedError()
	}
	f, err := e.Function(name)
	if err != nil {
		return nil, err
	}
	a := e.arena()
	defer e.arenas.Put(a)
	return e.call(ctx, a, f, args, true)
}

// Call implements interp.Caller. Nested calls from either execution form
// come through here, so they are profiled like top-level calls and run on
// the caller's arena.
func (e *Engine) Call(ctx context.Context, a *pulse.Arena, name string, args []ir.Value) (ir.Value, error) {
	f, ok := e.funcs[name]
	if !ok {
		if interp.IsBuiltin(name) {
			return interp.CallBuiltin(name, e.out, args)
		}
		return nil, interp.NewUndefinedFunctionError(name)
	}
	return e.call(ctx, a, f, args, false)
}

func (e *Engine) arena() *pulse.Arena {
	a := e.arenas.Get().(*pulse.Arena)
	a.Reset()
	return a
}

func (e *Engine) call(ctx context.Context, a *pulse.Arena, f *Function, args []ir.Value, top bool) (ir.Value, error) {
	seq := e.clock.Next()
	shape := ir.ShapeOf(args)
	if e.recorder != nil {
		ev := CallEvent{Function: f.Name, Shape: shape, Timestamp: seq, Args: args}
		if err := e.recorder.RecordCall(ctx, ev); err != nil {
			e.logger.Error("failed to record call", "function", f.Name, "seq", seq, "error", err)
		}
	}
	e.observe(ctx, f, shape, seq)

	form := FormInterpreted
	var (
		v   ir.Value
		err error
	)
	if n := f.slot.Load(); n != nil {
		if n.Guard(args) {
			form = FormNative
			v, err = n.Exec(ctx, a, args)
		} else {
			e.deoptimize(ctx, f, n, shape, seq)
		}
	}
	if form == FormInterpreted {
		v, err = e.interp.Exec(ctx, a, f.Body, args)
	}
	if err != nil && top && ghost.IsValidationError(err) {
		e.emit(ctx, diag.Event{
			Seq:      seq,
			Kind:     diag.KindGhostValidation,
			Function: f.Name,
			Shape:    shape.Key(),
			Message:  err.Error(),
		})
	}
	e.logger.Debug("call", "function", f.Name, "seq", seq, "form", form.String(), "shape", shape.Key())
	return v, err
}

// Observe feeds a call event to the profiler without running the function.
// The event's shape is checked against an installed native guard as a call
// would be, so a miss deoptimizes. Replay drives the stage machine this way.
func (e *Engine) Observe(ctx context.Context, ev CallEvent) error {
	if e.closed.Load() {
		return NewClosedError()
	}
	f, err := e.Function(ev.Function)
	if err != nil {
		return err
	}
	seq := ev.Timestamp
	if seq > 0 {
		e.clock.Advance(seq)
	} else {
		seq = e.clock.Next()
	}
	e.observe(ctx, f, ev.Shape, seq)
	if n := f.slot.Load(); n != nil && !n.GuardShape(ev.Shape) {
		e.deoptimize(ctx, f, n, ev.Shape, seq)
	}
	return nil
}

// observe records one call and reacts to the transition it caused.
func (e *Engine) observe(ctx context.Context, f *Function, shape ir.Shape, seq int64) {
	p := f.Profile()
	tr := p.Record(shape, seq)
	if !tr.Changed() {
		return
	}
	e.promoted(ctx, f, tr, seq)
	if tr.To != profile.StageRefine {
		return
	}
	dominant, ok := p.Dominant()
	if !ok {
		e.failed(ctx, f, p, shape, seq, fmt.Errorf("no concrete shape observed"))
		return
	}
	hctx := context.WithoutCancel(ctx)
	e.controller.Trigger(f.Body, dominant, func(n *harden.Native, err error) {
		e.settle(hctx, f, p, dominant, seq, n, err)
	})
}

// settle installs a finished native form, or records the failure.
func (e *Engine) settle(ctx context.Context, f *Function, p *profile.Profile, shape ir.Shape, seq int64,
	n *harden.Native, err error,
) (*harden.Native, error) {
	if err != nil {
		e.failed(ctx, f, p, shape, seq, err)
		return nil, err
	}
	if !f.slot.Install(n) {
		if cur := f.slot.Load(); cur != nil {
			return cur, nil
		}
		return nil, fmt.Errorf("native form for %s was replaced while hardening", f.Name)
	}
	tr, ok := p.Solidify()
	if !ok || f.Profile() != p {
		f.slot.Uninstall(n)
		return nil, fmt.Errorf("%s left refine while hardening", f.Name)
	}
	e.promoted(ctx, f, tr, seq)
	e.logger.Info("function hardened",
		"function", f.Name,
		"shape", n.ShapeKey,
		"retained_checks", n.Retained,
		"claims", n.Report.Claims)
	return n, nil
}

func (e *Engine) failed(ctx context.Context, f *Function, p *profile.Profile, shape ir.Shape, seq int64, cause error) {
	tr, ok := p.FailHardening(shape)
	if !ok {
		return
	}
	e.logger.Warn("hardening failed", "function", f.Name, "shape", shape.Key(), "error", cause)
	e.emit(ctx, diag.Event{
		Seq:      seq,
		Kind:     diag.KindHardeningFailure,
		Function: f.Name,
		From:     tr.From.String(),
		To:       tr.To.String(),
		Shape:    shape.Key(),
		Score:    tr.Score,
		Message:  cause.Error(),
	})
}

// deoptimize takes n out of service after a guard miss. Of several callers
// missing the same form, one uninstalls it and reports the transition;
// every caller falls back to the interpreter.
func (e *Engine) deoptimize(ctx context.Context, f *Function, n *harden.Native, shape ir.Shape, seq int64) {
	if !e.controller.Deoptimize(&f.slot, n) {
		return
	}
	tr, ok := f.Profile().Deoptimize()
	if !ok {
		return
	}
	e.emit(ctx, diag.Event{
		Seq:      seq,
		Kind:     diag.KindDeoptimization,
		Function: f.Name,
		From:     tr.From.String(),
		To:       tr.To.String(),
		Shape:    shape.Key(),
		Score:    tr.Score,
		Message:  fmt.Sprintf("guard expected %s", n.ShapeKey),
	})
}

func (e *Engine) promoted(ctx context.Context, f *Function, tr profile.Transition, seq int64) {
	e.emit(ctx, diag.Event{
		Seq:      seq,
		Kind:     diag.KindPromotion,
		Function: f.Name,
		From:     tr.From.String(),
		To:       tr.To.String(),
		Shape:    tr.Shape,
		Score:    tr.Score,
	})
}

func (e *Engine) emit(ctx context.Context, ev diag.Event) {
	e.sink.Emit(ctx, ev)
}

// Harden forces a function through Refine and waits for the outcome,
// hardening it for its dominant shape. A job already in flight is joined.
func (e *Engine) Harden(ctx context.Context, name string) (*harden.Native, error) {
	if e.closed.Load() {
		return nil, NewClosedError()
	}
	f, err := e.Function(name)
	if err != nil {
		return nil, err
	}
	if n := f.slot.Load(); n != nil {
		return n, nil
	}
	p := f.Profile()
	seq := e.clock.Current()
	if tr, ok := p.Promote(); ok {
		e.promoted(ctx, f, tr, seq)
	}
	shape, ok := p.Dominant()
	if !ok {
		err := &harden.Failure{Function: name, Cause: fmt.Errorf("no concrete shape observed")}
		e.failed(ctx, f, p, shape, seq, err)
		return nil, err
	}
	n, err := e.controller.Harden(ctx, f.Body, shape)
	if err != nil && !harden.IsFailure(err) {
		return nil, err
	}
	return e.settle(ctx, f, p, shape, seq, n, err)
}

// CurrentStage returns a function's stage.
func (e *Engine) CurrentStage(name string) (profile.Stage, error) {
	f, err := e.Function(name)
	if err != nil {
		return profile.StageDraft, err
	}
	return f.Profile().Stage(), nil
}

// StabilityScore returns a function's current stability score.
func (e *Engine) StabilityScore(name string) (float64, error) {
	f, err := e.Function(name)
	if err != nil {
		return 0, err
	}
	return f.Profile().StabilityScore(), nil
}

// WaitIdle blocks until no hardening job is running.
func (e *Engine) WaitIdle() {
	e.controller.Wait()
}

// Close stops accepting calls and waits for hardening jobs to finish.
// Closing twice is a no-op.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.controller.Close()
	e.logger.Info("engine closed", "seq", e.clock.Current())
	return nil
}
