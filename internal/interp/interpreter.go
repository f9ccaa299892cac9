package interp

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/morph/internal/ghost"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/pulse"
)

// DefaultMaxDepth bounds the number of nested zones of one arena.
const DefaultMaxDepth = 4096

// Caller dispatches calls to named functions.
//
// The engine implements Caller so that nested calls are profiled and routed
// to the current execution form of the callee. Both forms share the arena of
// the calling stack.
type Caller interface {
	Call(ctx context.Context, a *pulse.Arena, name string, args []ir.Value) (ir.Value, error)
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithCaller routes named calls through c instead of the interpreter itself.
func WithCaller(c Caller) Option {
	return func(in *Interpreter) {
		in.caller = c
	}
}

// WithOutput sets the writer used by log and print.
func WithOutput(w io.Writer) Option {
	return func(in *Interpreter) {
		in.out = w
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Interpreter) {
		in.logger = l
	}
}

// WithMaxDepth bounds zone nesting; calls past it fail.
func WithMaxDepth(n int) Option {
	return func(in *Interpreter) {
		in.maxDepth = n
	}
}

// Interpreter evaluates functions directly from the IR. It is the Draft and
// Observe execution form and the fallback after deoptimization.
//
// Every value lives in the arena: evaluation allocates into the innermost
// zone, blocks open and seal zones, and claim moves values outward. Any use
// of a reclaimed value fails with a DanglingPulse error.
//
// An Interpreter is safe for concurrent use as long as each goroutine uses
// its own arena.
type Interpreter struct {
	prog     *ir.Program
	ghosts   *ghost.Table
	caller   Caller
	out      io.Writer
	logger   *slog.Logger
	maxDepth int
}

// New creates an interpreter over prog. ghosts may be nil.
func New(prog *ir.Program, ghosts *ghost.Table, opts ...Option) *Interpreter {
	if ghosts == nil {
		ghosts = ghost.NewTable()
	}
	in := &Interpreter{
		prog:     prog,
		ghosts:   ghosts,
		out:      io.Discard,
		logger:   slog.Default(),
		maxDepth: DefaultMaxDepth,
	}
	in.caller = in
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Program returns the interpreted program.
func (in *Interpreter) Program() *ir.Program { return in.prog }

// Output returns the writer used by log and print.
func (in *Interpreter) Output() io.Writer { return in.out }

// Caller returns the dispatcher for named calls.
func (in *Interpreter) Caller() Caller { return in.caller }

// Ghosts returns the ghost type table.
func (in *Interpreter) Ghosts() *ghost.Table { return in.ghosts }

// MaxDepth returns the zone nesting bound.
func (in *Interpreter) MaxDepth() int { return in.maxDepth }

// Logger returns the interpreter's logger.
func (in *Interpreter) Logger() *slog.Logger { return in.logger }

// Call implements Caller by interpreting the named function.
func (in *Interpreter) Call(ctx context.Context, a *pulse.Arena, name string, args []ir.Value) (ir.Value, error) {
	fn := in.prog.Function(name)
	if fn == nil {
		if IsBuiltin(name) {
			return CallBuiltin(name, in.out, args)
		}
		return nil, NewUndefinedFunctionError(name)
	}
	return in.Exec(ctx, a, fn, args)
}

// Exec runs fn with args on arena a. The entry zone is opened on top of the
// arena's innermost zone and sealed before Exec returns, on success and on
// error alike.
func (in *Interpreter) Exec(ctx context.Context, a *pulse.Arena, fn *ir.Function, args []ir.Value) (ir.Value, error) {
	if len(args) != len(fn.Params) {
		return nil, NewArityError(fn.Name, len(fn.Params), len(args))
	}
	for i, p := range fn.Params {
		if err := in.validate(p.Type, args[i]); err != nil {
			return nil, err
		}
	}
	body := fn.Body
	if body == nil {
		body = &ir.Block{}
	}
	v, err := in.enter(ctx, a, fn.Name, fn.Params, args, nil, body)
	if err != nil {
		return nil, err
	}
	if err := in.validate(fn.Return, v); err != nil {
		return nil, err
	}
	return v, nil
}

// validate checks v against a ghost type. Builtin and unknown type names
// impose nothing at this point.
func (in *Interpreter) validate(typeName string, v ir.Value) error {
	if typeName == "" || !in.ghosts.Has(typeName) {
		return nil
	}
	return in.ghosts.Validate(typeName, v)
}

// enter runs a function or lambda body in a fresh entry zone.
func (in *Interpreter) enter(ctx context.Context, a *pulse.Arena, name string, params []ir.Param,
	args []ir.Value, captured map[string]ir.Value, body ir.Expr) (ir.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.Depth() >= in.maxDepth {
		in.logger.Warn("zone depth limit reached", "function", name, "depth", a.Depth())
		return nil, newError(ErrCodeInvalidOperation, "maximum call depth %d exceeded in %s", in.maxDepth, name)
	}
	entry, err := a.Open(a.Top())
	if err != nil {
		return nil, err
	}
	f := &frame{in: in, ctx: ctx, a: a, fn: name}
	env := newScope(nil, entry)
	for k, v := range captured {
		h, err := a.Alloc(entry, v)
		if err != nil {
			a.Unwind(entry)
			return nil, err
		}
		env.vars[k] = &variable{h: h, zone: entry}
	}
	for i, p := range params {
		h, err := a.Alloc(entry, args[i])
		if err != nil {
			a.Unwind(entry)
			return nil, err
		}
		env.vars[p.Name] = &variable{h: h, zone: entry}
	}

	var h pulse.Handle
	if blk, ok := body.(*ir.Block); ok {
		h, err = f.stmts(blk, env)
	} else {
		h, err = f.eval(body, env)
	}
	if r, ok := err.(*returnSignal); ok {
		h, err = r.h, nil
	}
	if err != nil {
		if a.Top() >= entry {
			a.Unwind(entry)
		}
		return nil, AttachFunction(err, name)
	}

	// The result may be owned by the entry zone or an enclosing one; values
	// in deeper zones were reclaimed already and fail here.
	v, err := a.Get(h)
	if err != nil {
		a.Unwind(entry)
		return nil, err
	}
	if _, err := a.Seal(entry); err != nil {
		return nil, err
	}
	return v, nil
}

// AttachFunction records name as the failing function of a runtime error that
// does not name one yet.
func AttachFunction(err error, name string) error {
	if re, ok := err.(*RuntimeError); ok && re.Function == "" {
		re.Function = name
	}
	return err
}

// returnSignal carries a return value up to the entry zone.
type returnSignal struct {
	h pulse.Handle
}

func (*returnSignal) Error() string { return "return outside of a function" }

type variable struct {
	h       pulse.Handle
	zone    pulse.ZoneID
	mutable bool
}

type scope struct {
	vars   map[string]*variable
	parent *scope
	zone   pulse.ZoneID
}

func newScope(parent *scope, zone pulse.ZoneID) *scope {
	return &scope{vars: make(map[string]*variable), parent: parent, zone: zone}
}

func (s *scope) lookup(name string) *variable {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v
		}
	}
	return nil
}

// frame is the state of one function activation.
type frame struct {
	in  *Interpreter
	ctx context.Context
	a   *pulse.Arena
	fn  string
}

func (f *frame) alloc(v ir.Value) (pulse.Handle, error) {
	return f.a.Alloc(f.a.Top(), v)
}

func (f *frame) unit() (pulse.Handle, error) {
	return f.alloc(ir.Unit{})
}

// stmts runs a block's statements in the current zone and returns the
// handle of its result.
func (f *frame) stmts(b *ir.Block, parent *scope) (pulse.Handle, error) {
	env := newScope(parent, f.a.Top())
	for _, st := range b.Stmts {
		if err := f.exec(st, env); err != nil {
			return pulse.Handle{}, err
		}
	}
	if b.Result == nil {
		return f.unit()
	}
	return f.eval(b.Result, env)
}

func (f *frame) exec(st ir.Stmt, e *scope) error {
	switch x := st.(type) {
	case *ir.Let:
		h, err := f.eval(x.Value, e)
		if err != nil {
			return err
		}
		if x.Type != "" {
			if err := f.in.validate(x.Type, f.a.Value(h)); err != nil {
				return err
			}
		}
		e.vars[x.Name] = &variable{h: h, zone: e.zone, mutable: x.Mutable}
		return nil
	case *ir.ExprStmt:
		_, err := f.eval(x.Expr, e)
		return err
	case *ir.Return:
		var h pulse.Handle
		var err error
		if x.Value == nil {
			h, err = f.unit()
		} else {
			h, err = f.eval(x.Value, e)
		}
		if err != nil {
			return err
		}
		return &returnSignal{h: h}
	case *ir.For:
		return f.loop(x, e)
	case *ir.Assign:
		v := e.lookup(x.Name)
		if v == nil {
			return newError(ErrCodeUndefinedVariable, "Undefined variable: %s", x.Name)
		}
		if !v.mutable {
			return newError(ErrCodeInvalidOperation, "Cannot assign to immutable variable: %s", x.Name)
		}
		h, err := f.eval(x.Value, e)
		if err != nil {
			return err
		}
		owner, err := f.a.Owner(h)
		if err != nil {
			return err
		}
		if f.a.ZoneDepth(owner) > f.a.ZoneDepth(v.zone) {
			return pulse.NewDanglingPulseError(owner,
				fmt.Sprintf("assignment to %q would outlive the zone that owns the value", x.Name))
		}
		v.h = h
		return nil
	}
	return newError(ErrCodeInvalidOperation, "unknown statement %T", st)
}

func (f *frame) loop(x *ir.For, e *scope) error {
	h, err := f.eval(x.Iter, e)
	if err != nil {
		return err
	}
	list, ok := f.a.Value(h).(ir.List)
	if !ok {
		return NewTypeError("For loop requires a list, got %s", kindName(f.a.Value(h)))
	}
	for _, el := range list {
		if err := f.ctx.Err(); err != nil {
			return err
		}
		zone, err := f.a.Open(f.a.Top())
		if err != nil {
			return err
		}
		if err := f.iterate(x, e, zone, el); err != nil {
			if f.a.Top() >= zone {
				f.a.Unwind(zone)
			}
			return err
		}
		if _, err := f.a.Seal(zone); err != nil {
			return err
		}
	}
	return nil
}

func (f *frame) iterate(x *ir.For, e *scope, zone pulse.ZoneID, el ir.Value) error {
	h, err := f.a.Alloc(zone, el)
	if err != nil {
		return err
	}
	iter := newScope(e, zone)
	iter.vars[x.Var] = &variable{h: h, zone: zone}
	if x.Where != nil {
		w, err := f.eval(x.Where, iter)
		if err != nil {
			return err
		}
		if !Truthy(f.a.Value(w)) {
			return nil
		}
	}
	if x.Body == nil {
		return nil
	}
	_, err = f.stmts(x.Body, iter)
	return err
}

func (f *frame) value(e ir.Expr, env *scope) (ir.Value, error) {
	h, err := f.eval(e, env)
	if err != nil {
		return nil, err
	}
	return f.a.Get(h)
}

func (f *frame) values(es []ir.Expr, env *scope) ([]ir.Value, error) {
	out := make([]ir.Value, len(es))
	for i, e := range es {
		v, err := f.value(e, env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *frame) result(v ir.Value, err error) (pulse.Handle, error) {
	if err != nil {
		return pulse.Handle{}, err
	}
	return f.alloc(v)
}

func (f *frame) eval(e ir.Expr, env *scope) (pulse.Handle, error) {
	switch x := e.(type) {
	case nil:
		return f.unit()
	case *ir.Lit:
		if x.Value == nil {
			return f.unit()
		}
		return f.alloc(x.Value)
	case *ir.Ident:
		if v := env.lookup(x.Name); v != nil {
			if _, err := f.a.Get(v.h); err != nil {
				return pulse.Handle{}, err
			}
			return v.h, nil
		}
		if f.in.prog.Function(x.Name) != nil || IsBuiltin(x.Name) {
			// Function references are static; they live in the root zone.
			return f.a.Alloc(f.a.Root(), &ir.Func{Name: x.Name})
		}
		return pulse.Handle{}, newError(ErrCodeUndefinedVariable, "Undefined variable: %s", x.Name)
	case *ir.ListLit:
		vs, err := f.values(x.Elems, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		return f.alloc(ir.List(vs))
	case *ir.RecordLit:
		r := make(ir.Record, len(x.Fields))
		for _, fi := range x.Fields {
			v, err := f.value(fi.Value, env)
			if err != nil {
				return pulse.Handle{}, err
			}
			r[fi.Name] = v
		}
		return f.alloc(r)
	case *ir.Binary:
		l, err := f.value(x.Left, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		switch x.Op {
		case ir.OpAnd:
			if !Truthy(l) {
				return f.alloc(ir.Bool(false))
			}
		case ir.OpOr:
			if Truthy(l) {
				return f.alloc(ir.Bool(true))
			}
		}
		r, err := f.value(x.Right, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		return f.result(Binary(x.Op, l, r))
	case *ir.Unary:
		v, err := f.value(x.Operand, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		return f.result(Unary(x.Op, v))
	case *ir.Call:
		args, err := f.values(x.Args, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		return f.result(f.call(x.Callee, args, env))
	case *ir.Pipe:
		v, err := f.value(x.Value, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		switch t := x.Target.(type) {
		case *ir.Call:
			rest, err := f.values(t.Args, env)
			if err != nil {
				return pulse.Handle{}, err
			}
			return f.result(f.call(t.Callee, append([]ir.Value{v}, rest...), env))
		case *ir.Ident:
			return f.result(f.call(t, []ir.Value{v}, env))
		}
		return pulse.Handle{}, NewTypeError("Right side of pipe must be a function")
	case *ir.Field:
		v, err := f.value(x.Target, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		return f.result(FieldOf(v, x.Name))
	case *ir.Index:
		t, err := f.value(x.Target, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		i, err := f.value(x.Index, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		return f.result(Index(t, i))
	case *ir.If:
		c, err := f.value(x.Cond, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		if Truthy(c) {
			return f.eval(x.Then, env)
		}
		if x.Else == nil {
			return f.unit()
		}
		return f.eval(x.Else, env)
	case *ir.Match:
		return f.match(x, env)
	case *ir.Block:
		return f.block(x, env)
	case *ir.Lambda:
		captured := make(map[string]ir.Value)
		for cur := env; cur != nil; cur = cur.parent {
			for name, v := range cur.vars {
				if _, shadowed := captured[name]; shadowed {
					continue
				}
				if val, err := f.a.Get(v.h); err == nil {
					captured[name] = val
				}
			}
		}
		return f.alloc(&ir.Func{Lambda: x, Captured: captured})
	case *ir.Claim:
		h, err := f.eval(x.Value, env)
		if err != nil {
			return pulse.Handle{}, err
		}
		top := f.a.Top()
		parent, ok := f.a.Parent(top)
		if !ok || parent == pulse.NoZone {
			return pulse.Handle{}, pulse.NewNotDirectParentError(top, pulse.NoZone)
		}
		if err := f.a.Claim(h, parent); err != nil {
			return pulse.Handle{}, err
		}
		return h, nil
	}
	return pulse.Handle{}, newError(ErrCodeInvalidOperation, "unknown expression %T", e)
}

func (f *frame) block(b *ir.Block, env *scope) (pulse.Handle, error) {
	zone, err := f.a.Open(f.a.Top())
	if err != nil {
		return pulse.Handle{}, err
	}
	h, err := f.stmts(b, env)
	if err != nil {
		if f.a.Top() >= zone {
			f.a.Unwind(zone)
		}
		return pulse.Handle{}, err
	}
	owner, err := f.a.Owner(h)
	if err != nil {
		f.a.Unwind(zone)
		return pulse.Handle{}, err
	}
	if owner == zone {
		if b.Result != nil {
			f.a.Unwind(zone)
			return pulse.Handle{}, pulse.NewDanglingPulseError(zone, "block result is owned by the zone being sealed; claim it")
		}
	}
	if _, err := f.a.Seal(zone); err != nil {
		return pulse.Handle{}, err
	}
	if b.Result == nil {
		return f.unit()
	}
	return h, nil
}

func (f *frame) match(x *ir.Match, env *scope) (pulse.Handle, error) {
	h, err := f.eval(x.Subject, env)
	if err != nil {
		return pulse.Handle{}, err
	}
	subject := f.a.Value(h)
	for _, arm := range x.Arms {
		bind, ok := MatchPattern(arm.Pattern, subject)
		if !ok {
			continue
		}
		armEnv := env
		if bind != "" {
			armEnv = newScope(env, env.zone)
			armEnv.vars[bind] = &variable{h: h, zone: f.a.Top()}
		}
		return f.eval(arm.Body, armEnv)
	}
	return pulse.Handle{}, newError(ErrCodeNoMatch, "No match arm matched value %s", ir.Display(subject))
}

// call resolves the callee and invokes it.
func (f *frame) call(callee ir.Expr, args []ir.Value, env *scope) (ir.Value, error) {
	if id, ok := callee.(*ir.Ident); ok && env.lookup(id.Name) == nil {
		if f.in.prog.Function(id.Name) != nil {
			return f.in.caller.Call(f.ctx, f.a, id.Name, args)
		}
		if IsBuiltin(id.Name) {
			return CallBuiltin(id.Name, f.in.out, args)
		}
		return nil, NewUndefinedFunctionError(id.Name)
	}
	v, err := f.value(callee, env)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(*ir.Func)
	if !ok {
		return nil, NewTypeError("Cannot call %s", kindName(v))
	}
	return f.in.Apply(f.ctx, f.a, fn, args)
}

// Apply calls a function value.
func (in *Interpreter) Apply(ctx context.Context, a *pulse.Arena, fn *ir.Func, args []ir.Value) (ir.Value, error) {
	if fn.Lambda == nil {
		if in.prog.Function(fn.Name) != nil {
			return in.caller.Call(ctx, a, fn.Name, args)
		}
		return CallBuiltin(fn.Name, in.out, args)
	}
	if len(args) != len(fn.Lambda.Params) {
		return nil, NewArityError("<lambda>", len(fn.Lambda.Params), len(args))
	}
	return in.enter(ctx, a, "<lambda>", fn.Lambda.Params, args, fn.Captured, fn.Lambda.Body)
}
