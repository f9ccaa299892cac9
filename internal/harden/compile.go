package harden

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/morph/internal/ghost"
	"github.com/roach88/morph/internal/interp"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/pulse"
)

type expr func(fr *frame) (ir.Value, error)

type stmt func(fr *frame) error

// errReturn unwinds the closures of a body up to Exec; the value is in
// frame.ret.
var errReturn = errors.New("return")

type frame struct {
	ctx    context.Context
	a      *pulse.Arena
	locals []ir.Value
	ret    ir.Value
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithPolicy sets what happens to ghost checks that erasure cannot prove.
func WithPolicy(p ghost.Policy) Option {
	return func(c *Compiler) {
		c.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = l
	}
}

// Compiler builds native forms. Calls, builtins and function values inside
// a native body go through the interpreter's dispatcher, so hardened and
// interpreted functions call each other freely.
type Compiler struct {
	in     *interp.Interpreter
	ghosts *ghost.Table
	policy ghost.Policy
	logger *slog.Logger
}

// NewCompiler creates a compiler sharing in's program, ghost table and
// dispatcher.
func NewCompiler(in *interp.Interpreter, opts ...Option) *Compiler {
	c := &Compiler{
		in:     in,
		ghosts: in.Ghosts(),
		policy: ghost.PolicyRetain,
		logger: in.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the ghost check policy.
func (c *Compiler) Policy() ghost.Policy { return c.policy }

// Compile hardens fn for shape. Every failure is a *Failure.
func (c *Compiler) Compile(fn *ir.Function, shape ir.Shape) (*Native, error) {
	key := shape.Key()
	if !shape.Concrete() {
		return nil, fail(fn.Name, key, "shape is not concrete")
	}
	if len(shape) != len(fn.Params) {
		return nil, fail(fn.Name, key, "shape has %d argument(s), function takes %d", len(shape), len(fn.Params))
	}
	report := pulse.Analyze(fn)
	if !report.OK() {
		return nil, &Failure{Function: fn.Name, Shape: key, Cause: report.Err()}
	}

	// Mutable variables start at the kind of their initializer. An assignment
	// of another kind widens the variable to any and code generation runs
	// again; the widened set only grows, so this terminates.
	widened := make(map[*ir.Let]bool)
	var n *Native
	for {
		g := &generator{c: c, fn: fn, widened: widened}
		var err error
		n, err = g.function(shape)
		if err != nil {
			return nil, &Failure{Function: fn.Name, Shape: key, Cause: err}
		}
		if !g.retry {
			break
		}
	}
	n.Report = report
	n.Hash = ir.FunctionHash(fn)
	c.logger.Debug("function hardened", "function", fn.Name, "shape", key, "retained", n.Retained)
	return n, nil
}

// typ is the static kind of an expression under the target shape. Any means
// unknown; elem is the element kind of a list, when known.
type typ struct {
	kind ir.Kind
	elem ir.Kind
}

var anyT = typ{kind: ir.KindAny, elem: ir.KindAny}

func kindT(k ir.Kind) typ { return typ{kind: k, elem: ir.KindAny} }

func sigT(s ir.TypeSig) typ {
	t := kindT(s.Kind)
	if s.Kind == ir.KindList && s.Elem != nil {
		t.elem = s.Elem.Kind
	}
	return t
}

func join(a, b typ) typ {
	if a == b {
		return a
	}
	if a.kind == b.kind {
		return kindT(a.kind)
	}
	return anyT
}

func (t typ) is(k ir.Kind) bool { return t.kind == k }

func (t typ) known() bool { return t.kind != ir.KindAny }

type local struct {
	slot    int
	t       typ
	mutable bool
	decl    *ir.Let
}

type scope struct {
	vars   map[string]*local
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(map[string]*local), parent: parent}
}

func (s *scope) lookup(name string) *local {
	for cur := s; cur != nil; cur = cur.parent {
		if l, ok := cur.vars[name]; ok {
			return l
		}
	}
	return nil
}

type generator struct {
	c        *Compiler
	fn       *ir.Function
	slots    int
	widened  map[*ir.Let]bool
	retry    bool
	retained int
	returns  []typ
}

func (g *generator) declare(s *scope, name string, t typ, mutable bool, decl *ir.Let) *local {
	l := &local{slot: g.slots, t: t, mutable: mutable, decl: decl}
	g.slots++
	s.vars[name] = l
	return l
}

func (g *generator) function(shape ir.Shape) (*Native, error) {
	fn := g.fn
	root := newScope(nil)
	params := make([]func(ir.Value) error, len(fn.Params))
	for i, p := range fn.Params {
		t := sigT(shape[i])
		g.declare(root, p.Name, t, false, nil)
		check, err := g.ghostCheck(p.Type, t)
		if err != nil {
			return nil, err
		}
		params[i] = check
	}
	blk := fn.Body
	if blk == nil {
		blk = &ir.Block{}
	}
	body, rt, err := g.seq(blk, root)
	if err != nil {
		return nil, err
	}
	for _, t := range g.returns {
		rt = join(rt, t)
	}
	ret, err := g.ghostCheck(fn.Return, rt)
	if err != nil {
		return nil, err
	}
	return &Native{
		Function: fn.Name,
		Shape:    shape,
		ShapeKey: shape.Key(),
		Retained: g.retained,
		slots:    g.slots,
		params:   params,
		ret:      ret,
		body:     body,
		maxDepth: g.c.in.MaxDepth(),
	}, nil
}

// ghostCheck erases a ghost type for a value of type t. It returns the
// residual check to run, or nil when erasure proved every predicate.
func (g *generator) ghostCheck(name string, t typ) (func(ir.Value) error, error) {
	ghosts := g.c.ghosts
	if name == "" || !ghosts.Has(name) {
		return nil, nil
	}
	if !t.known() {
		predicates := 0
		for _, tag := range ghosts.Tags(name) {
			if !tag.Kind.Layout() {
				predicates++
			}
		}
		if predicates == 0 {
			return nil, nil
		}
		if g.c.policy == ghost.PolicyRefuse {
			return nil, fmt.Errorf("ghost type %s cannot be erased for a value of unknown kind", name)
		}
		g.retained += predicates
		return func(v ir.Value) error { return ghosts.Validate(name, v) }, nil
	}
	res, err := ghosts.Erase(name, t.kind)
	if err != nil {
		return nil, err
	}
	if len(res.Residual) == 0 {
		return nil, nil
	}
	if g.c.policy == ghost.PolicyRefuse {
		return nil, fmt.Errorf("ghost type %s keeps %d unprovable check(s) for %s", name, len(res.Residual), t.kind)
	}
	g.retained += len(res.Residual)
	return res.Check, nil
}

// seq compiles a block's statements and result in a child scope. Blocks
// open no zone in native code: the analysis already proved that nothing
// escapes one.
func (g *generator) seq(b *ir.Block, s *scope) (expr, typ, error) {
	inner := newScope(s)
	stmts := make([]stmt, 0, len(b.Stmts))
	for _, st := range b.Stmts {
		code, err := g.stmt(st, inner)
		if err != nil {
			return nil, anyT, err
		}
		stmts = append(stmts, code)
	}
	if b.Result == nil {
		return func(fr *frame) (ir.Value, error) {
			for _, st := range stmts {
				if err := st(fr); err != nil {
					return nil, err
				}
			}
			return ir.Unit{}, nil
		}, kindT(ir.KindUnit), nil
	}
	result, rt, err := g.expr(b.Result, inner)
	if err != nil {
		return nil, anyT, err
	}
	return func(fr *frame) (ir.Value, error) {
		for _, st := range stmts {
			if err := st(fr); err != nil {
				return nil, err
			}
		}
		return result(fr)
	}, rt, nil
}

func (g *generator) stmt(st ir.Stmt, s *scope) (stmt, error) {
	switch x := st.(type) {
	case *ir.Let:
		val, t, err := g.expr(x.Value, s)
		if err != nil {
			return nil, err
		}
		check, err := g.ghostCheck(x.Type, t)
		if err != nil {
			return nil, err
		}
		if x.Mutable && g.widened[x] {
			t = anyT
		}
		slot := g.declare(s, x.Name, t, x.Mutable, x).slot
		return func(fr *frame) error {
			v, err := val(fr)
			if err != nil {
				return err
			}
			if check != nil {
				if err := check(v); err != nil {
					return err
				}
			}
			fr.locals[slot] = v
			return nil
		}, nil
	case *ir.ExprStmt:
		e, _, err := g.expr(x.Expr, s)
		if err != nil {
			return nil, err
		}
		return func(fr *frame) error {
			_, err := e(fr)
			return err
		}, nil
	case *ir.Return:
		val, t, err := g.expr(x.Value, s)
		if err != nil {
			return nil, err
		}
		g.returns = append(g.returns, t)
		return func(fr *frame) error {
			v, err := val(fr)
			if err != nil {
				return err
			}
			fr.ret = v
			return errReturn
		}, nil
	case *ir.For:
		return g.loop(x, s)
	case *ir.Assign:
		l := s.lookup(x.Name)
		if l == nil {
			return nil, fmt.Errorf("assignment to undefined variable %s", x.Name)
		}
		if !l.mutable {
			return nil, fmt.Errorf("assignment to immutable variable %s", x.Name)
		}
		val, t, err := g.expr(x.Value, s)
		if err != nil {
			return nil, err
		}
		if t != l.t && l.decl != nil && !g.widened[l.decl] {
			g.widened[l.decl] = true
			g.retry = true
		}
		slot := l.slot
		return func(fr *frame) error {
			v, err := val(fr)
			if err != nil {
				return err
			}
			fr.locals[slot] = v
			return nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported statement %T", st)
}

func (g *generator) loop(x *ir.For, s *scope) (stmt, error) {
	iter, it, err := g.expr(x.Iter, s)
	if err != nil {
		return nil, err
	}
	if it.known() && !it.is(ir.KindList) {
		return nil, fmt.Errorf("for loop over %s", it.kind)
	}
	et := anyT
	if it.is(ir.KindList) {
		et = kindT(it.elem)
	}
	inner := newScope(s)
	slot := g.declare(inner, x.Var, et, false, nil).slot
	var where expr
	if x.Where != nil {
		if where, _, err = g.expr(x.Where, inner); err != nil {
			return nil, err
		}
	}
	var body expr
	if x.Body != nil {
		if body, _, err = g.seq(x.Body, inner); err != nil {
			return nil, err
		}
	}
	return func(fr *frame) error {
		v, err := iter(fr)
		if err != nil {
			return err
		}
		list, ok := v.(ir.List)
		if !ok {
			return interp.NewTypeError("For loop requires a list, got %s", kindName(v))
		}
		for _, el := range list {
			if err := fr.ctx.Err(); err != nil {
				return err
			}
			fr.locals[slot] = el
			if where != nil {
				w, err := where(fr)
				if err != nil {
					return err
				}
				if !interp.Truthy(w) {
					continue
				}
			}
			if body != nil {
				if _, err := body(fr); err != nil {
					return err
				}
			}
		}
		return nil
	}, nil
}

func constant(v ir.Value) expr {
	return func(*frame) (ir.Value, error) { return v, nil }
}

func (g *generator) exprs(es []ir.Expr, s *scope) ([]expr, []typ, error) {
	codes := make([]expr, len(es))
	types := make([]typ, len(es))
	for i, e := range es {
		c, t, err := g.expr(e, s)
		if err != nil {
			return nil, nil, err
		}
		codes[i], types[i] = c, t
	}
	return codes, types, nil
}

func evalAll(fr *frame, codes []expr) ([]ir.Value, error) {
	out := make([]ir.Value, len(codes))
	for i, c := range codes {
		v, err := c(fr)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (g *generator) expr(e ir.Expr, s *scope) (expr, typ, error) {
	switch x := e.(type) {
	case nil:
		return constant(ir.Unit{}), kindT(ir.KindUnit), nil
	case *ir.Lit:
		v := x.Value
		if v == nil {
			v = ir.Unit{}
		}
		return constant(v), sigT(ir.SigOf(v)), nil
	case *ir.Ident:
		if l := s.lookup(x.Name); l != nil {
			slot := l.slot
			return func(fr *frame) (ir.Value, error) { return fr.locals[slot], nil }, l.t, nil
		}
		if g.c.in.Program().Function(x.Name) != nil || interp.IsBuiltin(x.Name) {
			return constant(&ir.Func{Name: x.Name}), kindT(ir.KindFunc), nil
		}
		return nil, anyT, fmt.Errorf("undefined variable %s", x.Name)
	case *ir.ListLit:
		codes, types, err := g.exprs(x.Elems, s)
		if err != nil {
			return nil, anyT, err
		}
		t := kindT(ir.KindList)
		for i, et := range types {
			if i == 0 {
				t.elem = et.kind
			} else if t.elem != et.kind {
				t.elem = ir.KindAny
			}
		}
		return func(fr *frame) (ir.Value, error) {
			vs, err := evalAll(fr, codes)
			if err != nil {
				return nil, err
			}
			return ir.List(vs), nil
		}, t, nil
	case *ir.RecordLit:
		names := make([]string, len(x.Fields))
		vals := make([]ir.Expr, len(x.Fields))
		for i, f := range x.Fields {
			names[i], vals[i] = f.Name, f.Value
		}
		codes, _, err := g.exprs(vals, s)
		if err != nil {
			return nil, anyT, err
		}
		return func(fr *frame) (ir.Value, error) {
			r := make(ir.Record, len(codes))
			for i, c := range codes {
				v, err := c(fr)
				if err != nil {
					return nil, err
				}
				r[names[i]] = v
			}
			return r, nil
		}, kindT(ir.KindRecord), nil
	case *ir.Binary:
		return g.binary(x, s)
	case *ir.Unary:
		operand, t, err := g.expr(x.Operand, s)
		if err != nil {
			return nil, anyT, err
		}
		op := x.Op
		if op == ir.OpNot {
			return func(fr *frame) (ir.Value, error) {
				v, err := operand(fr)
				if err != nil {
					return nil, err
				}
				return ir.Bool(!interp.Truthy(v)), nil
			}, kindT(ir.KindBool), nil
		}
		if t.known() && !t.kind.Numeric() {
			return nil, anyT, fmt.Errorf("negation of %s", t.kind)
		}
		return func(fr *frame) (ir.Value, error) {
			v, err := operand(fr)
			if err != nil {
				return nil, err
			}
			if n, ok := v.(ir.Int); ok {
				return -n, nil
			}
			return interp.Unary(op, v)
		}, t, nil
	case *ir.Call:
		args, _, err := g.exprs(x.Args, s)
		if err != nil {
			return nil, anyT, err
		}
		return g.call(x.Callee, args, s)
	case *ir.Pipe:
		val, _, err := g.expr(x.Value, s)
		if err != nil {
			return nil, anyT, err
		}
		switch t := x.Target.(type) {
		case *ir.Call:
			rest, _, err := g.exprs(t.Args, s)
			if err != nil {
				return nil, anyT, err
			}
			return g.call(t.Callee, append([]expr{val}, rest...), s)
		case *ir.Ident:
			return g.call(t, []expr{val}, s)
		}
		return nil, anyT, errors.New("right side of pipe must be a function")
	case *ir.Field:
		target, t, err := g.expr(x.Target, s)
		if err != nil {
			return nil, anyT, err
		}
		if t.known() && !t.is(ir.KindRecord) {
			return nil, anyT, fmt.Errorf("field %s of %s", x.Name, t.kind)
		}
		name := x.Name
		return func(fr *frame) (ir.Value, error) {
			v, err := target(fr)
			if err != nil {
				return nil, err
			}
			if r, ok := v.(ir.Record); ok {
				if fv, ok := r[name]; ok {
					return fv, nil
				}
			}
			return interp.FieldOf(v, name)
		}, anyT, nil
	case *ir.Index:
		return g.index(x, s)
	case *ir.If:
		cond, _, err := g.expr(x.Cond, s)
		if err != nil {
			return nil, anyT, err
		}
		then, tt, err := g.expr(x.Then, s)
		if err != nil {
			return nil, anyT, err
		}
		els, et := constant(ir.Unit{}), kindT(ir.KindUnit)
		if x.Else != nil {
			if els, et, err = g.expr(x.Else, s); err != nil {
				return nil, anyT, err
			}
		}
		return func(fr *frame) (ir.Value, error) {
			c, err := cond(fr)
			if err != nil {
				return nil, err
			}
			if b, ok := c.(ir.Bool); ok {
				if b {
					return then(fr)
				}
				return els(fr)
			}
			if interp.Truthy(c) {
				return then(fr)
			}
			return els(fr)
		}, join(tt, et), nil
	case *ir.Match:
		return g.match(x, s)
	case *ir.Block:
		return g.seq(x, s)
	case *ir.Lambda:
		visible := make(map[string]int)
		for cur := s; cur != nil; cur = cur.parent {
			for name, l := range cur.vars {
				if _, shadowed := visible[name]; !shadowed {
					visible[name] = l.slot
				}
			}
		}
		lam := x
		return func(fr *frame) (ir.Value, error) {
			captured := make(map[string]ir.Value, len(visible))
			for name, slot := range visible {
				if v := fr.locals[slot]; v != nil {
					captured[name] = v
				}
			}
			return &ir.Func{Lambda: lam, Captured: captured}, nil
		}, kindT(ir.KindFunc), nil
	case *ir.Claim:
		// Ownership was discharged by the analysis; the value moves as is.
		return g.expr(x.Value, s)
	}
	return nil, anyT, fmt.Errorf("unsupported expression %T", e)
}

func (g *generator) call(callee ir.Expr, args []expr, s *scope) (expr, typ, error) {
	in := g.c.in
	if id, ok := callee.(*ir.Ident); ok && s.lookup(id.Name) == nil {
		name := id.Name
		if target := in.Program().Function(name); target != nil {
			if len(target.Params) != len(args) {
				return nil, anyT, fmt.Errorf("call of %s with %d argument(s), want %d", name, len(args), len(target.Params))
			}
			caller := in.Caller()
			return func(fr *frame) (ir.Value, error) {
				vs, err := evalAll(fr, args)
				if err != nil {
					return nil, err
				}
				return caller.Call(fr.ctx, fr.a, name, vs)
			}, anyT, nil
		}
		if interp.IsBuiltin(name) {
			out := in.Output()
			return func(fr *frame) (ir.Value, error) {
				vs, err := evalAll(fr, args)
				if err != nil {
					return nil, err
				}
				return interp.CallBuiltin(name, out, vs)
			}, builtinType(name), nil
		}
		return nil, anyT, fmt.Errorf("undefined function %s", name)
	}
	target, t, err := g.expr(callee, s)
	if err != nil {
		return nil, anyT, err
	}
	if t.known() && !t.is(ir.KindFunc) {
		return nil, anyT, fmt.Errorf("call of %s", t.kind)
	}
	return func(fr *frame) (ir.Value, error) {
		v, err := target(fr)
		if err != nil {
			return nil, err
		}
		vs, err := evalAll(fr, args)
		if err != nil {
			return nil, err
		}
		f, ok := v.(*ir.Func)
		if !ok {
			return nil, interp.NewTypeError("Cannot call %s", kindName(v))
		}
		return in.Apply(fr.ctx, fr.a, f, vs)
	}, anyT, nil
}

func builtinType(name string) typ {
	switch name {
	case "len":
		return kindT(ir.KindInt)
	case "range":
		return typ{kind: ir.KindList, elem: ir.KindInt}
	case "push":
		return kindT(ir.KindList)
	case "log", "print":
		return kindT(ir.KindUnit)
	}
	return anyT
}

func (g *generator) index(x *ir.Index, s *scope) (expr, typ, error) {
	target, tt, err := g.expr(x.Target, s)
	if err != nil {
		return nil, anyT, err
	}
	idx, it, err := g.expr(x.Index, s)
	if err != nil {
		return nil, anyT, err
	}
	if it.known() && !it.is(ir.KindInt) {
		return nil, anyT, fmt.Errorf("index of kind %s", it.kind)
	}
	rt := anyT
	switch tt.kind {
	case ir.KindList:
		rt = kindT(tt.elem)
	case ir.KindString:
		rt = kindT(ir.KindString)
	case ir.KindAny:
	default:
		return nil, anyT, fmt.Errorf("index into %s", tt.kind)
	}
	return func(fr *frame) (ir.Value, error) {
		tv, err := target(fr)
		if err != nil {
			return nil, err
		}
		iv, err := idx(fr)
		if err != nil {
			return nil, err
		}
		if l, ok := tv.(ir.List); ok {
			if i, ok := iv.(ir.Int); ok && i >= 0 && int64(i) < int64(len(l)) {
				return l[i], nil
			}
		}
		return interp.Index(tv, iv)
	}, rt, nil
}

func (g *generator) match(x *ir.Match, s *scope) (expr, typ, error) {
	subject, st, err := g.expr(x.Subject, s)
	if err != nil {
		return nil, anyT, err
	}
	type arm struct {
		pattern ir.Pattern
		slot    int
		body    expr
	}
	arms := make([]arm, len(x.Arms))
	var rt typ
	for i, a := range x.Arms {
		armScope := s
		slot := -1
		if bp, ok := a.Pattern.(*ir.BindPattern); ok {
			armScope = newScope(s)
			slot = g.declare(armScope, bp.Name, st, false, nil).slot
		}
		body, bt, err := g.expr(a.Body, armScope)
		if err != nil {
			return nil, anyT, err
		}
		if i == 0 {
			rt = bt
		} else {
			rt = join(rt, bt)
		}
		arms[i] = arm{pattern: a.Pattern, slot: slot, body: body}
	}
	if len(arms) == 0 {
		rt = anyT
	}
	return func(fr *frame) (ir.Value, error) {
		v, err := subject(fr)
		if err != nil {
			return nil, err
		}
		for _, a := range arms {
			if _, ok := interp.MatchPattern(a.pattern, v); !ok {
				continue
			}
			if a.slot >= 0 {
				fr.locals[a.slot] = v
			}
			return a.body(fr)
		}
		return nil, &interp.RuntimeError{
			Code:    interp.ErrCodeNoMatch,
			Message: fmt.Sprintf("No match arm matched value %s", ir.Display(v)),
		}
	}, rt, nil
}

func kindName(v ir.Value) string {
	if v == nil {
		return "Unit"
	}
	return v.Kind().TypeName()
}
