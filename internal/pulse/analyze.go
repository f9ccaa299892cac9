package pulse

import (
	"fmt"

	"github.com/roach88/morph/internal/ir"
)

// Report is the outcome of the static ownership analysis of one function.
type Report struct {
	Function   string
	Violations []*Error
	Claims     int
	MaxDepth   int
}

// OK reports whether the function is free of ownership violations.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

// Err returns the first violation, or nil.
func (r *Report) Err() error {
	if len(r.Violations) == 0 {
		return nil
	}
	return r.Violations[0]
}

// Analyze proves, without running the function, that every value it
// produces is reclaimed only after its last use.
//
// Depths are relative to the function's entry zone (depth 0); the caller's
// zone is depth -1. The rules mirror the interpreter:
//   - literals, operators, calls and lambdas produce values at the current depth
//   - a block opens depth d+1; its result must not be owned at d+1
//   - claim requires a value owned at the current depth and yields d-1
//   - return requires a value owned at depth 0 or shallower
//   - assignment requires a value no deeper than the variable's zone
//   - branches (if, match arms, the right side of && and ||, loop bodies)
//     are analyzed from the same starting state and joined at their deepest
//     depth; a binding whose owner differs between branches cannot be claimed
//
// Identifiers that are not local bindings resolve to depth -1 (functions and
// captured snapshots live outside the body's zones).
func Analyze(fn *ir.Function) *Report {
	an := &analyzer{report: &Report{Function: fn.Name}}
	root := newScope(nil)
	for _, p := range fn.Params {
		root.vars[p.Name] = &binding{declDepth: 0, valDepth: 0}
	}
	if fn.Body != nil {
		an.stmts(fn.Body, 0, root, fn.Name)
	}
	return an.report
}

type binding struct {
	declDepth int
	valDepth  int
	// mixed is set when the owning zone depends on the path taken.
	mixed bool
}

type bindingState struct {
	valDepth int
	mixed    bool
}

type scope struct {
	vars   map[string]*binding
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(map[string]*binding), parent: parent}
}

func (s *scope) lookup(name string) *binding {
	for cur := s; cur != nil; cur = cur.parent {
		if b, ok := cur.vars[name]; ok {
			return b
		}
	}
	return nil
}

// snapshot records the state of every binding visible from s.
func (s *scope) snapshot() map[*binding]bindingState {
	snap := make(map[*binding]bindingState)
	for cur := s; cur != nil; cur = cur.parent {
		for _, b := range cur.vars {
			snap[b] = bindingState{valDepth: b.valDepth, mixed: b.mixed}
		}
	}
	return snap
}

func restore(snap map[*binding]bindingState) {
	for b, st := range snap {
		b.valDepth, b.mixed = st.valDepth, st.mixed
	}
}

// branches analyzes each path from the same state and joins the results.
// Bindings end at the deepest depth any path leaves them at.
func branches(s *scope, paths ...func()) {
	before := s.snapshot()
	after := make([]map[*binding]bindingState, 0, len(paths))
	for _, path := range paths {
		restore(before)
		path()
		after = append(after, s.snapshot())
	}
	for b := range before {
		joined := after[0][b]
		for _, st := range after[1:] {
			if st[b].valDepth != joined.valDepth {
				joined.mixed = true
			}
			joined.valDepth = max(joined.valDepth, st[b].valDepth)
			joined.mixed = joined.mixed || st[b].mixed
		}
		b.valDepth, b.mixed = joined.valDepth, joined.mixed
	}
}

func skip() {}

type analyzer struct {
	report *Report
}

func (an *analyzer) violate(code ErrorCode, path, format string, args ...any) {
	an.report.Violations = append(an.report.Violations, staticError(code, path, fmt.Sprintf(format, args...)))
}

func (an *analyzer) enter(d int) {
	if d > an.report.MaxDepth {
		an.report.MaxDepth = d
	}
}

// stmts analyzes a block's statements at depth d in a fresh scope and
// returns the depth of its result, or noValue when it has none.
func (an *analyzer) stmts(b *ir.Block, d int, s *scope, path string) int {
	an.enter(d)
	inner := newScope(s)
	for i, st := range b.Stmts {
		an.stmt(st, d, inner, fmt.Sprintf("%s/stmt[%d]", path, i))
	}
	if b.Result == nil {
		return noValue
	}
	return an.expr(b.Result, d, inner, path+"/result")
}

const noValue = -1 << 30

func (an *analyzer) stmt(st ir.Stmt, d int, s *scope, path string) {
	switch x := st.(type) {
	case *ir.Let:
		v := an.expr(x.Value, d, s, path+"/let "+x.Name)
		s.vars[x.Name] = &binding{declDepth: d, valDepth: v}
	case *ir.ExprStmt:
		an.expr(x.Expr, d, s, path)
	case *ir.Return:
		if x.Value == nil {
			return
		}
		if v := an.expr(x.Value, d, s, path+"/return"); v > 0 {
			an.violate(ErrCodeDanglingPulse, path, "returned value is owned by a zone %d level(s) inside the entry zone", v)
		}
	case *ir.For:
		an.expr(x.Iter, d, s, path+"/in")
		iter := newScope(s)
		iter.vars[x.Var] = &binding{declDepth: d + 1, valDepth: d + 1}
		// The loop may run zero times.
		branches(s, func() {
			if x.Where != nil {
				an.expr(x.Where, d+1, iter, path+"/where")
			}
			if x.Body != nil {
				// The iteration result is dropped before the zone is sealed.
				an.stmts(x.Body, d+1, iter, path+"/body")
			}
		}, skip)
	case *ir.Assign:
		v := an.expr(x.Value, d, s, path+"/set "+x.Name)
		b := s.lookup(x.Name)
		if b == nil {
			return
		}
		if v > b.declDepth {
			an.violate(ErrCodeDanglingPulse, path, "assignment to %q would outlive the zone that owns the value", x.Name)
			return
		}
		b.valDepth, b.mixed = v, false
	}
}

func (an *analyzer) expr(e ir.Expr, d int, s *scope, path string) int {
	switch x := e.(type) {
	case nil:
		return d
	case *ir.Lit:
		return d
	case *ir.Ident:
		if b := s.lookup(x.Name); b != nil {
			return b.valDepth
		}
		return -1
	case *ir.ListLit:
		for i, el := range x.Elems {
			an.expr(el, d, s, fmt.Sprintf("%s/elem[%d]", path, i))
		}
		return d
	case *ir.RecordLit:
		for _, f := range x.Fields {
			an.expr(f.Value, d, s, path+"/field "+f.Name)
		}
		return d
	case *ir.Binary:
		an.expr(x.Left, d, s, path+"/left")
		right := func() { an.expr(x.Right, d, s, path+"/right") }
		if x.Op == ir.OpAnd || x.Op == ir.OpOr {
			branches(s, right, skip)
		} else {
			right()
		}
		return d
	case *ir.Unary:
		an.expr(x.Operand, d, s, path)
		return d
	case *ir.Call:
		an.expr(x.Callee, d, s, path+"/callee")
		for i, arg := range x.Args {
			an.expr(arg, d, s, fmt.Sprintf("%s/arg[%d]", path, i))
		}
		return d
	case *ir.Pipe:
		an.expr(x.Value, d, s, path+"/pipe")
		an.expr(x.Target, d, s, path+"/pipe")
		return d
	case *ir.Field:
		an.expr(x.Target, d, s, path)
		return d
	case *ir.Index:
		an.expr(x.Target, d, s, path)
		an.expr(x.Index, d, s, path+"/index")
		return d
	case *ir.If:
		an.expr(x.Cond, d, s, path+"/cond")
		r := noValue
		then := func() { r = max(r, an.expr(x.Then, d, s, path+"/then")) }
		els := func() {
			if x.Else == nil {
				r = max(r, d)
				return
			}
			r = max(r, an.expr(x.Else, d, s, path+"/else"))
		}
		branches(s, then, els)
		return r
	case *ir.Match:
		subj := an.expr(x.Subject, d, s, path+"/subject")
		// A bound arm name shares the subject's value, so a local subject
		// keeps a single binding across both names.
		var alias *binding
		if id, ok := x.Subject.(*ir.Ident); ok {
			alias = s.lookup(id.Name)
		}
		r := -1
		arms := make([]func(), len(x.Arms))
		for i, arm := range x.Arms {
			arms[i] = func() {
				armScope := newScope(s)
				if bp, ok := arm.Pattern.(*ir.BindPattern); ok {
					b := alias
					if b == nil {
						b = &binding{declDepth: d, valDepth: subj}
					}
					armScope.vars[bp.Name] = b
				}
				r = max(r, an.expr(arm.Body, d, armScope, fmt.Sprintf("%s/arm[%d]", path, i)))
			}
		}
		if len(arms) > 0 {
			branches(s, arms...)
		}
		return r
	case *ir.Block:
		r := an.stmts(x, d+1, s, path+"/block")
		if r == noValue {
			return d
		}
		if r > d {
			an.violate(ErrCodeDanglingPulse, path+"/block", "block result is owned by the zone being sealed; claim it")
			return d
		}
		return r
	case *ir.Lambda:
		body := newScope(nil)
		for _, p := range x.Params {
			body.vars[p.Name] = &binding{declDepth: 0, valDepth: 0}
		}
		sub := &analyzer{report: &Report{}}
		if blk, ok := x.Body.(*ir.Block); ok {
			if r := sub.stmts(blk, 0, body, path+"/lambda"); r > 0 {
				sub.violate(ErrCodeDanglingPulse, path+"/lambda", "lambda result is owned by a nested zone")
			}
		} else {
			sub.expr(x.Body, 0, body, path+"/lambda")
		}
		an.report.Violations = append(an.report.Violations, sub.report.Violations...)
		an.report.Claims += sub.report.Claims
		return d
	case *ir.Claim:
		v := an.expr(x.Value, d, s, path+"/claim")
		an.report.Claims++
		if id, ok := x.Value.(*ir.Ident); ok {
			if b := s.lookup(id.Name); b != nil && b.mixed {
				an.violate(ErrCodeNotDirectParent, path+"/claim",
					"ownership of %q depends on the branch taken; claim it on every path", id.Name)
				return v
			}
		}
		if v != d {
			an.violate(ErrCodeNotDirectParent, path+"/claim",
				"claim of a value owned at depth %d from depth %d", v, d)
			return v
		}
		if id, ok := x.Value.(*ir.Ident); ok {
			if b := s.lookup(id.Name); b != nil {
				b.valDepth = d - 1
			}
		}
		return d - 1
	}
	return d
}
