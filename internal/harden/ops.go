package harden

import (
	"fmt"

	"github.com/roach88/morph/internal/interp"
	"github.com/roach88/morph/internal/ir"
)

// Monomorphic operators. A false result means the fast path does not apply
// (division by zero, for one) and the shared generic operator decides.
var (
	intOps = map[ir.BinOp]func(x, y ir.Int) (ir.Value, bool){
		ir.OpAdd: func(x, y ir.Int) (ir.Value, bool) { return x + y, true },
		ir.OpSub: func(x, y ir.Int) (ir.Value, bool) { return x - y, true },
		ir.OpMul: func(x, y ir.Int) (ir.Value, bool) { return x * y, true },
		ir.OpDiv: func(x, y ir.Int) (ir.Value, bool) {
			if y == 0 {
				return nil, false
			}
			return x / y, true
		},
		ir.OpMod: func(x, y ir.Int) (ir.Value, bool) {
			if y == 0 {
				return nil, false
			}
			return x % y, true
		},
		ir.OpEq: func(x, y ir.Int) (ir.Value, bool) { return ir.Bool(x == y), true },
		ir.OpNe: func(x, y ir.Int) (ir.Value, bool) { return ir.Bool(x != y), true },
		ir.OpLt: func(x, y ir.Int) (ir.Value, bool) { return ir.Bool(x < y), true },
		ir.OpLe: func(x, y ir.Int) (ir.Value, bool) { return ir.Bool(x <= y), true },
		ir.OpGt: func(x, y ir.Int) (ir.Value, bool) { return ir.Bool(x > y), true },
		ir.OpGe: func(x, y ir.Int) (ir.Value, bool) { return ir.Bool(x >= y), true },
	}

	floatOps = map[ir.BinOp]func(x, y ir.Float) (ir.Value, bool){
		ir.OpAdd: func(x, y ir.Float) (ir.Value, bool) { return x + y, true },
		ir.OpSub: func(x, y ir.Float) (ir.Value, bool) { return x - y, true },
		ir.OpMul: func(x, y ir.Float) (ir.Value, bool) { return x * y, true },
		ir.OpDiv: func(x, y ir.Float) (ir.Value, bool) {
			if y == 0 {
				return nil, false
			}
			return x / y, true
		},
		ir.OpEq: func(x, y ir.Float) (ir.Value, bool) { return ir.Bool(x == y), true },
		ir.OpNe: func(x, y ir.Float) (ir.Value, bool) { return ir.Bool(x != y), true },
		// Ordering follows interp.Compare: operands that are neither less
		// nor greater (NaN included) compare equal.
		ir.OpLt: func(x, y ir.Float) (ir.Value, bool) { return ir.Bool(x < y), true },
		ir.OpLe: func(x, y ir.Float) (ir.Value, bool) { return ir.Bool(!(x > y)), true },
		ir.OpGt: func(x, y ir.Float) (ir.Value, bool) { return ir.Bool(x > y), true },
		ir.OpGe: func(x, y ir.Float) (ir.Value, bool) { return ir.Bool(!(x < y)), true },
	}
)

func numOrAny(t typ) bool { return !t.known() || t.kind.Numeric() }

func kindOrAny(t typ, k ir.Kind) bool { return !t.known() || t.is(k) }

// binaryType types op under the operand types. It fails only when the
// operator errors for every pair of values of those kinds.
func binaryType(op ir.BinOp, l, r typ) (typ, bool) {
	unknown := !l.known() || !r.known()
	switch op {
	case ir.OpAdd:
		switch {
		case l.is(ir.KindInt) && r.is(ir.KindInt):
			return kindT(ir.KindInt), true
		case l.known() && r.known() && l.kind.Numeric() && r.kind.Numeric():
			return kindT(ir.KindFloat), true
		case l.is(ir.KindString) && r.is(ir.KindString):
			return kindT(ir.KindString), true
		case l.is(ir.KindList) && r.is(ir.KindList):
			return join(l, r), true
		case unknown:
			other := l
			if !l.known() {
				other = r
			}
			switch other.kind {
			case ir.KindAny, ir.KindInt, ir.KindFloat, ir.KindString, ir.KindList:
				return anyT, true
			}
		}
		return anyT, false
	case ir.OpSub, ir.OpMul, ir.OpDiv:
		if !numOrAny(l) || !numOrAny(r) {
			return anyT, false
		}
		switch {
		case unknown:
			return anyT, true
		case l.is(ir.KindInt) && r.is(ir.KindInt):
			return kindT(ir.KindInt), true
		}
		return kindT(ir.KindFloat), true
	case ir.OpMod:
		return kindT(ir.KindInt), kindOrAny(l, ir.KindInt) && kindOrAny(r, ir.KindInt)
	case ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		ok := (numOrAny(l) && numOrAny(r)) || (kindOrAny(l, ir.KindString) && kindOrAny(r, ir.KindString))
		return kindT(ir.KindBool), ok
	}
	return kindT(ir.KindBool), true
}

func (g *generator) binary(x *ir.Binary, s *scope) (expr, typ, error) {
	left, lt, err := g.expr(x.Left, s)
	if err != nil {
		return nil, anyT, err
	}
	right, rt, err := g.expr(x.Right, s)
	if err != nil {
		return nil, anyT, err
	}
	t, ok := binaryType(x.Op, lt, rt)
	if !ok {
		return nil, anyT, fmt.Errorf("operator %s is ill-typed for %s and %s", x.Op, lt.kind, rt.kind)
	}
	op := x.Op

	switch op {
	case ir.OpAnd:
		return func(fr *frame) (ir.Value, error) {
			l, err := left(fr)
			if err != nil || !interp.Truthy(l) {
				return ir.Bool(false), err
			}
			r, err := right(fr)
			if err != nil {
				return nil, err
			}
			return ir.Bool(interp.Truthy(r)), nil
		}, t, nil
	case ir.OpOr:
		return func(fr *frame) (ir.Value, error) {
			l, err := left(fr)
			if err != nil {
				return nil, err
			}
			if interp.Truthy(l) {
				return ir.Bool(true), nil
			}
			r, err := right(fr)
			if err != nil {
				return nil, err
			}
			return ir.Bool(interp.Truthy(r)), nil
		}, t, nil
	}

	if fast, ok := intOps[op]; ok && lt.is(ir.KindInt) && rt.is(ir.KindInt) {
		return func(fr *frame) (ir.Value, error) {
			l, r, err := operands(fr, left, right)
			if err != nil {
				return nil, err
			}
			if x, ok := l.(ir.Int); ok {
				if y, ok := r.(ir.Int); ok {
					if v, ok := fast(x, y); ok {
						return v, nil
					}
				}
			}
			return interp.Binary(op, l, r)
		}, t, nil
	}
	if fast, ok := floatOps[op]; ok && lt.is(ir.KindFloat) && rt.is(ir.KindFloat) {
		return func(fr *frame) (ir.Value, error) {
			l, r, err := operands(fr, left, right)
			if err != nil {
				return nil, err
			}
			if x, ok := l.(ir.Float); ok {
				if y, ok := r.(ir.Float); ok {
					if v, ok := fast(x, y); ok {
						return v, nil
					}
				}
			}
			return interp.Binary(op, l, r)
		}, t, nil
	}
	if op == ir.OpAdd && lt.is(ir.KindString) && rt.is(ir.KindString) {
		return func(fr *frame) (ir.Value, error) {
			l, r, err := operands(fr, left, right)
			if err != nil {
				return nil, err
			}
			if x, ok := l.(ir.Str); ok {
				if y, ok := r.(ir.Str); ok {
					return x + y, nil
				}
			}
			return interp.Binary(op, l, r)
		}, t, nil
	}
	return func(fr *frame) (ir.Value, error) {
		l, r, err := operands(fr, left, right)
		if err != nil {
			return nil, err
		}
		return interp.Binary(op, l, r)
	}, t, nil
}

func operands(fr *frame, left, right expr) (ir.Value, ir.Value, error) {
	l, err := left(fr)
	if err != nil {
		return nil, nil, err
	}
	r, err := right(fr)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}
