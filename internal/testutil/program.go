// Package testutil builds small programs and argument lists for tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/morph/internal/ir"
)

func Lit(v ir.Value) ir.Expr                { return &ir.Lit{Value: v} }
func Ref(name string) ir.Expr               { return &ir.Ident{Name: name} }
func Bin(op ir.BinOp, l, r ir.Expr) ir.Expr { return &ir.Binary{Op: op, Left: l, Right: r} }

// Call calls a function by name.
func Call(name string, args ...ir.Expr) ir.Expr {
	return &ir.Call{Callee: Ref(name), Args: args}
}

// Params declares untyped parameters.
func Params(names ...string) []ir.Param {
	ps := make([]ir.Param, len(names))
	for i, n := range names {
		ps[i] = ir.Param{Name: n}
	}
	return ps
}

// Shapes used across scenarios.
var (
	IntPair   = ir.Shape{ir.Sig(ir.KindInt), ir.Sig(ir.KindInt)}
	FloatPair = ir.Shape{ir.Sig(ir.KindFloat), ir.Sig(ir.KindFloat)}
)

// Add is add(a, b) = a + b.
func Add() *ir.Function {
	return &ir.Function{Name: "add", Params: Params("a", "b"), Body: &ir.Block{Result: Bin(ir.OpAdd, Ref("a"), Ref("b"))}}
}

// Twice is twice(x) = add(x, x).
func Twice() *ir.Function {
	return &ir.Function{Name: "twice", Params: Params("x"), Body: &ir.Block{Result: Call("add", Ref("x"), Ref("x"))}}
}

// SumSquares sums i*i for i in range(n), claiming each partial sum out of
// the loop body zone.
func SumSquares() *ir.Function {
	return &ir.Function{
		Name:   "sum_squares",
		Params: Params("n"),
		Body: &ir.Block{
			Stmts: []ir.Stmt{
				&ir.Let{Name: "total", Value: Lit(ir.Int(0)), Mutable: true},
				&ir.For{
					Var:  "i",
					Iter: Call("range", Ref("n")),
					Body: &ir.Block{Stmts: []ir.Stmt{
						&ir.Assign{Name: "total", Value: &ir.Claim{
							Value: Bin(ir.OpAdd, Ref("total"), Bin(ir.OpMul, Ref("i"), Ref("i"))),
						}},
					}},
				},
			},
			Result: Ref("total"),
		},
	}
}

// EmailPattern is the regex of the Email ghost type.
const EmailPattern = `^[^@\s]+@[^@\s]+\.[a-z]+$`

// EmailType declares Email as a String refined by EmailPattern.
func EmailType() *ir.TypeDecl {
	return &ir.TypeDecl{
		Name:  "Email",
		Base:  "String",
		Attrs: []ir.GhostAttr{{Key: "regex", Value: ir.Str(EmailPattern)}},
	}
}

// Domain is domain(e: Email) = len(e), a function whose only check is the
// ghost regex.
func Domain() *ir.Function {
	return &ir.Function{
		Name:   "domain",
		Params: []ir.Param{{Name: "e", Type: "Email"}},
		Body:   &ir.Block{Result: Call("len", Ref("e"))},
	}
}

// Program assembles functions into a program and fails the test on
// duplicate names.
func Program(t testing.TB, fns ...*ir.Function) *ir.Program {
	t.Helper()
	prog := ir.NewProgram()
	for _, f := range fns {
		require.NoError(t, prog.AddFunction(f))
	}
	return prog
}

// WithTypes adds type declarations to prog.
func WithTypes(t testing.TB, prog *ir.Program, types ...*ir.TypeDecl) *ir.Program {
	t.Helper()
	for _, td := range types {
		require.NoError(t, prog.AddType(td))
	}
	return prog
}

// IntArgs returns the argument list (i, i+1).
func IntArgs(i int) []ir.Value {
	return []ir.Value{ir.Int(i), ir.Int(i + 1)}
}

// FloatArgs returns the argument list (i+0.5, i+1.5).
func FloatArgs(i int) []ir.Value {
	return []ir.Value{ir.Float(float64(i) + 0.5), ir.Float(float64(i) + 1.5)}
}
