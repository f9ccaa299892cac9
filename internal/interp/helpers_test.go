package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/morph/internal/ghost"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/pulse"
)

func lit(v ir.Value) ir.Expr                { return &ir.Lit{Value: v} }
func ref(name string) ir.Expr               { return &ir.Ident{Name: name} }
func claim(e ir.Expr) ir.Expr               { return &ir.Claim{Value: e} }
func bin(op ir.BinOp, l, r ir.Expr) ir.Expr { return &ir.Binary{Op: op, Left: l, Right: r} }

func call(name string, args ...ir.Expr) ir.Expr {
	return &ir.Call{Callee: ref(name), Args: args}
}

func let(name string, v ir.Expr) ir.Stmt { return &ir.Let{Name: name, Value: v} }
func mut(name string, v ir.Expr) ir.Stmt { return &ir.Let{Name: name, Value: v, Mutable: true} }
func set(name string, v ir.Expr) ir.Stmt { return &ir.Assign{Name: name, Value: v} }
func do(e ir.Expr) ir.Stmt               { return &ir.ExprStmt{Expr: e} }
func ret(e ir.Expr) ir.Stmt              { return &ir.Return{Value: e} }
func block(result ir.Expr, stmts ...ir.Stmt) *ir.Block {
	return &ir.Block{Stmts: stmts, Result: result}
}

func fn(name string, params []string, body *ir.Block) *ir.Function {
	ps := make([]ir.Param, len(params))
	for i, p := range params {
		ps[i] = ir.Param{Name: p}
	}
	return &ir.Function{Name: name, Params: ps, Body: body}
}

func program(t *testing.T, fns ...*ir.Function) *ir.Program {
	t.Helper()
	prog := ir.NewProgram()
	for _, f := range fns {
		require.NoError(t, prog.AddFunction(f))
	}
	return prog
}

// run interprets name on a fresh arena and checks that the arena is left
// with only its root zone open.
func run(t *testing.T, in *Interpreter, name string, args ...ir.Value) (ir.Value, error) {
	t.Helper()
	a := pulse.NewArena()
	v, err := in.Call(context.Background(), a, name, args)
	require.Equal(t, 0, a.Depth(), "every zone is sealed after the call")
	return v, err
}

func newInterp(prog *ir.Program, opts ...Option) *Interpreter {
	return New(prog, ghost.NewTable(), opts...)
}
