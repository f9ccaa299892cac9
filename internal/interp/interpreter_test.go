package interp

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morph/internal/ghost"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/pulse"
)

func TestArithmetic(t *testing.T) {
	prog := program(t,
		fn("add", []string{"a", "b"}, block(bin(ir.OpAdd, ref("a"), ref("b")))),
		fn("calc", nil, block(bin(ir.OpMul, bin(ir.OpAdd, lit(ir.Int(2)), lit(ir.Int(3))), lit(ir.Int(4))))),
	)
	in := newInterp(prog)

	v, err := run(t, in, "add", ir.Int(2), ir.Int(3))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(5), v)

	v, err = run(t, in, "add", ir.Float(1.5), ir.Int(2))
	require.NoError(t, err)
	assert.Equal(t, ir.Float(3.5), v)

	v, err = run(t, in, "add", ir.Str("ab"), ir.Str("cd"))
	require.NoError(t, err)
	assert.Equal(t, ir.Str("abcd"), v)

	v, err = run(t, in, "calc")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(20), v)

	_, err = run(t, in, "add", ir.Str("a"), ir.Int(1))
	assert.Equal(t, ErrCodeTypeError, CodeOf(err))
}

func TestDivisionByZero(t *testing.T) {
	prog := program(t,
		fn("div", []string{"a", "b"}, block(bin(ir.OpDiv, ref("a"), ref("b")))),
		fn("mod", []string{"a", "b"}, block(bin(ir.OpMod, ref("a"), ref("b")))),
	)
	in := newInterp(prog)

	_, err := run(t, in, "div", ir.Int(1), ir.Int(0))
	assert.Equal(t, ErrCodeDivisionByZero, CodeOf(err))
	_, err = run(t, in, "div", ir.Float(1), ir.Float(0))
	assert.Equal(t, ErrCodeDivisionByZero, CodeOf(err))
	_, err = run(t, in, "mod", ir.Int(1), ir.Int(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Modulo by zero")
	assert.Contains(t, err.Error(), "fn=mod")

	v, err := run(t, in, "div", ir.Int(7), ir.Int(2))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(3), v)
}

func TestArity(t *testing.T) {
	in := newInterp(program(t, fn("id", []string{"x"}, block(ref("x")))))
	_, err := run(t, in, "id")
	assert.Equal(t, ErrCodeArityMismatch, CodeOf(err))

	_, err = run(t, in, "missing")
	assert.Equal(t, ErrCodeUndefinedFunction, CodeOf(err))
}

func TestIfAndMatch(t *testing.T) {
	classify := fn("classify", []string{"n"}, block(&ir.Match{
		Subject: ref("n"),
		Arms: []ir.Arm{
			{Pattern: &ir.LitPattern{Value: ir.Int(0)}, Body: lit(ir.Str("zero"))},
			{Pattern: &ir.RangePattern{Lo: 1, Hi: 9}, Body: lit(ir.Str("small"))},
			{Pattern: &ir.BindPattern{Name: "m"}, Body: bin(ir.OpMul, ref("m"), lit(ir.Int(2)))},
		},
	}))
	strict := fn("strict", []string{"n"}, block(&ir.Match{
		Subject: ref("n"),
		Arms:    []ir.Arm{{Pattern: &ir.LitPattern{Value: ir.Int(1)}, Body: lit(ir.Bool(true))}},
	}))
	sign := fn("sign", []string{"n"}, block(&ir.If{
		Cond: bin(ir.OpLt, ref("n"), lit(ir.Int(0))),
		Then: lit(ir.Int(-1)),
		Else: lit(ir.Int(1)),
	}))
	in := newInterp(program(t, classify, strict, sign))

	for _, tc := range []struct {
		arg  ir.Value
		want ir.Value
	}{
		{ir.Int(0), ir.Str("zero")},
		{ir.Int(5), ir.Str("small")},
		{ir.Int(9), ir.Str("small")},
		{ir.Int(12), ir.Int(24)},
	} {
		v, err := run(t, in, "classify", tc.arg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, v)
	}

	_, err := run(t, in, "strict", ir.Int(2))
	assert.Equal(t, ErrCodeNoMatch, CodeOf(err))

	v, err := run(t, in, "sign", ir.Int(-4))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(-1), v)
}

func TestForLoopWithClaim(t *testing.T) {
	// let mut total = 0; for x in xs where x > 1 { total = claim (total + x) }; total
	sum := fn("sum", []string{"xs"}, block(ref("total"),
		mut("total", lit(ir.Int(0))),
		&ir.For{
			Var:   "x",
			Iter:  ref("xs"),
			Where: bin(ir.OpGt, ref("x"), lit(ir.Int(1))),
			Body:  block(nil, set("total", claim(bin(ir.OpAdd, ref("total"), ref("x"))))),
		},
	))
	in := newInterp(program(t, sum))

	v, err := run(t, in, "sum", ir.List{ir.Int(1), ir.Int(2), ir.Int(3), ir.Int(4)})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(9), v)

	_, err = run(t, in, "sum", ir.Int(3))
	require.Error(t, err)
	assert.Equal(t, ErrCodeTypeError, CodeOf(err))
	assert.Contains(t, err.Error(), "For loop requires a list")
}

func TestAssignWithoutClaimDangles(t *testing.T) {
	leak := fn("leak", []string{"xs"}, block(ref("total"),
		mut("total", lit(ir.Int(0))),
		&ir.For{Var: "x", Iter: ref("xs"), Body: block(nil, set("total", bin(ir.OpAdd, ref("total"), ref("x"))))},
	))
	in := newInterp(program(t, leak))

	_, err := run(t, in, "leak", ir.List{ir.Int(1)})
	assert.True(t, pulse.IsDanglingPulse(err))

	// The static analysis agrees.
	assert.False(t, pulse.Analyze(leak).OK())
}

func TestImmutableAssign(t *testing.T) {
	f := fn("f", nil, block(ref("x"),
		let("x", lit(ir.Int(1))),
		set("x", lit(ir.Int(2))),
	))
	_, err := run(t, newInterp(program(t, f)), "f")
	assert.Equal(t, ErrCodeInvalidOperation, CodeOf(err))
}

func TestBlockResultMustBeClaimed(t *testing.T) {
	bad := fn("bad", nil, block(block(ref("x"), let("x", lit(ir.Int(1))))))
	good := fn("good", nil, block(block(claim(ref("x")), let("x", lit(ir.Int(1))))))
	outer := fn("outer", nil, block(block(ref("y")), let("y", lit(ir.Int(7)))))
	in := newInterp(program(t, bad, good, outer))

	_, err := run(t, in, "bad")
	assert.True(t, pulse.IsDanglingPulse(err))

	v, err := run(t, in, "good")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), v)

	v, err = run(t, in, "outer")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(7), v)
}

func TestClaimFromEntryZoneReachesCaller(t *testing.T) {
	inner := fn("inner", nil, block(claim(lit(ir.Int(3)))))
	outer := fn("outer", nil, block(bin(ir.OpAdd, call("inner"), lit(ir.Int(1)))))
	v, err := run(t, newInterp(program(t, inner, outer)), "outer")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(4), v)
}

func TestEarlyReturn(t *testing.T) {
	// for x in xs { let c = claim x; if x > 10 { return c } }; -1
	f := fn("first_big", []string{"xs"}, block(lit(ir.Int(-1)),
		&ir.For{Var: "x", Iter: ref("xs"), Body: block(nil,
			let("c", claim(ref("x"))),
			do(&ir.If{Cond: bin(ir.OpGt, ref("x"), lit(ir.Int(10))), Then: block(nil, ret(ref("c")))}),
		)},
	))
	// Claiming from the nested block skips a level.
	skip := fn("skip", []string{"xs"}, block(lit(ir.Int(-1)),
		&ir.For{Var: "x", Iter: ref("xs"), Body: block(nil,
			do(block(nil, ret(claim(ref("x"))))),
		)},
	))
	in := newInterp(program(t, f, skip))

	v, err := run(t, in, "first_big", ir.List{ir.Int(1), ir.Int(20), ir.Int(30)})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(20), v)

	v, err = run(t, in, "first_big", ir.List{ir.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(-1), v)

	_, err = run(t, in, "skip", ir.List{ir.Int(1)})
	assert.True(t, pulse.IsNotDirectParent(err))
	assert.False(t, pulse.Analyze(skip).OK())
	assert.True(t, pulse.Analyze(f).OK())
}

func TestRecursion(t *testing.T) {
	fib := fn("fib", []string{"n"}, block(&ir.If{
		Cond: bin(ir.OpLt, ref("n"), lit(ir.Int(2))),
		Then: ref("n"),
		Else: bin(ir.OpAdd,
			call("fib", bin(ir.OpSub, ref("n"), lit(ir.Int(1)))),
			call("fib", bin(ir.OpSub, ref("n"), lit(ir.Int(2))))),
	}))
	in := newInterp(program(t, fib))
	v, err := run(t, in, "fib", ir.Int(15))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(610), v)

	loop := fn("loop", nil, block(call("loop")))
	_, err = run(t, New(program(t, loop), nil, WithMaxDepth(64)), "loop")
	assert.Equal(t, ErrCodeInvalidOperation, CodeOf(err))
}

func TestLambdaCapturesSnapshot(t *testing.T) {
	f := fn("f", nil, block(&ir.Call{Callee: ref("g"), Args: []ir.Expr{lit(ir.Int(2))}},
		mut("k", lit(ir.Int(10))),
		let("g", &ir.Lambda{
			Params: []ir.Param{{Name: "x"}},
			Body:   bin(ir.OpAdd, ref("x"), ref("k")),
		}),
		set("k", lit(ir.Int(100))),
	))
	v, err := run(t, newInterp(program(t, f)), "f")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(12), v)
}

func TestPipe(t *testing.T) {
	double := fn("double", []string{"x"}, block(bin(ir.OpMul, ref("x"), lit(ir.Int(2)))))
	add := fn("add", []string{"a", "b"}, block(bin(ir.OpAdd, ref("a"), ref("b"))))
	f := fn("f", nil, block(&ir.Pipe{
		Value:  &ir.Pipe{Value: lit(ir.Int(3)), Target: ref("double")},
		Target: call("add", lit(ir.Int(1))),
	}))
	bad := fn("bad", nil, block(&ir.Pipe{Value: lit(ir.Int(3)), Target: lit(ir.Int(4))}))
	in := newInterp(program(t, double, add, f, bad))

	v, err := run(t, in, "f")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(7), v)

	_, err = run(t, in, "bad")
	assert.Equal(t, ErrCodeTypeError, CodeOf(err))
}

func TestCollections(t *testing.T) {
	f := fn("f", nil, block(
		bin(ir.OpAdd,
			&ir.Index{Target: ref("xs"), Index: lit(ir.Int(1))},
			&ir.Field{Target: ref("r"), Name: "n"}),
		let("xs", &ir.ListLit{Elems: []ir.Expr{lit(ir.Int(1)), lit(ir.Int(2))}}),
		let("r", &ir.RecordLit{Fields: []ir.FieldInit{{Name: "n", Value: lit(ir.Int(40))}}}),
	))
	oob := fn("oob", nil, block(&ir.Index{Target: &ir.ListLit{}, Index: lit(ir.Int(0))}))
	missing := fn("missing", nil, block(&ir.Field{Target: &ir.RecordLit{}, Name: "x"}))
	in := newInterp(program(t, f, oob, missing))

	v, err := run(t, in, "f")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(42), v)

	_, err = run(t, in, "oob")
	assert.Equal(t, ErrCodeIndexOutOfBounds, CodeOf(err))

	_, err = run(t, in, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Field 'x' not found")
}

func TestBuiltinsWriteOutput(t *testing.T) {
	var out bytes.Buffer
	f := fn("f", nil, block(call("len", call("range", lit(ir.Int(5)))),
		do(call("log", lit(ir.Str("hello")), lit(ir.Int(1)))),
		do(call("print", lit(ir.Str("no newline")))),
	))
	v, err := run(t, newInterp(program(t, f), WithOutput(&out)), "f")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(5), v)
	assert.Equal(t, "hello 1\nno newline", out.String())
}

func TestGhostValidationInDraft(t *testing.T) {
	table := ghost.NewTable()
	require.NoError(t, table.Annotate("Email", ir.KindString, ghost.MustRegex(`^[^@]+@[^@]+\.[^@]+$`)))

	send := &ir.Function{
		Name:   "send",
		Params: []ir.Param{{Name: "to", Type: "Email"}},
		Body:   block(lit(ir.Bool(true))),
	}
	in := New(program(t, send), table)

	v, err := run(t, in, "send", ir.Str("a@b.io"))
	require.NoError(t, err)
	assert.Equal(t, ir.Bool(true), v)

	_, err = run(t, in, "send", ir.Str("not-an-email"))
	require.Error(t, err)
	assert.True(t, ghost.IsValidationError(err))
	assert.False(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), "does not match pattern")
}

func TestContextCancelled(t *testing.T) {
	in := newInterp(program(t, fn("f", nil, block(lit(ir.Int(1))))))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := in.Call(ctx, pulse.NewArena(), "f", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoValuesLeakAcrossCalls(t *testing.T) {
	f := fn("f", []string{"xs"}, block(ref("n"),
		mut("n", lit(ir.Int(0))),
		&ir.For{Var: "x", Iter: ref("xs"), Body: block(nil, set("n", claim(bin(ir.OpAdd, ref("n"), lit(ir.Int(1))))))},
	))
	in := newInterp(program(t, f))
	a := pulse.NewArena()
	for i := 0; i < 3; i++ {
		_, err := in.Call(context.Background(), a, "f", []ir.Value{ir.List{ir.Int(1), ir.Int(2)}})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, a.Live(), "values are reclaimed with their zones")
}
