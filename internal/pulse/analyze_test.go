package pulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morph/internal/ir"
)

func ident(name string) *ir.Ident { return &ir.Ident{Name: name} }

func lit(v ir.Value) *ir.Lit { return &ir.Lit{Value: v} }

func claim(e ir.Expr) *ir.Claim { return &ir.Claim{Value: e} }

func fn(body *ir.Block, params ...string) *ir.Function {
	ps := make([]ir.Param, len(params))
	for i, p := range params {
		ps[i] = ir.Param{Name: p}
	}
	return &ir.Function{Name: "f", Params: ps, Body: body}
}

func TestAnalyzeSimpleReturn(t *testing.T) {
	r := Analyze(fn(&ir.Block{
		Result: &ir.Binary{Op: ir.OpAdd, Left: ident("a"), Right: ident("b")},
	}, "a", "b"))
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())
}

// nested builds k blocks around a value, claiming once per level when claims is true.
func nested(k int, claims bool) ir.Expr {
	var inner ir.Expr = &ir.ListLit{Elems: []ir.Expr{lit(ir.Int(1))}}
	for i := 0; i < k; i++ {
		if claims {
			inner = claim(inner)
		}
		inner = &ir.Block{Result: inner}
	}
	return inner
}

func TestAnalyzeThreeLevelsThreeClaims(t *testing.T) {
	r := Analyze(fn(&ir.Block{Stmts: []ir.Stmt{&ir.Return{Value: nested(3, true)}}}))
	require.True(t, r.OK(), "violations: %v", r.Violations)
	assert.Equal(t, 3, r.Claims)
	assert.Equal(t, 3, r.MaxDepth)
}

func TestAnalyzeMissingClaimDangles(t *testing.T) {
	// Innermost level claims, the middle one does not.
	inner := &ir.Block{Result: claim(&ir.ListLit{})}
	middle := &ir.Block{Result: inner}
	outer := &ir.Block{Result: claim(middle)}
	r := Analyze(fn(&ir.Block{Result: outer}))

	require.False(t, r.OK())
	assert.True(t, IsDanglingPulse(r.Err()))
	assert.Contains(t, r.Err().Error(), "f/result/block/result/claim/block")
}

func TestAnalyzeBlockWithoutResultIsUnit(t *testing.T) {
	r := Analyze(fn(&ir.Block{Result: &ir.Block{Stmts: []ir.Stmt{
		&ir.Let{Name: "x", Value: lit(ir.Int(1))},
	}}}))
	assert.True(t, r.OK())
}

func TestAnalyzeClaimSkippingLevel(t *testing.T) {
	// x lives in the entry zone; claiming it from a nested block skips a level.
	body := &ir.Block{
		Stmts: []ir.Stmt{&ir.Let{Name: "x", Value: lit(ir.Int(1))}},
		Result: &ir.Block{
			Result: claim(ident("x")),
		},
	}
	r := Analyze(fn(body))
	require.False(t, r.OK())
	assert.True(t, IsNotDirectParent(r.Err()))
}

func TestAnalyzeClaimParamToCaller(t *testing.T) {
	r := Analyze(fn(&ir.Block{Result: claim(ident("a"))}, "a"))
	assert.True(t, r.OK())
	assert.Equal(t, 1, r.Claims)
}

func TestAnalyzeReturnFromNestedBlock(t *testing.T) {
	body := &ir.Block{Stmts: []ir.Stmt{
		&ir.ExprStmt{Expr: &ir.Block{Stmts: []ir.Stmt{
			&ir.Let{Name: "tmp", Value: lit(ir.Int(1))},
			&ir.Return{Value: ident("tmp")},
		}}},
	}}
	r := Analyze(fn(body))
	require.False(t, r.OK())
	assert.True(t, IsDanglingPulse(r.Err()))

	ok := &ir.Block{Stmts: []ir.Stmt{
		&ir.Let{Name: "keep", Value: lit(ir.Int(2))},
		&ir.ExprStmt{Expr: &ir.Block{Stmts: []ir.Stmt{
			&ir.Return{Value: ident("keep")},
		}}},
	}}
	assert.True(t, Analyze(fn(ok)).OK())
}

func TestAnalyzeAssignmentOutlivingZone(t *testing.T) {
	body := &ir.Block{Stmts: []ir.Stmt{
		&ir.Let{Name: "acc", Value: lit(ir.Int(0)), Mutable: true},
		&ir.For{
			Var:  "x",
			Iter: ident("xs"),
			Body: &ir.Block{Stmts: []ir.Stmt{
				&ir.Assign{Name: "acc", Value: &ir.Binary{Op: ir.OpAdd, Left: ident("acc"), Right: ident("x")}},
			}},
		},
		&ir.Return{Value: ident("acc")},
	}}
	r := Analyze(fn(body, "xs"))
	require.False(t, r.OK())
	assert.True(t, IsDanglingPulse(r.Err()))

	// Claiming the new sum into the function zone makes the loop sound.
	body.Stmts[1].(*ir.For).Body.Stmts[0] = &ir.Assign{
		Name:  "acc",
		Value: claim(&ir.Binary{Op: ir.OpAdd, Left: ident("acc"), Right: ident("x")}),
	}
	assert.True(t, Analyze(fn(body, "xs")).OK())
}

func TestAnalyzeIfTakesDeepestBranch(t *testing.T) {
	body := &ir.Block{Result: &ir.If{
		Cond: ident("c"),
		Then: lit(ir.Int(1)),
		Else: &ir.Block{Result: lit(ir.Int(2))},
	}}
	r := Analyze(fn(body, "c"))
	require.False(t, r.OK())
	assert.True(t, IsDanglingPulse(r.Err()))
}

func TestAnalyzeLambdaBody(t *testing.T) {
	body := &ir.Block{Result: &ir.Lambda{
		Params: []ir.Param{{Name: "y"}},
		Body:   &ir.Block{Result: &ir.Block{Result: lit(ir.Int(1))}},
	}}
	r := Analyze(fn(body))
	require.False(t, r.OK())
	assert.True(t, IsDanglingPulse(r.Err()))
}

// zoned wraps stmts and a result in a block that must hand x back claimed.
func zoned(result ir.Expr, stmts ...ir.Stmt) *ir.Function {
	inner := &ir.Block{
		Stmts:  append([]ir.Stmt{&ir.Let{Name: "x", Value: &ir.ListLit{Elems: []ir.Expr{lit(ir.Int(1))}}}}, stmts...),
		Result: result,
	}
	return fn(&ir.Block{Result: inner}, "c")
}

func TestAnalyzeClaimOnOneIfBranch(t *testing.T) {
	r := Analyze(zoned(ident("x"), &ir.ExprStmt{Expr: &ir.If{
		Cond: ident("c"),
		Then: claim(ident("x")),
		Else: lit(ir.Int(0)),
	}}))
	require.False(t, r.OK())
	assert.True(t, IsDanglingPulse(r.Err()))

	r = Analyze(zoned(ident("x"), &ir.ExprStmt{Expr: &ir.If{
		Cond: ident("c"),
		Then: claim(ident("x")),
	}}))
	require.False(t, r.OK(), "an if without else must count as a path")
	assert.True(t, IsDanglingPulse(r.Err()))

	r = Analyze(zoned(ident("x"), &ir.ExprStmt{Expr: &ir.If{
		Cond: ident("c"),
		Then: claim(ident("x")),
		Else: claim(ident("x")),
	}}))
	assert.True(t, r.OK(), "violations: %v", r.Violations)
}

func TestAnalyzeClaimAfterBranchDependentOwnership(t *testing.T) {
	r := Analyze(zoned(claim(ident("x")), &ir.ExprStmt{Expr: &ir.If{
		Cond: ident("c"),
		Then: claim(ident("x")),
	}}))
	require.False(t, r.OK())
	var perr *Error
	require.ErrorAs(t, r.Err(), &perr)
	assert.Equal(t, ErrCodeNotDirectParent, perr.Code)
	assert.Contains(t, perr.Message, `"x"`)
}

func TestAnalyzeClaimInOneMatchArm(t *testing.T) {
	match := func(first, second ir.Expr) *ir.Function {
		return zoned(ident("x"), &ir.ExprStmt{Expr: &ir.Match{
			Subject: ident("c"),
			Arms: []ir.Arm{
				{Pattern: &ir.LitPattern{Value: ir.Bool(true)}, Body: first},
				{Pattern: &ir.WildcardPattern{}, Body: second},
			},
		}})
	}
	r := Analyze(match(claim(ident("x")), lit(ir.Int(0))))
	require.False(t, r.OK())
	assert.True(t, IsDanglingPulse(r.Err()))

	assert.True(t, Analyze(match(claim(ident("x")), claim(ident("x")))).OK())
}

func TestAnalyzeMatchBindingSharesSubject(t *testing.T) {
	// Claiming the bound name moves the subject too.
	r := Analyze(zoned(ident("x"), &ir.ExprStmt{Expr: &ir.Match{
		Subject: ident("x"),
		Arms:    []ir.Arm{{Pattern: &ir.BindPattern{Name: "y"}, Body: claim(ident("y"))}},
	}}))
	assert.True(t, r.OK(), "violations: %v", r.Violations)

	r = Analyze(zoned(ident("x"), &ir.ExprStmt{Expr: &ir.Match{
		Subject: ident("x"),
		Arms: []ir.Arm{
			{Pattern: &ir.LitPattern{Value: ir.Int(0)}, Body: lit(ir.Int(0))},
			{Pattern: &ir.BindPattern{Name: "y"}, Body: claim(ident("y"))},
		},
	}}))
	require.False(t, r.OK())
	assert.True(t, IsDanglingPulse(r.Err()))
}

func TestAnalyzeClaimOnShortCircuitSide(t *testing.T) {
	for _, op := range []ir.BinOp{ir.OpAnd, ir.OpOr} {
		t.Run(op.String(), func(t *testing.T) {
			r := Analyze(zoned(ident("x"), &ir.ExprStmt{Expr: &ir.Binary{
				Op:    op,
				Left:  ident("c"),
				Right: &ir.Binary{Op: ir.OpEq, Left: claim(ident("x")), Right: lit(ir.Int(0))},
			}}))
			require.False(t, r.OK())
			assert.True(t, IsDanglingPulse(r.Err()))
		})
	}

	// The left side always runs.
	r := Analyze(zoned(ident("x"), &ir.ExprStmt{Expr: &ir.Binary{
		Op:    ir.OpAnd,
		Left:  &ir.Binary{Op: ir.OpEq, Left: claim(ident("x")), Right: lit(ir.Int(0))},
		Right: ident("c"),
	}}))
	assert.True(t, r.OK(), "violations: %v", r.Violations)
}

func TestAnalyzeLoopMayNotRun(t *testing.T) {
	// tmp starts in the outer zone and only moves back in when xs is non-empty.
	body := &ir.Block{Stmts: []ir.Stmt{
		&ir.ExprStmt{Expr: &ir.Block{Stmts: []ir.Stmt{
			&ir.Let{Name: "tmp", Value: claim(&ir.ListLit{}), Mutable: true},
			&ir.For{Var: "x", Iter: ident("xs"), Body: &ir.Block{Stmts: []ir.Stmt{
				&ir.Assign{Name: "tmp", Value: claim(ident("x"))},
			}}},
			&ir.ExprStmt{Expr: claim(ident("tmp"))},
		}}},
	}}
	r := Analyze(fn(body, "xs"))
	require.False(t, r.OK())
	var perr *Error
	require.ErrorAs(t, r.Err(), &perr)
	assert.Equal(t, ErrCodeNotDirectParent, perr.Code)
}
