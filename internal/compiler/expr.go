package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/morph/internal/ir"
)

// exprHeads are the keys that name an expression node. An expression
// struct carries exactly one of them.
var exprHeads = []string{
	"lit", "ref", "bin", "un", "call", "pipe", "if", "block",
	"claim", "field", "index", "lambda", "match", "list", "record",
}

var stmtHeads = []string{"let", "var", "expr", "return", "for", "assign"}

// lookup finds a field by its literal name. CUE keywords such as if and
// for are valid labels but not valid path expressions.
func lookup(v cue.Value, key string) cue.Value {
	return v.LookupPath(cue.MakePath(cue.Str(key)))
}

func head(v cue.Value, heads []string, field string) (string, error) {
	var found []string
	for _, h := range heads {
		if lookup(v, h).Exists() {
			found = append(found, h)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", &CompileError{
			Field:   field,
			Message: "expected one of " + strings.Join(heads, ", "),
			Pos:     v.Pos(),
		}
	}
	return "", &CompileError{
		Field:   field,
		Message: "ambiguous node: " + strings.Join(found, " and "),
		Pos:     v.Pos(),
	}
}

func requireExpr(v cue.Value, key, field string) (ir.Expr, error) {
	sub := lookup(v, key)
	if !sub.Exists() {
		return nil, &CompileError{Field: field + "." + key, Message: key + " is required", Pos: v.Pos()}
	}
	return parseExpr(sub, field+"."+key)
}

func optionalExpr(v cue.Value, key, field string) (ir.Expr, error) {
	sub := lookup(v, key)
	if !sub.Exists() || sub.IsNull() {
		return nil, nil
	}
	return parseExpr(sub, field+"."+key)
}

func parseExprList(v cue.Value, field string) ([]ir.Expr, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of expressions", Pos: v.Pos()}
	}
	out := []ir.Expr{}
	for i := 0; iter.Next(); i++ {
		e, err := parseExpr(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func stringField(v cue.Value, field string) (string, error) {
	s, err := v.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: "must be a string", Pos: v.Pos()}
	}
	return s, nil
}

// parseExpr parses one expression. Bare numbers, bools and null are
// literals; strings must be spelled {lit: "..."} or {ref: "..."}.
func parseExpr(v cue.Value, field string) (ir.Expr, error) {
	switch v.Kind() {
	case cue.IntKind, cue.FloatKind, cue.BoolKind, cue.NullKind:
		val, err := constValue(v, field)
		if err != nil {
			return nil, err
		}
		return &ir.Lit{Value: val}, nil
	case cue.StructKind:
	default:
		return nil, &CompileError{Field: field, Message: fmt.Sprintf("expression must be a struct, got %v", v.Kind()), Pos: v.Pos()}
	}

	h, err := head(v, exprHeads, field)
	if err != nil {
		return nil, err
	}
	hv := lookup(v, h)
	hf := field + "." + h

	switch h {
	case "lit":
		val, err := constValue(hv, hf)
		if err != nil {
			return nil, err
		}
		return &ir.Lit{Value: val}, nil

	case "ref":
		name, err := stringField(hv, hf)
		if err != nil {
			return nil, err
		}
		return &ir.Ident{Name: name}, nil

	case "bin":
		spelling, err := stringField(hv, hf)
		if err != nil {
			return nil, err
		}
		op, err := ir.ParseBinOp(spelling)
		if err != nil {
			return nil, &CompileError{Field: hf, Message: err.Error(), Pos: hv.Pos()}
		}
		left, err := requireExpr(v, "left", field)
		if err != nil {
			return nil, err
		}
		right, err := requireExpr(v, "right", field)
		if err != nil {
			return nil, err
		}
		return &ir.Binary{Op: op, Left: left, Right: right}, nil

	case "un":
		spelling, err := stringField(hv, hf)
		if err != nil {
			return nil, err
		}
		op, err := ir.ParseUnOp(spelling)
		if err != nil {
			return nil, &CompileError{Field: hf, Message: err.Error(), Pos: hv.Pos()}
		}
		operand, err := requireExpr(v, "operand", field)
		if err != nil {
			return nil, err
		}
		return &ir.Unary{Op: op, Operand: operand}, nil

	case "call":
		callee, err := parseCallee(hv, hf)
		if err != nil {
			return nil, err
		}
		args := []ir.Expr{}
		if av := lookup(v, "args"); av.Exists() {
			args, err = parseExprList(av, field+".args")
			if err != nil {
				return nil, err
			}
		}
		return &ir.Call{Callee: callee, Args: args}, nil

	case "pipe":
		value, err := parseExpr(hv, hf)
		if err != nil {
			return nil, err
		}
		target, err := requireExpr(v, "into", field)
		if err != nil {
			return nil, err
		}
		switch target.(type) {
		case *ir.Call, *ir.Ident:
		default:
			return nil, &CompileError{Field: field + ".into", Message: "pipe target must be a call or a reference", Pos: v.Pos()}
		}
		return &ir.Pipe{Value: value, Target: target}, nil

	case "if":
		cond, err := parseExpr(hv, hf)
		if err != nil {
			return nil, err
		}
		then, err := requireExpr(v, "then", field)
		if err != nil {
			return nil, err
		}
		els, err := optionalExpr(v, "else", field)
		if err != nil {
			return nil, err
		}
		return &ir.If{Cond: cond, Then: then, Else: els}, nil

	case "block":
		return parseBlock(hv, hf)

	case "claim":
		value, err := parseExpr(hv, hf)
		if err != nil {
			return nil, err
		}
		return &ir.Claim{Value: value}, nil

	case "field":
		name, err := stringField(hv, hf)
		if err != nil {
			return nil, err
		}
		target, err := requireExpr(v, "of", field)
		if err != nil {
			return nil, err
		}
		return &ir.Field{Target: target, Name: name}, nil

	case "index":
		index, err := parseExpr(hv, hf)
		if err != nil {
			return nil, err
		}
		target, err := requireExpr(v, "of", field)
		if err != nil {
			return nil, err
		}
		return &ir.Index{Target: target, Index: index}, nil

	case "lambda":
		params, err := parseParams(hv, hf)
		if err != nil {
			return nil, err
		}
		body, err := requireExpr(v, "body", field)
		if err != nil {
			return nil, err
		}
		return &ir.Lambda{Params: params, Body: body}, nil

	case "match":
		subject, err := parseExpr(hv, hf)
		if err != nil {
			return nil, err
		}
		arms, err := parseArms(lookup(v, "arms"), field+".arms")
		if err != nil {
			return nil, err
		}
		return &ir.Match{Subject: subject, Arms: arms}, nil

	case "list":
		elems, err := parseExprList(hv, hf)
		if err != nil {
			return nil, err
		}
		return &ir.ListLit{Elems: elems}, nil

	case "record":
		iter, err := hv.Fields()
		if err != nil {
			return nil, &CompileError{Field: hf, Message: "must be a struct of field expressions", Pos: hv.Pos()}
		}
		rec := &ir.RecordLit{}
		for iter.Next() {
			e, err := parseExpr(iter.Value(), hf+"."+iter.Label())
			if err != nil {
				return nil, err
			}
			rec.Fields = append(rec.Fields, ir.FieldInit{Name: iter.Label(), Value: e})
		}
		return rec, nil
	}
	return nil, &CompileError{Field: hf, Message: "unhandled expression " + h, Pos: v.Pos()}
}

// parseCallee accepts a function name or an expression yielding a function.
func parseCallee(v cue.Value, field string) (ir.Expr, error) {
	if s, err := v.String(); err == nil {
		return &ir.Ident{Name: s}, nil
	}
	return parseExpr(v, field)
}

func parseArms(v cue.Value, field string) ([]ir.Arm, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: field, Message: "arms is required", Pos: v.Pos()}
	}
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of {pattern, body}", Pos: v.Pos()}
	}
	arms := []ir.Arm{}
	for i := 0; iter.Next(); i++ {
		av := iter.Value()
		sub := fmt.Sprintf("%s[%d]", field, i)
		pv := lookup(av, "pattern")
		if !pv.Exists() {
			return nil, &CompileError{Field: sub + ".pattern", Message: "pattern is required", Pos: av.Pos()}
		}
		pat, err := parsePattern(pv, sub+".pattern")
		if err != nil {
			return nil, err
		}
		body, err := requireExpr(av, "body", sub)
		if err != nil {
			return nil, err
		}
		arms = append(arms, ir.Arm{Pattern: pat, Body: body})
	}
	if len(arms) == 0 {
		return nil, &CompileError{Field: field, Message: "match needs at least one arm", Pos: v.Pos()}
	}
	return arms, nil
}

// parsePattern parses "_" (wildcard), a bare scalar (literal),
// {lit: v}, {bind: "name"} or {range: [lo, hi]}.
func parsePattern(v cue.Value, field string) (ir.Pattern, error) {
	if s, err := v.String(); err == nil && s == "_" {
		return &ir.WildcardPattern{}, nil
	}
	if v.Kind() != cue.StructKind {
		val, err := constValue(v, field)
		if err != nil {
			return nil, err
		}
		return &ir.LitPattern{Value: val}, nil
	}
	h, err := head(v, []string{"lit", "bind", "range"}, field)
	if err != nil {
		return nil, err
	}
	hv := lookup(v, h)
	hf := field + "." + h
	switch h {
	case "lit":
		val, err := constValue(hv, hf)
		if err != nil {
			return nil, err
		}
		return &ir.LitPattern{Value: val}, nil
	case "bind":
		name, err := stringField(hv, hf)
		if err != nil {
			return nil, err
		}
		return &ir.BindPattern{Name: name}, nil
	}
	bounds, err := constValue(hv, hf)
	if err != nil {
		return nil, err
	}
	pair, ok := bounds.(ir.List)
	if ok && len(pair) == 2 {
		lo, lok := pair[0].(ir.Int)
		hi, hok := pair[1].(ir.Int)
		if lok && hok {
			if lo > hi {
				return nil, &CompileError{Field: hf, Message: fmt.Sprintf("empty range %d..%d", lo, hi), Pos: hv.Pos()}
			}
			return &ir.RangePattern{Lo: int64(lo), Hi: int64(hi)}, nil
		}
	}
	return nil, &CompileError{Field: hf, Message: "range must be [lo, hi] integers", Pos: hv.Pos()}
}

// parseBlock parses {stmts: [...], result: expr}. Both are optional.
func parseBlock(v cue.Value, field string) (*ir.Block, error) {
	if v.Kind() != cue.StructKind {
		return nil, &CompileError{Field: field, Message: "block must be a struct of stmts and result", Pos: v.Pos()}
	}
	b := &ir.Block{}
	if sv := lookup(v, "stmts"); sv.Exists() {
		iter, err := sv.List()
		if err != nil {
			return nil, &CompileError{Field: field + ".stmts", Message: "must be a list of statements", Pos: sv.Pos()}
		}
		for i := 0; iter.Next(); i++ {
			st, err := parseStmt(iter.Value(), fmt.Sprintf("%s.stmts[%d]", field, i))
			if err != nil {
				return nil, err
			}
			b.Stmts = append(b.Stmts, st)
		}
	}
	result, err := optionalExpr(v, "result", field)
	if err != nil {
		return nil, err
	}
	b.Result = result
	return b, nil
}

func parseStmt(v cue.Value, field string) (ir.Stmt, error) {
	if v.Kind() != cue.StructKind {
		return nil, &CompileError{Field: field, Message: "statement must be a struct", Pos: v.Pos()}
	}
	h, err := head(v, stmtHeads, field)
	if err != nil {
		return nil, err
	}
	hv := lookup(v, h)
	hf := field + "." + h

	switch h {
	case "let", "var":
		name, err := stringField(hv, hf)
		if err != nil {
			return nil, err
		}
		value, err := requireExpr(v, "value", field)
		if err != nil {
			return nil, err
		}
		st := &ir.Let{Name: name, Value: value, Mutable: h == "var"}
		if tv := lookup(v, "type"); tv.Exists() {
			if st.Type, err = stringField(tv, field+".type"); err != nil {
				return nil, err
			}
		}
		return st, nil

	case "expr":
		e, err := parseExpr(hv, hf)
		if err != nil {
			return nil, err
		}
		return &ir.ExprStmt{Expr: e}, nil

	case "return":
		if hv.IsNull() {
			return &ir.Return{}, nil
		}
		e, err := parseExpr(hv, hf)
		if err != nil {
			return nil, err
		}
		return &ir.Return{Value: e}, nil

	case "for":
		name, err := stringField(hv, hf)
		if err != nil {
			return nil, err
		}
		iter, err := requireExpr(v, "in", field)
		if err != nil {
			return nil, err
		}
		where, err := optionalExpr(v, "where", field)
		if err != nil {
			return nil, err
		}
		bv := lookup(v, "body")
		if !bv.Exists() {
			return nil, &CompileError{Field: field + ".body", Message: "body is required", Pos: v.Pos()}
		}
		body, err := parseBlock(bv, field+".body")
		if err != nil {
			return nil, err
		}
		return &ir.For{Var: name, Iter: iter, Where: where, Body: body}, nil

	case "assign":
		name, err := stringField(hv, hf)
		if err != nil {
			return nil, err
		}
		value, err := requireExpr(v, "value", field)
		if err != nil {
			return nil, err
		}
		return &ir.Assign{Name: name, Value: value}, nil
	}
	return nil, &CompileError{Field: hf, Message: "unhandled statement " + h, Pos: v.Pos()}
}
