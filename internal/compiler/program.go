package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/morph/internal/ir"
)

// CompileProgram parses a CUE value into an ir.Program.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value holds two optional structs, types and functions, whose field
// order is the declaration order:
//
//	types: Email: {base: "String", regex: "^[^@]+@[^@]+$"}
//	functions: add: {
//		params: [{name: "a", type: "Int"}, {name: "b", type: "Int"}]
//		body: result: {bin: "+", left: {ref: "a"}, right: {ref: "b"}}
//	}
func CompileProgram(v cue.Value) (*ir.Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	prog := ir.NewProgram()

	if tv := v.LookupPath(cue.ParsePath("types")); tv.Exists() {
		iter, err := tv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			td, err := parseType(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			if err := prog.AddType(td); err != nil {
				return nil, &CompileError{Field: "types." + td.Name, Message: err.Error(), Pos: iter.Value().Pos()}
			}
		}
	}

	if fv := v.LookupPath(cue.ParsePath("functions")); fv.Exists() {
		iter, err := fv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			fn, err := parseFunction(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			if err := prog.AddFunction(fn); err != nil {
				return nil, &CompileError{Field: "functions." + fn.Name, Message: err.Error(), Pos: iter.Value().Pos()}
			}
		}
	}

	return prog, nil
}

// CompileSource compiles CUE source text. filename is used in positions.
func CompileSource(filename string, src []byte) (*ir.Program, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return CompileProgram(v)
}

// CompileFile reads and compiles a single CUE file.
func CompileFile(path string) (*ir.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	return CompileSource(path, src)
}

// parseType parses one type declaration. base is required; fields is an
// ordered list for record types; every other field is a ghost attribute.
func parseType(name string, v cue.Value) (*ir.TypeDecl, error) {
	field := "types." + name
	td := &ir.TypeDecl{Name: name}

	base, err := requireString(v, "base", field)
	if err != nil {
		return nil, err
	}
	td.Base = base

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		key := iter.Label()
		switch key {
		case "base":
		case "fields":
			fields, err := parseFieldDecls(iter.Value(), field+".fields")
			if err != nil {
				return nil, err
			}
			td.Fields = fields
		default:
			val, err := constValue(iter.Value(), field+"."+key)
			if err != nil {
				return nil, err
			}
			td.Attrs = append(td.Attrs, ir.GhostAttr{Key: key, Value: val})
		}
	}
	return td, nil
}

func parseFieldDecls(v cue.Value, field string) ([]ir.FieldDecl, error) {
	list, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of {name, type}", Pos: v.Pos()}
	}
	var out []ir.FieldDecl
	for i := 0; list.Next(); i++ {
		fv := list.Value()
		sub := fmt.Sprintf("%s[%d]", field, i)
		name, err := requireString(fv, "name", sub)
		if err != nil {
			return nil, err
		}
		typ, err := requireString(fv, "type", sub)
		if err != nil {
			return nil, err
		}
		out = append(out, ir.FieldDecl{Name: name, Type: typ})
	}
	return out, nil
}

func parseFunction(name string, v cue.Value) (*ir.Function, error) {
	field := "functions." + name
	fn := &ir.Function{Name: name}

	if pv := v.LookupPath(cue.ParsePath("params")); pv.Exists() {
		params, err := parseParams(pv, field+".params")
		if err != nil {
			return nil, err
		}
		fn.Params = params
	}

	if rv := v.LookupPath(cue.ParsePath("returns")); rv.Exists() {
		s, err := rv.String()
		if err != nil {
			return nil, &CompileError{Field: field + ".returns", Message: "must be a type name", Pos: rv.Pos()}
		}
		fn.Return = s
	}

	bv := v.LookupPath(cue.ParsePath("body"))
	if !bv.Exists() {
		return nil, &CompileError{Field: field + ".body", Message: "body is required", Pos: v.Pos()}
	}
	body, err := parseBlock(bv, field+".body")
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

// parseParams accepts a list whose elements are either a bare name or
// {name, type}.
func parseParams(v cue.Value, field string) ([]ir.Param, error) {
	list, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list", Pos: v.Pos()}
	}
	params := []ir.Param{}
	for i := 0; list.Next(); i++ {
		pv := list.Value()
		sub := fmt.Sprintf("%s[%d]", field, i)
		if s, err := pv.String(); err == nil {
			params = append(params, ir.Param{Name: s})
			continue
		}
		name, err := requireString(pv, "name", sub)
		if err != nil {
			return nil, err
		}
		p := ir.Param{Name: name}
		if tv := pv.LookupPath(cue.ParsePath("type")); tv.Exists() {
			p.Type, err = tv.String()
			if err != nil {
				return nil, &CompileError{Field: sub + ".type", Message: "must be a type name", Pos: tv.Pos()}
			}
		}
		params = append(params, p)
	}
	return params, nil
}

// constValue converts a concrete CUE value to an ir.Value. Integer
// literals stay Int and decimal literals become Float.
func constValue(v cue.Value, field string) (ir.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Unit{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "integer overflows i64", Pos: v.Pos()}
		}
		return ir.Int(n), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Float(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Str(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := ir.List{}
		for i := 0; iter.Next(); i++ {
			e, err := constValue(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := ir.Record{}
		for iter.Next() {
			e, err := constValue(iter.Value(), field+"."+iter.Label())
			if err != nil {
				return nil, err
			}
			out[iter.Label()] = e
		}
		return out, nil
	}
	return nil, &CompileError{
		Field:   field,
		Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
		Pos:     v.Pos(),
	}
}

func requireString(v cue.Value, key, field string) (string, error) {
	sv := v.LookupPath(cue.MakePath(cue.Str(key)))
	if !sv.Exists() {
		return "", &CompileError{Field: field + "." + key, Message: key + " is required", Pos: v.Pos()}
	}
	s, err := sv.String()
	if err != nil {
		return "", &CompileError{Field: field + "." + key, Message: "must be a string", Pos: sv.Pos()}
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
