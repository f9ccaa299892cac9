package compiler

import (
	"fmt"

	"github.com/roach88/morph/internal/interp"
	"github.com/roach88/morph/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrUndefinedName    = "E100" // identifier is not a variable, function or builtin
	ErrUnknownType      = "E101" // type name is not builtin or declared
	ErrDuplicateParam   = "E102" // parameter declared twice
	ErrAssignUndeclared = "E103" // assignment to a name never declared
	ErrAssignImmutable  = "E104" // assignment to a let binding or parameter
	ErrArityMismatch    = "E105" // direct call with the wrong argument count
	ErrInvalidTypeDecl  = "E106" // type declaration with an unusable base
)

// ValidationError represents a static program error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled program for name, type and arity errors.
// Returns all errors found (does not fail-fast), in declaration order.
func Validate(prog *ir.Program) []ValidationError {
	v := &validator{prog: prog}
	for _, name := range prog.TypeOrder {
		v.typeDecl(prog.Types[name])
	}
	for _, name := range prog.Order {
		v.function(prog.Functions[name])
	}
	return v.errs
}

type validator struct {
	prog *ir.Program
	errs []ValidationError
}

func (v *validator) errorf(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) knownType(name string) bool {
	if name == "" {
		return true
	}
	if _, ok := ir.KindByName(name); ok {
		return true
	}
	_, ok := v.prog.Types[name]
	return ok
}

func (v *validator) typeDecl(td *ir.TypeDecl) {
	field := "types." + td.Name
	if _, ok := ir.KindByName(td.Base); !ok {
		v.errorf(field+".base", ErrInvalidTypeDecl, "unknown base type %q", td.Base)
	}
	for i, f := range td.Fields {
		if !v.knownType(f.Type) {
			v.errorf(fmt.Sprintf("%s.fields[%d]", field, i), ErrUnknownType, "field %s has unknown type %q", f.Name, f.Type)
		}
	}
}

// binding is one name in scope.
type binding struct {
	mutable bool
}

type scope struct {
	names  map[string]binding
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{names: make(map[string]binding), parent: parent}
}

func (s *scope) lookup(name string) (binding, bool) {
	for c := s; c != nil; c = c.parent {
		if b, ok := c.names[name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

func (v *validator) function(fn *ir.Function) {
	field := "functions." + fn.Name
	s := newScope(nil)
	v.params(fn.Params, s, field)
	if !v.knownType(fn.Return) {
		v.errorf(field+".returns", ErrUnknownType, "unknown return type %q", fn.Return)
	}
	if fn.Body != nil {
		v.block(fn.Body, s, field+".body")
	}
}

func (v *validator) params(ps []ir.Param, s *scope, field string) {
	for i, p := range ps {
		if _, dup := s.names[p.Name]; dup {
			v.errorf(fmt.Sprintf("%s.params[%d]", field, i), ErrDuplicateParam, "duplicate parameter %q", p.Name)
		}
		if !v.knownType(p.Type) {
			v.errorf(fmt.Sprintf("%s.params[%d]", field, i), ErrUnknownType, "parameter %s has unknown type %q", p.Name, p.Type)
		}
		s.names[p.Name] = binding{}
	}
}

func (v *validator) block(b *ir.Block, parent *scope, field string) {
	s := newScope(parent)
	for i, st := range b.Stmts {
		v.stmt(st, s, fmt.Sprintf("%s.stmts[%d]", field, i))
	}
	if b.Result != nil {
		v.expr(b.Result, s, field+".result")
	}
}

func (v *validator) stmt(st ir.Stmt, s *scope, field string) {
	switch x := st.(type) {
	case *ir.Let:
		v.expr(x.Value, s, field+".value")
		if !v.knownType(x.Type) {
			v.errorf(field+".type", ErrUnknownType, "variable %s has unknown type %q", x.Name, x.Type)
		}
		s.names[x.Name] = binding{mutable: x.Mutable}
	case *ir.ExprStmt:
		v.expr(x.Expr, s, field+".expr")
	case *ir.Return:
		if x.Value != nil {
			v.expr(x.Value, s, field+".return")
		}
	case *ir.For:
		v.expr(x.Iter, s, field+".in")
		inner := newScope(s)
		inner.names[x.Var] = binding{}
		if x.Where != nil {
			v.expr(x.Where, inner, field+".where")
		}
		v.block(x.Body, inner, field+".body")
	case *ir.Assign:
		v.expr(x.Value, s, field+".value")
		b, ok := s.lookup(x.Name)
		switch {
		case !ok:
			v.errorf(field, ErrAssignUndeclared, "assignment to undeclared variable %q", x.Name)
		case !b.mutable:
			v.errorf(field, ErrAssignImmutable, "cannot assign to immutable %q", x.Name)
		}
	}
}

func (v *validator) expr(e ir.Expr, s *scope, field string) {
	switch x := e.(type) {
	case *ir.Lit:
	case *ir.ListLit:
		for i, el := range x.Elems {
			v.expr(el, s, fmt.Sprintf("%s.list[%d]", field, i))
		}
	case *ir.RecordLit:
		for _, f := range x.Fields {
			v.expr(f.Value, s, field+".record."+f.Name)
		}
	case *ir.Ident:
		v.ident(x.Name, s, field)
	case *ir.Binary:
		v.expr(x.Left, s, field+".left")
		v.expr(x.Right, s, field+".right")
	case *ir.Unary:
		v.expr(x.Operand, s, field+".operand")
	case *ir.Call:
		v.call(x.Callee, len(x.Args), s, field)
		for i, a := range x.Args {
			v.expr(a, s, fmt.Sprintf("%s.args[%d]", field, i))
		}
	case *ir.Pipe:
		v.expr(x.Value, s, field+".pipe")
		switch t := x.Target.(type) {
		case *ir.Call:
			v.call(t.Callee, len(t.Args)+1, s, field+".into")
			for i, a := range t.Args {
				v.expr(a, s, fmt.Sprintf("%s.into.args[%d]", field, i))
			}
		default:
			v.call(x.Target, 1, s, field+".into")
		}
	case *ir.Match:
		v.expr(x.Subject, s, field+".match")
		for i, arm := range x.Arms {
			inner := newScope(s)
			if bp, ok := arm.Pattern.(*ir.BindPattern); ok {
				inner.names[bp.Name] = binding{}
			}
			v.expr(arm.Body, inner, fmt.Sprintf("%s.arms[%d].body", field, i))
		}
	case *ir.Block:
		v.block(x, s, field+".block")
	case *ir.If:
		v.expr(x.Cond, s, field+".if")
		v.expr(x.Then, s, field+".then")
		if x.Else != nil {
			v.expr(x.Else, s, field+".else")
		}
	case *ir.Field:
		v.expr(x.Target, s, field+".of")
	case *ir.Index:
		v.expr(x.Target, s, field+".of")
		v.expr(x.Index, s, field+".index")
	case *ir.Lambda:
		inner := newScope(s)
		v.params(x.Params, inner, field+".lambda")
		v.expr(x.Body, inner, field+".body")
	case *ir.Claim:
		v.expr(x.Value, s, field+".claim")
	}
}

func (v *validator) ident(name string, s *scope, field string) {
	if _, ok := s.lookup(name); ok {
		return
	}
	if v.prog.Function(name) != nil || interp.IsBuiltin(name) {
		return
	}
	v.errorf(field, ErrUndefinedName, "undefined name %q", name)
}

// call checks the callee and, for a direct call to a program function
// not shadowed by a local, the argument count.
func (v *validator) call(callee ir.Expr, argc int, s *scope, field string) {
	id, ok := callee.(*ir.Ident)
	if !ok {
		v.expr(callee, s, field+".call")
		return
	}
	if _, local := s.lookup(id.Name); local {
		return
	}
	if fn := v.prog.Function(id.Name); fn != nil {
		if len(fn.Params) != argc {
			v.errorf(field, ErrArityMismatch, "%s expects %d arguments, got %d", id.Name, len(fn.Params), argc)
		}
		return
	}
	if !interp.IsBuiltin(id.Name) {
		v.errorf(field+".call", ErrUndefinedName, "undefined function %q", id.Name)
	}
}
