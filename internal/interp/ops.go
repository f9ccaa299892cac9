package interp

import (
	"io"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/roach88/morph/internal/ir"
)

// The operations below define the language's value semantics. The hardened
// form calls them for every case it does not specialize, so both forms agree
// by construction.

// Binary applies a binary operator. And/Or evaluate both sides here; the
// interpreter short-circuits before calling.
func Binary(op ir.BinOp, l, r ir.Value) (ir.Value, error) {
	switch op {
	case ir.OpAdd:
		switch x := l.(type) {
		case ir.Int:
			switch y := r.(type) {
			case ir.Int:
				return x + y, nil
			case ir.Float:
				return ir.Float(x) + y, nil
			}
		case ir.Float:
			switch y := r.(type) {
			case ir.Int:
				return x + ir.Float(y), nil
			case ir.Float:
				return x + y, nil
			}
		case ir.Str:
			if y, ok := r.(ir.Str); ok {
				return x + y, nil
			}
		case ir.List:
			if y, ok := r.(ir.List); ok {
				out := make(ir.List, 0, len(x)+len(y))
				return append(append(out, x...), y...), nil
			}
		}
		return nil, NewTypeError("Cannot add %s and %s", kindName(l), kindName(r))
	case ir.OpSub, ir.OpMul, ir.OpDiv:
		return arith(op, l, r)
	case ir.OpMod:
		x, ok1 := l.(ir.Int)
		y, ok2 := r.(ir.Int)
		if !ok1 || !ok2 {
			return nil, NewTypeError("Cannot apply %% to %s and %s", kindName(l), kindName(r))
		}
		if y == 0 {
			return nil, newError(ErrCodeDivisionByZero, "Modulo by zero")
		}
		return x % y, nil
	case ir.OpEq:
		return ir.Bool(ir.Equal(l, r)), nil
	case ir.OpNe:
		return ir.Bool(!ir.Equal(l, r)), nil
	case ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		c, err := Compare(l, r)
		if err != nil {
			return nil, err
		}
		switch op {
		case ir.OpLt:
			return ir.Bool(c < 0), nil
		case ir.OpLe:
			return ir.Bool(c <= 0), nil
		case ir.OpGt:
			return ir.Bool(c > 0), nil
		}
		return ir.Bool(c >= 0), nil
	case ir.OpAnd:
		return ir.Bool(Truthy(l) && Truthy(r)), nil
	case ir.OpOr:
		return ir.Bool(Truthy(l) || Truthy(r)), nil
	}
	return nil, newError(ErrCodeInvalidOperation, "unknown operator %s", op)
}

func arith(op ir.BinOp, l, r ir.Value) (ir.Value, error) {
	if x, ok := l.(ir.Int); ok {
		if y, ok := r.(ir.Int); ok {
			return IntArith(op, x, y)
		}
	}
	x, ok1 := asFloat(l)
	y, ok2 := asFloat(r)
	if !ok1 || !ok2 {
		return nil, NewTypeError("Cannot apply %s to %s and %s", op, kindName(l), kindName(r))
	}
	return FloatArith(op, x, y)
}

// IntArith applies -, *, / (and +) to two integers.
func IntArith(op ir.BinOp, x, y ir.Int) (ir.Value, error) {
	switch op {
	case ir.OpAdd:
		return x + y, nil
	case ir.OpSub:
		return x - y, nil
	case ir.OpMul:
		return x * y, nil
	case ir.OpDiv:
		if y == 0 {
			return nil, newError(ErrCodeDivisionByZero, "Division by zero")
		}
		return x / y, nil
	}
	return nil, newError(ErrCodeInvalidOperation, "unknown arithmetic operator %s", op)
}

// FloatArith applies -, *, / (and +) to two floats. Division by zero is an
// error, as for integers.
func FloatArith(op ir.BinOp, x, y ir.Float) (ir.Value, error) {
	switch op {
	case ir.OpAdd:
		return x + y, nil
	case ir.OpSub:
		return x - y, nil
	case ir.OpMul:
		return x * y, nil
	case ir.OpDiv:
		if y == 0 {
			return nil, newError(ErrCodeDivisionByZero, "Division by zero")
		}
		return x / y, nil
	}
	return nil, newError(ErrCodeInvalidOperation, "unknown arithmetic operator %s", op)
}

func asFloat(v ir.Value) (ir.Float, bool) {
	switch x := v.(type) {
	case ir.Int:
		return ir.Float(x), true
	case ir.Float:
		return x, true
	}
	return 0, false
}

// Compare orders two numbers (mixed kinds compare as floats) or two strings.
func Compare(l, r ir.Value) (int, error) {
	if x, ok := l.(ir.Int); ok {
		if y, ok := r.(ir.Int); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	}
	if x, ok := asFloat(l); ok {
		if y, ok := asFloat(r); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	}
	if x, ok := l.(ir.Str); ok {
		if y, ok := r.(ir.Str); ok {
			return strings.Compare(string(x), string(y)), nil
		}
	}
	return 0, NewTypeError("Cannot compare %s and %s", kindName(l), kindName(r))
}

// Unary applies a unary operator.
func Unary(op ir.UnOp, v ir.Value) (ir.Value, error) {
	if op == ir.OpNot {
		return ir.Bool(!Truthy(v)), nil
	}
	switch x := v.(type) {
	case ir.Int:
		return -x, nil
	case ir.Float:
		return -x, nil
	}
	return nil, NewTypeError("Cannot negate %s", kindName(v))
}

// Truthy reports the truth value of v: false, zero, empty strings, empty
// collections and Unit are falsy.
func Truthy(v ir.Value) bool {
	switch x := v.(type) {
	case ir.Bool:
		return bool(x)
	case ir.Int:
		return x != 0
	case ir.Float:
		return x != 0
	case ir.Str:
		return x != ""
	case ir.List:
		return len(x) > 0
	case ir.Record:
		return len(x) > 0
	case *ir.Func:
		return true
	}
	return false
}

// Index reads element i of a list or character i of a string.
func Index(target, idx ir.Value) (ir.Value, error) {
	i, ok := idx.(ir.Int)
	if !ok {
		return nil, NewTypeError("Index must be an integer, got %s", kindName(idx))
	}
	switch x := target.(type) {
	case ir.List:
		if i < 0 || int64(i) >= int64(len(x)) {
			return nil, newError(ErrCodeIndexOutOfBounds, "Index %d out of bounds for length %d", i, len(x))
		}
		return x[i], nil
	case ir.Str:
		n := utf8.RuneCountInString(string(x))
		if i < 0 || int64(i) >= int64(n) {
			return nil, newError(ErrCodeIndexOutOfBounds, "Index %d out of bounds for length %d", i, n)
		}
		pos := 0
		for _, r := range string(x) {
			if pos == int(i) {
				return ir.Str(string(r)), nil
			}
			pos++
		}
	}
	return nil, NewTypeError("Cannot index into %s", kindName(target))
}

// FieldOf reads a record field.
func FieldOf(target ir.Value, name string) (ir.Value, error) {
	r, ok := target.(ir.Record)
	if !ok {
		return nil, NewTypeError("Cannot access field '%s' on %s", name, kindName(target))
	}
	v, ok := r[name]
	if !ok {
		return nil, NewTypeError("Field '%s' not found", name)
	}
	return v, nil
}

// MatchPattern tests v against p. For a binding pattern it returns the name
// to bind.
func MatchPattern(p ir.Pattern, v ir.Value) (bind string, ok bool) {
	switch x := p.(type) {
	case *ir.WildcardPattern:
		return "", true
	case *ir.BindPattern:
		return x.Name, true
	case *ir.LitPattern:
		return "", ir.Equal(x.Value, v)
	case *ir.RangePattern:
		n, isInt := v.(ir.Int)
		return "", isInt && int64(n) >= x.Lo && int64(n) <= x.Hi
	}
	return "", false
}

func kindName(v ir.Value) string {
	if v == nil {
		return "Unit"
	}
	return v.Kind().TypeName()
}

// Builtin is a native function available to every program.
type Builtin func(out io.Writer, args []ir.Value) (ir.Value, error)

var builtins = map[string]Builtin{
	"log":   builtinLog,
	"print": builtinPrint,
	"len":   builtinLen,
	"range": builtinRange,
	"push":  builtinPush,
}

// IsBuiltin reports whether name is a builtin function.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// CallBuiltin runs a builtin.
func CallBuiltin(name string, out io.Writer, args []ir.Value) (ir.Value, error) {
	b, ok := builtins[name]
	if !ok {
		return nil, NewUndefinedFunctionError(name)
	}
	return b(out, args)
}

// BuiltinNames returns the builtin names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func writeArgs(out io.Writer, args []ir.Value) {
	for i, a := range args {
		if i > 0 {
			io.WriteString(out, " ")
		}
		io.WriteString(out, ir.Display(a))
	}
}

func builtinLog(out io.Writer, args []ir.Value) (ir.Value, error) {
	writeArgs(out, args)
	io.WriteString(out, "\n")
	return ir.Unit{}, nil
}

func builtinPrint(out io.Writer, args []ir.Value) (ir.Value, error) {
	writeArgs(out, args)
	return ir.Unit{}, nil
}

func builtinLen(_ io.Writer, args []ir.Value) (ir.Value, error) {
	if len(args) != 1 {
		return nil, NewArityError("len", 1, len(args))
	}
	switch x := args[0].(type) {
	case ir.List:
		return ir.Int(len(x)), nil
	case ir.Str:
		return ir.Int(utf8.RuneCountInString(string(x))), nil
	case ir.Record:
		return ir.Int(len(x)), nil
	}
	return nil, NewTypeError("len() requires a list, string or record")
}

func builtinRange(_ io.Writer, args []ir.Value) (ir.Value, error) {
	ints := make([]int64, len(args))
	for i, a := range args {
		n, ok := a.(ir.Int)
		if !ok {
			return nil, NewTypeError("range() requires integers, got %s", kindName(a))
		}
		ints[i] = int64(n)
	}
	var start, end, step int64 = 0, 0, 1
	switch len(ints) {
	case 1:
		end = ints[0]
	case 2:
		start, end = ints[0], ints[1]
	case 3:
		start, end, step = ints[0], ints[1], ints[2]
	default:
		return nil, NewArityError("range", 3, len(args))
	}
	if step <= 0 {
		return nil, newError(ErrCodeInvalidOperation, "range() step must be positive, got %d", step)
	}
	out := ir.List{}
	for i := start; i < end; i += step {
		out = append(out, ir.Int(i))
	}
	return out, nil
}

func builtinPush(_ io.Writer, args []ir.Value) (ir.Value, error) {
	if len(args) != 2 {
		return nil, NewArityError("push", 2, len(args))
	}
	l, ok := args[0].(ir.List)
	if !ok {
		return nil, NewTypeError("push() requires a list, got %s", kindName(args[0]))
	}
	out := make(ir.List, len(l), len(l)+1)
	copy(out, l)
	return append(out, args[1]), nil
}
