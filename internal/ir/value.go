package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Kind is the structural kind of a runtime value.
type Kind uint8

const (
	KindUnit Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindList
	KindRecord
	KindFunc
	// KindAny only appears in shapes: an empty or heterogeneous list element.
	KindAny
)

// String returns the shape spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindInt:
		return "i64"
	case KindFloat:
		return "f64"
	case KindString:
		return "str"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	case KindFunc:
		return "fn"
	case KindAny:
		return "any"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// TypeName returns the user-facing type name used in error messages.
func (k Kind) TypeName() string {
	switch k {
	case KindUnit:
		return "Unit"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindBool:
		return "Bool"
	case KindList:
		return "List"
	case KindRecord:
		return "Record"
	case KindFunc:
		return "Function"
	default:
		return "Any"
	}
}

// Numeric reports whether the kind is i64 or f64.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

// KindByName resolves a builtin type name. Both the source spelling ("Int")
// and the shape spelling ("i64") are accepted.
func KindByName(name string) (Kind, bool) {
	switch name {
	case "Unit", "unit", "()":
		return KindUnit, true
	case "Int", "i64":
		return KindInt, true
	case "Float", "f64":
		return KindFloat, true
	case "String", "str":
		return KindString, true
	case "Bool", "bool":
		return KindBool, true
	case "List", "list":
		return KindList, true
	case "Record", "record":
		return KindRecord, true
	case "Function", "fn":
		return KindFunc, true
	case "Any", "any":
		return KindAny, true
	}
	return KindAny, false
}

// Value is a sealed interface over runtime values.
// Only Unit, Int, Float, Str, Bool, List, Record and Func implement it.
type Value interface {
	Kind() Kind
	value()
}

// Unit is the empty value produced by statements and empty blocks.
type Unit struct{}

// Int is a 64-bit signed integer.
type Int int64

// Float is a 64-bit IEEE float.
type Float float64

// Str is a UTF-8 string.
type Str string

// Bool is a boolean.
type Bool bool

// List is an ordered sequence of values.
type List []Value

// Record maps field names to values. Use SortedKeys() for deterministic iteration.
type Record map[string]Value

// Func is a callable value. Named functions carry only Name; lambdas carry
// the literal and a snapshot of the variables visible where they were created.
type Func struct {
	Name     string
	Lambda   *Lambda
	Captured map[string]Value
}

func (Unit) Kind() Kind   { return KindUnit }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (Str) Kind() Kind    { return KindString }
func (Bool) Kind() Kind   { return KindBool }
func (List) Kind() Kind   { return KindList }
func (Record) Kind() Kind { return KindRecord }
func (*Func) Kind() Kind  { return KindFunc }

func (Unit) value()   {}
func (Int) value()    {}
func (Float) value()  {}
func (Str) value()    {}
func (Bool) value()   {}
func (List) value()   {}
func (Record) value() {}
func (*Func) value()  {}

// SortedKeys returns the record's keys in UTF-16 code unit order.
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	return slices.Compare(ua, ub)
}

// Equal reports structural equality. Kinds are distinct: Int(1) != Float(1).
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Unit:
		_, ok := b.(Unit)
		return ok
	case Int:
		y, ok := b.(Int)
		return ok && x == y
	case Float:
		y, ok := b.(Float)
		return ok && x == y
	case Str:
		y, ok := b.(Str)
		return ok && x == y
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Record:
		y, ok := b.(Record)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case *Func:
		y, ok := b.(*Func)
		return ok && x == y
	}
	return false
}

// Display renders a value the way print and log show it.
func Display(v Value) string {
	var b strings.Builder
	display(&b, v, false)
	return b.String()
}

func display(b *strings.Builder, v Value, quoted bool) {
	switch x := v.(type) {
	case Unit:
		b.WriteString("()")
	case Int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case Float:
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 64))
	case Str:
		if quoted {
			b.WriteString(strconv.Quote(string(x)))
		} else {
			b.WriteString(string(x))
		}
	case Bool:
		b.WriteString(strconv.FormatBool(bool(x)))
	case List:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			display(b, e, true)
		}
		b.WriteByte(']')
	case Record:
		b.WriteByte('{')
		for i, k := range x.SortedKeys() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(": ")
			display(b, x[k], true)
		}
		b.WriteByte('}')
	case *Func:
		if x.Name != "" {
			b.WriteString("<fn " + x.Name + ">")
		} else {
			b.WriteString("<lambda>")
		}
	default:
		b.WriteString("<nil>")
	}
}

// FromNative converts a decoded YAML or JSON value into a Value.
// Integers become Int; json.Number values with a fraction or exponent and
// Go floats become Float; nil becomes Unit.
func FromNative(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Unit{}, nil
	case Value:
		return x, nil
	case int:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows i64", x)
		}
		return Int(x), nil
	case float64:
		return Float(x), nil
	case json.Number:
		s := x.String()
		if strings.ContainsAny(s, ".eE") {
			f, err := x.Float64()
			if err != nil {
				return nil, err
			}
			return Float(f), nil
		}
		n, err := x.Int64()
		if err != nil {
			return nil, err
		}
		return Int(n), nil
	case string:
		return Str(x), nil
	case bool:
		return Bool(x), nil
	case []any:
		out := make(List, len(x))
		for i, e := range x {
			ev, err := FromNative(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(Record, len(x))
		for k, e := range x {
			ev, err := FromNative(e)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// ToNative converts a Value into plain Go values for encoders.
func ToNative(v Value) any {
	switch x := v.(type) {
	case Unit:
		return nil
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case Str:
		return string(x)
	case Bool:
		return bool(x)
	case List:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToNative(e)
		}
		return out
	case Record:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = ToNative(e)
		}
		return out
	case *Func:
		return Display(x)
	}
	return nil
}
