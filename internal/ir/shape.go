package ir

import (
	"fmt"
	"slices"
	"strings"
)

// TypeSig is the structural signature of one value.
// Elem is set for lists; Fields (sorted by name) for records.
type TypeSig struct {
	Kind   Kind
	Elem   *TypeSig
	Fields []FieldSig
}

// FieldSig is one field of a record signature.
type FieldSig struct {
	Name string
	Sig  TypeSig
}

// Shape is the ordered tuple of argument signatures of a call.
type Shape []TypeSig

var anySig = TypeSig{Kind: KindAny}

// Sig constructs a scalar signature.
func Sig(k Kind) TypeSig {
	return TypeSig{Kind: k}
}

// ListOf constructs a list signature.
func ListOf(elem TypeSig) TypeSig {
	e := elem
	return TypeSig{Kind: KindList, Elem: &e}
}

// SigOf computes the signature of a value. Empty and heterogeneous lists get
// element signature any.
func SigOf(v Value) TypeSig {
	switch x := v.(type) {
	case List:
		if len(x) == 0 {
			return ListOf(anySig)
		}
		first := SigOf(x[0])
		for _, e := range x[1:] {
			if !first.Equal(SigOf(e)) {
				return ListOf(anySig)
			}
		}
		return ListOf(first)
	case Record:
		keys := x.SortedKeys()
		fields := make([]FieldSig, len(keys))
		for i, k := range keys {
			fields[i] = FieldSig{Name: k, Sig: SigOf(x[k])}
		}
		return TypeSig{Kind: KindRecord, Fields: fields}
	case nil:
		return anySig
	default:
		return TypeSig{Kind: v.Kind()}
	}
}

// ShapeOf computes the shape of an argument tuple.
func ShapeOf(args []Value) Shape {
	s := make(Shape, len(args))
	for i, a := range args {
		s[i] = SigOf(a)
	}
	return s
}

// Equal compares two signatures structurally.
func (s TypeSig) Equal(o TypeSig) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case KindList:
		if s.Elem == nil || o.Elem == nil {
			return s.Elem == o.Elem
		}
		return s.Elem.Equal(*o.Elem)
	case KindRecord:
		return slices.EqualFunc(s.Fields, o.Fields, func(a, b FieldSig) bool {
			return a.Name == b.Name && a.Sig.Equal(b.Sig)
		})
	}
	return true
}

// Concrete reports whether the signature contains no any.
func (s TypeSig) Concrete() bool {
	switch s.Kind {
	case KindAny:
		return false
	case KindList:
		return s.Elem != nil && s.Elem.Concrete()
	case KindRecord:
		for _, f := range s.Fields {
			if !f.Sig.Concrete() {
				return false
			}
		}
	}
	return true
}

// Matches reports whether v has exactly this signature without allocating.
func (s TypeSig) Matches(v Value) bool {
	switch s.Kind {
	case KindList:
		l, ok := v.(List)
		if !ok || s.Elem == nil {
			return false
		}
		if s.Elem.Kind == KindAny {
			return SigOf(l).Equal(s)
		}
		if len(l) == 0 {
			return false
		}
		for _, e := range l {
			if !s.Elem.Matches(e) {
				return false
			}
		}
		return true
	case KindRecord:
		r, ok := v.(Record)
		if !ok || len(r) != len(s.Fields) {
			return false
		}
		for _, f := range s.Fields {
			fv, ok := r[f.Name]
			if !ok || !f.Sig.Matches(fv) {
				return false
			}
		}
		return true
	case KindAny:
		return false
	}
	return v != nil && v.Kind() == s.Kind
}

// String renders the canonical spelling: i64, list<f64>, {a:i64,b:str}.
func (s TypeSig) String() string {
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s TypeSig) write(b *strings.Builder) {
	switch s.Kind {
	case KindList:
		b.WriteString("list<")
		if s.Elem != nil {
			s.Elem.write(b)
		} else {
			b.WriteString("any")
		}
		b.WriteByte('>')
	case KindRecord:
		b.WriteByte('{')
		for i, f := range s.Fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(f.Name)
			b.WriteByte(':')
			f.Sig.write(b)
		}
		b.WriteByte('}')
	default:
		b.WriteString(s.Kind.String())
	}
}

// Key returns the canonical key used to compare shapes: (i64,i64).
func (s Shape) Key() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, t := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		t.write(&b)
	}
	b.WriteByte(')')
	return b.String()
}

// String implements fmt.Stringer.
func (s Shape) String() string { return s.Key() }

// Concrete reports whether every argument signature is concrete.
func (s Shape) Concrete() bool {
	for _, t := range s {
		if !t.Concrete() {
			return false
		}
	}
	return true
}

// Equal compares shapes structurally.
func (s Shape) Equal(o Shape) bool {
	return slices.EqualFunc(s, o, TypeSig.Equal)
}

// Matches is the guard check: true iff args have exactly this shape.
func (s Shape) Matches(args []Value) bool {
	if len(args) != len(s) {
		return false
	}
	for i, t := range s {
		if !t.Matches(args[i]) {
			return false
		}
	}
	return true
}

// ParseShape parses the output of Shape.Key.
func ParseShape(key string) (Shape, error) {
	p := &sigParser{src: key}
	if !p.eat('(') {
		return nil, fmt.Errorf("shape %q: expected '('", key)
	}
	shape := Shape{}
	if p.eat(')') {
		return shape, p.end()
	}
	for {
		sig, err := p.sig()
		if err != nil {
			return nil, fmt.Errorf("shape %q: %w", key, err)
		}
		shape = append(shape, sig)
		if p.eat(')') {
			break
		}
		if !p.eat(',') {
			return nil, fmt.Errorf("shape %q: expected ',' at %d", key, p.pos)
		}
	}
	if err := p.end(); err != nil {
		return nil, fmt.Errorf("shape %q: %w", key, err)
	}
	return shape, nil
}

type sigParser struct {
	src string
	pos int
}

func (p *sigParser) eat(c byte) bool {
	if p.pos < len(p.src) && p.src[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *sigParser) end() error {
	if p.pos != len(p.src) {
		return fmt.Errorf("trailing input at %d", p.pos)
	}
	return nil
}

func (p *sigParser) ident() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *sigParser) sig() (TypeSig, error) {
	if p.eat('{') {
		sig := TypeSig{Kind: KindRecord, Fields: []FieldSig{}}
		if p.eat('}') {
			return sig, nil
		}
		for {
			name := p.ident()
			if name == "" || !p.eat(':') {
				return TypeSig{}, fmt.Errorf("bad record field at %d", p.pos)
			}
			fs, err := p.sig()
			if err != nil {
				return TypeSig{}, err
			}
			sig.Fields = append(sig.Fields, FieldSig{Name: name, Sig: fs})
			if p.eat('}') {
				return sig, nil
			}
			if !p.eat(',') {
				return TypeSig{}, fmt.Errorf("expected ',' in record at %d", p.pos)
			}
		}
	}
	name := p.ident()
	if name == "list" {
		if !p.eat('<') {
			return TypeSig{}, fmt.Errorf("expected '<' at %d", p.pos)
		}
		elem, err := p.sig()
		if err != nil {
			return TypeSig{}, err
		}
		if !p.eat('>') {
			return TypeSig{}, fmt.Errorf("expected '>' at %d", p.pos)
		}
		return ListOf(elem), nil
	}
	switch name {
	case "unit", "i64", "f64", "str", "bool", "fn", "any":
		k, _ := KindByName(name)
		return TypeSig{Kind: k}, nil
	}
	return TypeSig{}, fmt.Errorf("unknown type %q at %d", name, p.pos)
}
