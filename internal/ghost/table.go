package ghost

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/morph/internal/ir"
)

// State is the resolution state of a ghost type.
type State uint8

const (
	StateAnnotated State = iota
	StateErased
)

func (s State) String() string {
	if s == StateErased {
		return "erased"
	}
	return "annotated"
}

// Policy decides what hardening does with a predicate erasure cannot prove.
type Policy uint8

const (
	// PolicyRetain keeps the check in the native form.
	PolicyRetain Policy = iota

	// PolicyRefuse fails hardening instead.
	PolicyRefuse
)

func (p Policy) String() string {
	if p == PolicyRefuse {
		return "refuse"
	}
	return "retain"
}

// ParsePolicy resolves "retain" or "refuse".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "retain", "":
		return PolicyRetain, nil
	case "refuse":
		return PolicyRefuse, nil
	}
	return PolicyRetain, fmt.Errorf("unknown ghost policy %q (want retain or refuse)", s)
}

// Check is a residual predicate that survived erasure. Hardened code runs it
// at the point the ghost type is bound.
type Check struct {
	Type string
	Tag  Tag
}

// Apply runs the check.
func (c Check) Apply(v ir.Value) error {
	return c.Tag.check(c.Type, v)
}

// Resolution is the result of erasing a ghost type for one physical kind.
type Resolution struct {
	Type     string
	Kind     ir.Kind
	Layout   *Layout
	Residual []Check
}

// Check runs every residual predicate against v.
func (r *Resolution) Check(v ir.Value) error {
	for _, c := range r.Residual {
		if err := c.Apply(v); err != nil {
			return err
		}
	}
	return nil
}

// Type is a named type carrying tags that exist only at compile time.
type Type struct {
	Name   string
	Base   ir.Kind
	Fields []Field
	Tags   []Tag

	state    State
	conflict *ConflictError
	erased   map[ir.Kind]*Resolution
}

// Table owns every ghost type of a program. It is safe for concurrent use:
// validation takes a read lock, annotation and erasure a write lock.
type Table struct {
	mu     sync.RWMutex
	types  map[string]*Type
	logger *slog.Logger
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{types: make(map[string]*Type), logger: slog.Default()}
}

// SetLogger replaces the table's logger.
func (t *Table) SetLogger(l *slog.Logger) {
	t.mu.Lock()
	t.logger = l
	t.mu.Unlock()
}

// FromProgram registers every type declaration of a program.
func FromProgram(prog *ir.Program) (*Table, error) {
	t := NewTable()
	for _, name := range prog.TypeOrder {
		if err := t.Register(prog.Types[name]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Register declares a type and annotates it with the tags built from its
// attributes. Attribute keys are case-insensitive; unknown keys are ignored.
func (t *Table) Register(td *ir.TypeDecl) error {
	base, ok := ir.KindByName(td.Base)
	if !ok {
		return fmt.Errorf("ghost type %s: unknown base type %q", td.Name, td.Base)
	}
	fields := make([]Field, len(td.Fields))
	for i, f := range td.Fields {
		k, ok := ir.KindByName(f.Type)
		if !ok {
			t.mu.RLock()
			other, known := t.types[f.Type]
			t.mu.RUnlock()
			if !known {
				return fmt.Errorf("ghost type %s: field %s has unknown type %q", td.Name, f.Name, f.Type)
			}
			k = other.Base
		}
		fields[i] = Field{Name: f.Name, Kind: k}
	}

	t.mu.Lock()
	if _, exists := t.types[td.Name]; exists {
		t.mu.Unlock()
		return fmt.Errorf("ghost type %s: already registered", td.Name)
	}
	t.types[td.Name] = &Type{Name: td.Name, Base: base, Fields: fields}
	t.mu.Unlock()

	for _, attr := range td.Attrs {
		tag, ok, err := tagFromAttr(attr)
		if err != nil {
			return fmt.Errorf("ghost type %s: %w", td.Name, err)
		}
		if !ok {
			t.logger.Debug("ignoring unknown ghost attribute", "type", td.Name, "key", attr.Key)
			continue
		}
		if err := t.Annotate(td.Name, base, tag); err != nil {
			return err
		}
	}
	return nil
}

func tagFromAttr(attr ir.GhostAttr) (Tag, bool, error) {
	switch strings.ToLower(attr.Key) {
	case "regex":
		s, ok := attr.Value.(ir.Str)
		if !ok {
			return Tag{}, false, fmt.Errorf("regex attribute must be a string")
		}
		tag, err := Regex(string(s))
		return tag, true, err
	case "min", "max":
		n, ok := numeric(attr.Value)
		if !ok {
			return Tag{}, false, fmt.Errorf("%s attribute must be a number", strings.ToLower(attr.Key))
		}
		if strings.EqualFold(attr.Key, "min") {
			return Min(n), true, nil
		}
		return Max(n), true, nil
	case "packed":
		b, ok := attr.Value.(ir.Bool)
		if !ok {
			return Tag{}, false, fmt.Errorf("packed attribute must be a bool")
		}
		return Packed(bool(b)), true, nil
	case "align":
		n, ok := attr.Value.(ir.Int)
		if !ok {
			return Tag{}, false, fmt.Errorf("align attribute must be an integer")
		}
		tag, err := Align(int(n))
		return tag, true, err
	case "order":
		switch v := attr.Value.(type) {
		case ir.Str:
			parts := strings.Split(string(v), ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return Order(parts...), true, nil
		case ir.List:
			names := make([]string, len(v))
			for i, e := range v {
				s, ok := e.(ir.Str)
				if !ok {
					return Tag{}, false, fmt.Errorf("order attribute must list field names")
				}
				names[i] = string(s)
			}
			return Order(names...), true, nil
		}
		return Tag{}, false, fmt.Errorf("order attribute must be a string or list")
	}
	return Tag{}, false, nil
}

// Annotate adds a tag to a type, creating the type over base if needed.
// A layout directive that contradicts an existing one fails with
// ConflictError and leaves the type unerasable.
func (t *Table) Annotate(name string, base ir.Kind, tag Tag) error {
	if tag.Kind == TagRegex && tag.re == nil {
		compiled, err := Regex(tag.Pattern)
		if err != nil {
			return err
		}
		tag = compiled
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	typ, ok := t.types[name]
	if !ok {
		typ = &Type{Name: name, Base: base}
		t.types[name] = typ
	}
	if typ.Base != base {
		return fmt.Errorf("ghost type %s: base %s does not match %s", name, base, typ.Base)
	}
	if typ.state == StateErased {
		return fmt.Errorf("ghost type %s: %w", name, ErrErased)
	}
	if tag.Kind.Layout() {
		for _, existing := range typ.Tags {
			if existing.Kind.Layout() && conflicts(existing, tag) {
				ce := &ConflictError{
					Type:      name,
					Directive: tag.Kind.String(),
					Existing:  existing.String(),
					Incoming:  tag.String(),
				}
				typ.conflict = ce
				return ce
			}
		}
	}
	typ.Tags = append(typ.Tags, tag)
	return nil
}

// Has reports whether name is a registered ghost type.
func (t *Table) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.types[name]
	return ok
}

// Base returns the base kind of a ghost type.
func (t *Table) Base(name string) (ir.Kind, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	typ, ok := t.types[name]
	if !ok {
		return ir.KindAny, false
	}
	return typ.Base, true
}

// State returns the resolution state of a ghost type.
func (t *Table) State(name string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	typ, ok := t.types[name]
	if !ok {
		return StateAnnotated, false
	}
	return typ.state, true
}

// Tags returns a copy of a type's tags.
func (t *Table) Tags(name string) []Tag {
	t.mu.RLock()
	defer t.mu.RUnlock()
	typ, ok := t.types[name]
	if !ok {
		return []Tag{}
	}
	return slices.Clone(typ.Tags)
}

// Names returns every registered type name, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.types))
	for n := range t.types {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Validate checks v against every predicate of the type.
func (t *Table) Validate(name string, v ir.Value) error {
	t.mu.RLock()
	typ, ok := t.types[name]
	var tags []Tag
	if ok {
		tags = typ.Tags
	}
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("validate %s: %w", name, ErrUnknownType)
	}
	for _, tag := range tags {
		if err := tag.check(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Erase resolves a type for values of kind k. Predicates that hold for every
// value of k are dropped; the rest are returned as Residual checks, never
// dropped silently. Record types get a physical layout. After the first
// erasure the type is immutable.
func (t *Table) Erase(name string, k ir.Kind) (*Resolution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	typ, ok := t.types[name]
	if !ok {
		return nil, fmt.Errorf("erase %s: %w", name, ErrUnknownType)
	}
	if typ.conflict != nil {
		return nil, typ.conflict
	}
	if r, ok := typ.erased[k]; ok {
		return r, nil
	}

	res := &Resolution{Type: name, Kind: k, Residual: []Check{}}
	for _, tag := range typ.Tags {
		if tag.Kind.Layout() {
			continue
		}
		if !tag.provable(k) {
			res.Residual = append(res.Residual, Check{Type: name, Tag: tag})
		}
	}
	if typ.Base == ir.KindRecord && k == ir.KindRecord {
		layout, err := computeLayout(name, typ.Fields, typ.Tags)
		if err != nil {
			return nil, err
		}
		res.Layout = layout
	}

	if typ.erased == nil {
		typ.erased = make(map[ir.Kind]*Resolution)
	}
	typ.erased[k] = res
	typ.state = StateErased
	t.logger.Debug("ghost type erased", "type", name, "kind", k.String(), "residual", len(res.Residual))
	return res, nil
}
