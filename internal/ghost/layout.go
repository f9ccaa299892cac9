package ghost

import (
	"fmt"
	"slices"

	"github.com/roach88/morph/internal/ir"
)

// Field is one declared field of a record ghost type.
type Field struct {
	Name string
	Kind ir.Kind
}

// Slot is the physical placement of one field.
type Slot struct {
	Name   string
	Kind   ir.Kind
	Offset int
	Size   int
}

// Layout is the physical representation computed at erasure.
type Layout struct {
	Slots  []Slot
	Size   int
	Align  int
	Packed bool
}

// Offset returns the byte offset of a field.
func (l *Layout) Offset(name string) (int, bool) {
	for _, s := range l.Slots {
		if s.Name == name {
			return s.Offset, true
		}
	}
	return 0, false
}

func kindSize(k ir.Kind) (size, align int) {
	switch k {
	case ir.KindUnit:
		return 0, 1
	case ir.KindBool:
		return 1, 1
	case ir.KindInt, ir.KindFloat, ir.KindFunc, ir.KindRecord:
		return 8, 8
	case ir.KindString:
		return 16, 8
	case ir.KindList:
		return 24, 8
	}
	return 8, 8
}

// computeLayout places fields in declaration order, or in the order given by
// an order directive, with natural alignment unless packed.
func computeLayout(typeName string, fields []Field, tags []Tag) (*Layout, error) {
	packed := false
	minAlign := 1
	order := make([]string, len(fields))
	for i, f := range fields {
		order[i] = f.Name
	}
	for _, t := range tags {
		switch t.Kind {
		case TagPacked:
			packed = t.Packed
		case TagAlign:
			minAlign = t.Align
		case TagOrder:
			order = t.Order
		}
	}
	if len(order) != len(fields) {
		return nil, fmt.Errorf("ghost type %s: order names %d fields, type declares %d", typeName, len(order), len(fields))
	}

	l := &Layout{Slots: make([]Slot, 0, len(fields)), Packed: packed, Align: 1}
	offset := 0
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if seen[name] {
			return nil, fmt.Errorf("ghost type %s: order names field %q twice", typeName, name)
		}
		seen[name] = true
		idx := slices.IndexFunc(fields, func(f Field) bool { return f.Name == name })
		if idx < 0 {
			return nil, fmt.Errorf("ghost type %s: order names unknown field %q", typeName, name)
		}
		size, align := kindSize(fields[idx].Kind)
		if packed {
			align = 1
		}
		offset = alignUp(offset, align)
		l.Slots = append(l.Slots, Slot{Name: name, Kind: fields[idx].Kind, Offset: offset, Size: size})
		offset += size
		l.Align = max(l.Align, align)
	}
	l.Align = max(l.Align, minAlign)
	l.Size = alignUp(offset, l.Align)
	return l, nil
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
