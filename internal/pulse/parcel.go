package pulse

import (
	"sync/atomic"

	"github.com/roach88/morph/internal/ir"
)

// Parcel carries values detached from one arena to another.
// A parcel is adopted at most once: values move between stacks, they are
// never aliased by two stacks.
type Parcel struct {
	// ID labels the parcel for diagnostics; the caller assigns it.
	ID string

	values   []ir.Value
	consumed atomic.Bool
}

// Len returns the number of values in the parcel.
func (p *Parcel) Len() int { return len(p.values) }

// Consumed reports whether the parcel was adopted.
func (p *Parcel) Consumed() bool { return p.consumed.Load() }

// NewParcel wraps values that do not yet live in any arena.
func NewParcel(id string, values []ir.Value) *Parcel {
	return &Parcel{ID: id, values: append([]ir.Value(nil), values...)}
}

// Detach moves every value owned by an open zone into a parcel. The handles
// go stale in this arena. The zone stays open and empty.
func (a *Arena) Detach(id ZoneID, parcelID string) (*Parcel, error) {
	z, ok := a.zone(id)
	if !ok || z.status == ZoneSealed {
		return nil, NewOwnershipConflictError(id, NoZone, "detach from a sealed zone")
	}
	handles := a.Owned(id)
	p := &Parcel{ID: parcelID, values: make([]ir.Value, len(handles))}
	for i, h := range handles {
		p.values[i] = a.cells[h.Slot].datum
		a.release(h.Slot)
	}
	z.owned = nil
	return p, nil
}

// Adopt moves the parcel's values into an open zone, in parcel order.
func (a *Arena) Adopt(id ZoneID, p *Parcel) ([]Handle, error) {
	if z, ok := a.zone(id); !ok || z.status == ZoneSealed {
		return nil, NewOwnershipConflictError(NoZone, id, "adopt into a sealed zone")
	}
	if !p.consumed.CompareAndSwap(false, true) {
		return nil, NewOwnershipConflictError(NoZone, id, "parcel "+p.ID+" was already adopted")
	}
	handles := make([]Handle, len(p.values))
	for i, v := range p.values {
		h, err := a.Alloc(id, v)
		if err != nil {
			return nil, err
		}
		handles[i] = h
	}
	p.values = nil
	return handles, nil
}
