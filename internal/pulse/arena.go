package pulse

import (
	"fmt"

	"github.com/roach88/morph/internal/ir"
)

// ZoneID identifies a zone within one arena. IDs are never reused until Reset.
type ZoneID uint32

const (
	// NoZone is the zero ZoneID; it never names a zone.
	NoZone ZoneID = 0

	// RootZone is the arena's outermost zone. It is never sealed.
	RootZone ZoneID = 1
)

// ZoneStatus is the lifecycle state of a zone.
type ZoneStatus uint8

const (
	ZoneOpen ZoneStatus = iota
	ZoneSealed
)

func (s ZoneStatus) String() string {
	if s == ZoneSealed {
		return "sealed"
	}
	return "open"
}

// Handle addresses a value in an arena. A handle goes stale when the value is
// reclaimed or moved out; Gen detects reuse of the slot.
type Handle struct {
	Slot uint32
	Gen  uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.Slot, h.Gen)
}

type cell struct {
	datum   ir.Value
	owner   ZoneID
	gen     uint32
	live    bool
	claimed bool
}

type ownedRef struct {
	slot uint32
	gen  uint32
}

type zoneRec struct {
	parent ZoneID
	depth  int
	status ZoneStatus
	owned  []ownedRef
}

// Arena is the working memory of one logical call stack.
//
// Zones form a strict stack: Open pushes a child of the innermost open zone
// and Seal pops it, reclaiming every value the zone still owns. Claim moves a
// value from its zone to that zone's direct parent by rewriting the owner
// recorded in the value's cell, so it is O(1).
//
// An Arena is not safe for concurrent use. Values cross stacks only through
// Detach and Adopt.
type Arena struct {
	cells []cell
	free  []uint32
	zones []zoneRec // zones[id-1]
	stack []ZoneID
	live  int
}

// NewArena creates an arena with an open root zone.
func NewArena() *Arena {
	a := &Arena{}
	a.Reset()
	return a
}

// Reset discards every zone and value and reopens the root zone.
// Handles and zone ids from before Reset must not be used again.
func (a *Arena) Reset() {
	for i := range a.cells {
		a.cells[i] = cell{}
	}
	a.cells = a.cells[:0]
	a.free = a.free[:0]
	a.zones = append(a.zones[:0], zoneRec{parent: NoZone, depth: 0, status: ZoneOpen})
	a.stack = append(a.stack[:0], RootZone)
	a.live = 0
}

// Root returns the root zone.
func (a *Arena) Root() ZoneID { return RootZone }

// Top returns the innermost open zone.
func (a *Arena) Top() ZoneID { return a.stack[len(a.stack)-1] }

// Depth returns the number of open zones above the root.
func (a *Arena) Depth() int { return len(a.stack) - 1 }

// Live returns the number of live values.
func (a *Arena) Live() int { return a.live }

func (a *Arena) zone(id ZoneID) (*zoneRec, bool) {
	if id == NoZone || int(id) > len(a.zones) {
		return nil, false
	}
	return &a.zones[id-1], true
}

// Status reports the status of a zone.
func (a *Arena) Status(id ZoneID) (ZoneStatus, bool) {
	z, ok := a.zone(id)
	if !ok {
		return ZoneSealed, false
	}
	return z.status, true
}

// Parent returns the parent of a zone. The root has no parent.
func (a *Arena) Parent(id ZoneID) (ZoneID, bool) {
	z, ok := a.zone(id)
	if !ok || z.parent == NoZone {
		return NoZone, false
	}
	return z.parent, true
}

// ZoneDepth returns the nesting depth of a zone; the root is 0.
func (a *Arena) ZoneDepth(id ZoneID) int {
	z, ok := a.zone(id)
	if !ok {
		return -1
	}
	return z.depth
}

// Open creates a child of parent. Parent must be open and innermost.
func (a *Arena) Open(parent ZoneID) (ZoneID, error) {
	p, ok := a.zone(parent)
	if !ok {
		return NoZone, NewInvalidParentError(parent, "unknown parent zone")
	}
	if p.status == ZoneSealed {
		return NoZone, NewInvalidParentError(parent, "parent zone is sealed")
	}
	if parent != a.Top() {
		return NoZone, NewInvalidParentError(parent, "parent zone is not the innermost open zone")
	}
	a.zones = append(a.zones, zoneRec{parent: parent, depth: p.depth + 1, status: ZoneOpen})
	id := ZoneID(len(a.zones))
	a.stack = append(a.stack, id)
	return id, nil
}

// Seal closes a zone and reclaims the values it still owns. It returns the
// number of values reclaimed.
func (a *Arena) Seal(id ZoneID) (int, error) {
	z, ok := a.zone(id)
	if !ok {
		return 0, NewZoneNestingError(id, "unknown zone")
	}
	if z.status == ZoneSealed {
		return 0, NewZoneNestingError(id, "zone already sealed")
	}
	if id == RootZone {
		return 0, NewZoneNestingError(id, "root zone cannot be sealed")
	}
	if id != a.Top() {
		return 0, NewZoneNestingError(id, "zone has an open descendant")
	}
	n := 0
	for _, ref := range z.owned {
		c := &a.cells[ref.slot]
		if c.live && c.gen == ref.gen && c.owner == id {
			a.release(ref.slot)
			n++
		}
	}
	z.owned = nil
	z.status = ZoneSealed
	a.stack = a.stack[:len(a.stack)-1]
	return n, nil
}

// Unwind seals zones from the innermost outward, through and including id.
// It is the error-path counterpart of Seal.
func (a *Arena) Unwind(id ZoneID) error {
	z, ok := a.zone(id)
	if !ok || z.status == ZoneSealed {
		return NewZoneNestingError(id, "cannot unwind a sealed zone")
	}
	for {
		top := a.Top()
		if _, err := a.Seal(top); err != nil {
			return err
		}
		if top == id {
			return nil
		}
	}
}

func (a *Arena) release(slot uint32) {
	c := &a.cells[slot]
	c.datum = nil
	c.live = false
	c.claimed = false
	c.owner = NoZone
	c.gen++
	a.free = append(a.free, slot)
	a.live--
}

// Alloc stores v in an open zone.
func (a *Arena) Alloc(id ZoneID, v ir.Value) (Handle, error) {
	z, ok := a.zone(id)
	if !ok || z.status == ZoneSealed {
		return Handle{}, NewOwnershipConflictError(id, NoZone, "allocation into a sealed zone")
	}
	var slot uint32
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.cells = append(a.cells, cell{gen: 1})
		slot = uint32(len(a.cells) - 1)
	}
	c := &a.cells[slot]
	c.datum = v
	c.owner = id
	c.live = true
	c.claimed = false
	z.owned = append(z.owned, ownedRef{slot: slot, gen: c.gen})
	a.live++
	return Handle{Slot: slot, Gen: c.gen}, nil
}

func (a *Arena) cell(h Handle) (*cell, error) {
	if int(h.Slot) >= len(a.cells) {
		return nil, NewDanglingPulseError(NoZone, fmt.Sprintf("handle %s does not address a value", h))
	}
	c := &a.cells[h.Slot]
	if !c.live || c.gen != h.Gen {
		return nil, NewDanglingPulseError(NoZone, fmt.Sprintf("handle %s refers to a reclaimed value", h))
	}
	return c, nil
}

// Get returns the value behind h, or DanglingPulse if it was reclaimed.
func (a *Arena) Get(h Handle) (ir.Value, error) {
	c, err := a.cell(h)
	if err != nil {
		return nil, err
	}
	return c.datum, nil
}

// Value returns the value behind h without checking liveness.
// Only code whose ownership was proven statically may use it.
func (a *Arena) Value(h Handle) ir.Value {
	return a.cells[h.Slot].datum
}

// Owner returns the zone that currently owns h.
func (a *Arena) Owner(h Handle) (ZoneID, error) {
	c, err := a.cell(h)
	if err != nil {
		return NoZone, err
	}
	return c.owner, nil
}

// Claimed reports whether h has been claimed at least once.
func (a *Arena) Claimed(h Handle) bool {
	c, err := a.cell(h)
	return err == nil && c.claimed
}

// Claim moves h to target, which must be the open direct parent of h's
// current owner.
func (a *Arena) Claim(h Handle, target ZoneID) error {
	c, err := a.cell(h)
	if err != nil {
		return err
	}
	t, ok := a.zone(target)
	if !ok || t.status == ZoneSealed {
		return NewOwnershipConflictError(c.owner, target, "claim target is sealed")
	}
	src, _ := a.zone(c.owner)
	if src.parent != target {
		return NewNotDirectParentError(c.owner, target)
	}
	c.owner = target
	c.claimed = true
	t.owned = append(t.owned, ownedRef{slot: h.Slot, gen: h.Gen})
	return nil
}

// Owned returns the live handles owned by a zone in ownership order.
func (a *Arena) Owned(id ZoneID) []Handle {
	z, ok := a.zone(id)
	if !ok {
		return []Handle{}
	}
	out := make([]Handle, 0, len(z.owned))
	for _, ref := range z.owned {
		c := &a.cells[ref.slot]
		if c.live && c.gen == ref.gen && c.owner == id {
			out = append(out, Handle{Slot: ref.slot, Gen: ref.gen})
		}
	}
	return out
}
