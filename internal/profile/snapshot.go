package profile

import (
	"fmt"
	"math"

	"github.com/roach88/morph/internal/ir"
)

// Snapshot is the persisted form of a profile. The window is stored oldest
// first, as shape ordinals (1-based, -1 for a non-concrete call).
type Snapshot struct {
	Stage          Stage        `json:"stage"`
	Calls          int64        `json:"calls"`
	Penalty        float64      `json:"penalty"`
	PenaltyResetAt int64        `json:"penalty_reset_at"`
	Shapes         []ShapeCount `json:"shapes"`
	Window         []int32      `json:"window"`
	GateOrdinal    int32        `json:"gate_ordinal,omitempty"`
	GateArmed      bool         `json:"gate_armed,omitempty"`
	GateDipped     bool         `json:"gate_dipped,omitempty"`
}

// Snapshot captures the profile. Concurrent Record calls may or may not be
// included.
func (p *Profile) Snapshot() Snapshot {
	n := p.Calls()
	w := int64(len(p.ring))
	m := min(n, w)
	window := make([]int32, 0, m)
	for i := n - m; i < n; i++ {
		window = append(window, p.ring[i%w].Load())
	}
	s := Snapshot{
		Stage:          p.Stage(),
		Calls:          n,
		Penalty:        p.Penalty(),
		PenaltyResetAt: p.penaltyResetAt.Load(),
		Shapes:         p.Histogram(),
		Window:         window,
	}
	if g := p.gate.Load(); g != nil {
		s.GateArmed = true
		s.GateOrdinal = g.ordinal
		s.GateDipped = g.dipped
	}
	return s
}

// Restore builds a profile from a snapshot. Native forms are never
// persisted, so a snapshot taken in Refine or Solid restores as Observe.
// A window longer than th.Window keeps its newest entries.
func Restore(th Thresholds, s Snapshot) (*Profile, error) {
	p := New(th)
	for i, sc := range s.Shapes {
		shape, err := ir.ParseShape(sc.Key)
		if err != nil {
			return nil, fmt.Errorf("restore shape %d: %w", i, err)
		}
		p.ordinal(shape, sc.FirstSeq)
		p.list()[i].total.Store(sc.Total)
	}

	window := s.Window
	if len(window) > len(p.ring) {
		window = window[len(window)-len(p.ring):]
	}
	w := int64(len(p.ring))
	start := s.Calls - int64(len(window))
	if start < 0 {
		return nil, fmt.Errorf("restore: window of %d exceeds %d calls", len(window), s.Calls)
	}
	list := p.list()
	for j, ord := range window {
		if int(ord) > len(list) || ord < slotNonConcrete {
			return nil, fmt.Errorf("restore: window entry %d names unknown shape %d", j, ord)
		}
		p.ring[(start+int64(j))%w].Store(ord)
		if ord > 0 {
			list[ord-1].window.Add(1)
		}
	}
	p.calls.Store(s.Calls)

	stage := s.Stage
	if stage == StageRefine || stage == StageSolid {
		stage = StageObserve
	}
	p.stage.Store(uint32(stage))

	penalty := s.Penalty
	if penalty <= 0 || penalty > 1 || math.IsNaN(penalty) {
		penalty = 1
	}
	p.penalty.Store(math.Float64bits(penalty))
	p.penaltyResetAt.Store(s.PenaltyResetAt)
	if s.GateArmed {
		p.gate.Store(&retryGate{ordinal: s.GateOrdinal, dipped: s.GateDipped})
	}
	return p, nil
}
