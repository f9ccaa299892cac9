package profile

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/roach88/morph/internal/ir"
)

// slotNonConcrete marks a window slot whose call had a non-concrete shape.
// Positive slots are 1-based shape ordinals; zero is an empty slot.
const slotNonConcrete int32 = -1

type shapeStat struct {
	shape    ir.Shape
	key      string
	firstSeq int64
	total    atomic.Int64
	window   atomic.Int64
}

// retryGate blocks re-hardening after a failure until the dominant shape
// changes, or the score drops below S1 and recovers.
type retryGate struct {
	ordinal int32
	dipped  bool
}

// Profile is the per-function stage machine, call counter and shape
// histogram.
//
// Record is lock-free except the first time a shape is seen, when a short
// write lock appends it to the histogram. Promotion decisions read counters
// that concurrent callers may be updating; a slightly stale count only
// shifts promotion by a call or two.
type Profile struct {
	th Thresholds

	calls atomic.Int64
	stage atomic.Uint32

	mu     sync.RWMutex
	index  map[string]int32
	shapes atomic.Pointer[[]*shapeStat]

	ring []atomic.Int32

	penalty        atomic.Uint64
	penaltyResetAt atomic.Int64

	gate atomic.Pointer[retryGate]
}

// New creates a cold profile in Draft.
func New(th Thresholds) *Profile {
	p := &Profile{
		th:    th,
		index: make(map[string]int32),
		ring:  make([]atomic.Int32, th.Window),
	}
	empty := make([]*shapeStat, 0)
	p.shapes.Store(&empty)
	p.penalty.Store(math.Float64bits(1))
	return p
}

// Thresholds returns the profile's tuning.
func (p *Profile) Thresholds() Thresholds { return p.th }

// Stage returns the current stage.
func (p *Profile) Stage() Stage { return Stage(p.stage.Load()) }

// Calls returns the total number of recorded calls.
func (p *Profile) Calls() int64 { return p.calls.Load() }

// Penalty returns the current deoptimization damping multiplier.
func (p *Profile) Penalty() float64 { return math.Float64frombits(p.penalty.Load()) }

func (p *Profile) list() []*shapeStat { return *p.shapes.Load() }

func (p *Profile) ordinal(shape ir.Shape, seq int64) int32 {
	key := shape.Key()
	p.mu.RLock()
	ord, ok := p.index[key]
	p.mu.RUnlock()
	if ok {
		return ord
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ord, ok := p.index[key]; ok {
		return ord
	}
	cur := p.list()
	next := make([]*shapeStat, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, &shapeStat{shape: shape, key: key, firstSeq: seq})
	p.shapes.Store(&next)
	ord = int32(len(next))
	p.index[key] = ord
	return ord
}

// Record counts one call with the given argument shape and reports the
// stage transition it caused, if any. Non-concrete shapes count toward the
// window but never enter the histogram. seq is the caller's logical clock
// value, used to remember when a shape was first observed.
func (p *Profile) Record(shape ir.Shape, seq int64) Transition {
	ord := slotNonConcrete
	if shape.Concrete() {
		ord = p.ordinal(shape, seq)
	}

	n := p.calls.Add(1)
	slot := (n - 1) % int64(len(p.ring))
	old := p.ring[slot].Swap(ord)
	list := p.list()
	if int(max(old, ord)) > len(list) {
		list = p.list()
	}
	if old > 0 {
		list[old-1].window.Add(-1)
	}
	if ord > 0 {
		list[ord-1].total.Add(1)
		list[ord-1].window.Add(1)
	}

	if at := p.penaltyResetAt.Load(); at > 0 && n >= at && p.penaltyResetAt.CompareAndSwap(at, 0) {
		p.penalty.Store(math.Float64bits(1))
	}

	return p.evaluate(n)
}

func (p *Profile) evaluate(n int64) Transition {
	switch p.Stage() {
	case StageDraft:
		if n >= p.th.T1 && len(p.list()) > 0 {
			if p.stage.CompareAndSwap(uint32(StageDraft), uint32(StageObserve)) {
				key, score := p.dominant()
				return Transition{From: StageDraft, To: StageObserve, Shape: key, Score: score, Calls: n}
			}
		}
	case StageObserve:
		if n < p.th.T2 || n < int64(p.th.Window) {
			return Transition{From: StageObserve, To: StageObserve}
		}
		ord, raw := p.dominantOrdinal()
		if ord == 0 || !p.gateOpen(ord, raw) {
			return Transition{From: StageObserve, To: StageObserve}
		}
		score := raw * p.Penalty()
		if score >= p.th.S1 && p.stage.CompareAndSwap(uint32(StageObserve), uint32(StageRefine)) {
			return Transition{From: StageObserve, To: StageRefine, Shape: p.list()[ord-1].key, Score: score, Calls: n}
		}
	}
	s := p.Stage()
	return Transition{From: s, To: s}
}

// gateOpen updates the retry gate with the latest window and reports
// whether a hardening attempt may start.
func (p *Profile) gateOpen(ord int32, raw float64) bool {
	for {
		g := p.gate.Load()
		if g == nil {
			return true
		}
		var next *retryGate
		switch {
		case ord != g.ordinal:
			next = nil
		case raw < p.th.S1 && !g.dipped:
			next = &retryGate{ordinal: g.ordinal, dipped: true}
		case raw >= p.th.S1 && g.dipped:
			next = nil
		default:
			return false
		}
		if p.gate.CompareAndSwap(g, next) {
			return next == nil
		}
	}
}

// dominantOrdinal returns the most frequent shape in the window and its
// unpenalized score. Ties go to the shape first observed.
func (p *Profile) dominantOrdinal() (int32, float64) {
	n := p.calls.Load()
	den := min(n, int64(len(p.ring)))
	if den == 0 {
		return 0, 0
	}
	var best int32
	var bestCount int64
	for i, s := range p.list() {
		if c := s.window.Load(); c > bestCount {
			best, bestCount = int32(i+1), c
		}
	}
	if best == 0 {
		return 0, 0
	}
	return best, float64(bestCount) / float64(den)
}

func (p *Profile) dominant() (string, float64) {
	ord, raw := p.dominantOrdinal()
	if ord == 0 {
		return "", 0
	}
	return p.list()[ord-1].key, raw * p.Penalty()
}

// StabilityScore returns the penalized share of the window held by the
// dominant shape.
func (p *Profile) StabilityScore() float64 {
	_, score := p.dominant()
	return score
}

// Dominant returns the dominant shape of the window.
func (p *Profile) Dominant() (ir.Shape, bool) {
	ord, _ := p.dominantOrdinal()
	if ord == 0 {
		return nil, false
	}
	return p.list()[ord-1].shape, true
}

// Solidify completes Refine → Solid after a successful hardening.
func (p *Profile) Solidify() (Transition, bool) {
	if !p.stage.CompareAndSwap(uint32(StageRefine), uint32(StageSolid)) {
		return Transition{}, false
	}
	key, score := p.dominant()
	return Transition{From: StageRefine, To: StageSolid, Shape: key, Score: score, Calls: p.Calls()}, true
}

// FailHardening returns Refine → Observe and arms the retry gate on the
// shape that failed.
func (p *Profile) FailHardening(shape ir.Shape) (Transition, bool) {
	if !p.stage.CompareAndSwap(uint32(StageRefine), uint32(StageObserve)) {
		return Transition{}, false
	}
	p.mu.RLock()
	ord := p.index[shape.Key()]
	p.mu.RUnlock()
	p.gate.Store(&retryGate{ordinal: ord})
	key, score := p.dominant()
	return Transition{From: StageRefine, To: StageObserve, Shape: key, Score: score, Calls: p.Calls()}, true
}

// Deoptimize returns Solid → Observe and damps the score until another full
// window of calls has been recorded. Only one concurrent caller wins.
func (p *Profile) Deoptimize() (Transition, bool) {
	if !p.stage.CompareAndSwap(uint32(StageSolid), uint32(StageObserve)) {
		return Transition{}, false
	}
	for {
		old := p.penalty.Load()
		next := math.Float64frombits(old) * p.th.Damping
		if p.penalty.CompareAndSwap(old, math.Float64bits(next)) {
			break
		}
	}
	n := p.Calls()
	p.penaltyResetAt.Store(n + int64(len(p.ring)))
	key, score := p.dominant()
	return Transition{From: StageSolid, To: StageObserve, Shape: key, Score: score, Calls: n}, true
}

// Promote forces a stage for hosts that drive hardening explicitly. It only
// moves Draft or Observe to Refine.
func (p *Profile) Promote() (Transition, bool) {
	for {
		cur := p.Stage()
		if cur != StageDraft && cur != StageObserve {
			return Transition{}, false
		}
		if p.stage.CompareAndSwap(uint32(cur), uint32(StageRefine)) {
			key, score := p.dominant()
			return Transition{From: cur, To: StageRefine, Shape: key, Score: score, Calls: p.Calls()}, true
		}
	}
}

// ShapeCount is one histogram entry.
type ShapeCount struct {
	Key      string `json:"key"`
	Total    int64  `json:"total"`
	Window   int64  `json:"window"`
	FirstSeq int64  `json:"first_seq"`
}

// Histogram returns the histogram in first-observed order.
func (p *Profile) Histogram() []ShapeCount {
	list := p.list()
	out := make([]ShapeCount, len(list))
	for i, s := range list {
		out[i] = ShapeCount{Key: s.key, Total: s.total.Load(), Window: s.window.Load(), FirstSeq: s.firstSeq}
	}
	return out
}
