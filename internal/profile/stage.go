package profile

import (
	"errors"
	"fmt"
	"strings"
)

// Stage is a function's position in the morphing pipeline.
type Stage uint32

const (
	// StageDraft interprets every call.
	StageDraft Stage = iota

	// StageObserve interprets and profiles shapes.
	StageObserve

	// StageRefine runs ownership and ghost analysis against the dominant shape.
	StageRefine

	// StageSolid executes the hardened native form behind a shape guard.
	StageSolid
)

func (s Stage) String() string {
	switch s {
	case StageDraft:
		return "draft"
	case StageObserve:
		return "observe"
	case StageRefine:
		return "refine"
	case StageSolid:
		return "solid"
	}
	return fmt.Sprintf("stage(%d)", uint32(s))
}

// ParseStage resolves a stage name (case-insensitive).
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(s) {
	case "draft":
		return StageDraft, nil
	case "observe":
		return StageObserve, nil
	case "refine":
		return StageRefine, nil
	case "solid":
		return StageSolid, nil
	}
	return StageDraft, fmt.Errorf("unknown stage %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(b []byte) error {
	st, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Thresholds tune promotion. Only the ordering T1 < T2 and the
// observe-refine-solid sequencing are load-bearing; the numbers are defaults.
type Thresholds struct {
	// T1 is the call count that moves Draft to Observe.
	T1 int64 `yaml:"t1" toml:"t1" json:"t1"`

	// T2 is the call count from which Observe may move to Refine.
	T2 int64 `yaml:"t2" toml:"t2" json:"t2"`

	// S1 is the minimum stability score for Refine.
	S1 float64 `yaml:"s1" toml:"s1" json:"s1"`

	// Window is the number of most recent calls the score is computed over.
	Window int `yaml:"window" toml:"window" json:"window"`

	// Damping multiplies the score after a deoptimization.
	Damping float64 `yaml:"damping" toml:"damping" json:"damping"`
}

// DefaultThresholds returns the default tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{T1: 100, T2: 1000, S1: 0.9, Window: 256, Damping: 0.5}
}

// Validate checks the ordering and ranges of the thresholds.
func (t Thresholds) Validate() error {
	var errs []error
	if t.T1 < 0 {
		errs = append(errs, fmt.Errorf("t1 must be non-negative, got %d", t.T1))
	}
	if t.T2 <= t.T1 {
		errs = append(errs, fmt.Errorf("t2 (%d) must be greater than t1 (%d)", t.T2, t.T1))
	}
	if t.S1 <= 0 || t.S1 > 1 {
		errs = append(errs, fmt.Errorf("s1 must be in (0, 1], got %v", t.S1))
	}
	if t.Window <= 0 {
		errs = append(errs, fmt.Errorf("window must be positive, got %d", t.Window))
	}
	if t.Damping <= 0 || t.Damping >= 1 {
		errs = append(errs, fmt.Errorf("damping must be in (0, 1), got %v", t.Damping))
	}
	return errors.Join(errs...)
}

// Transition records a stage change.
type Transition struct {
	From  Stage
	To    Stage
	Shape string
	Score float64
	Calls int64
}

// Changed reports whether the transition moved the stage.
func (t Transition) Changed() bool { return t.From != t.To }
