package store

import (
	"context"
	"fmt"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/engine"
)

// ReplayResult compares a recorded run with its replay.
type ReplayResult struct {
	RunID    string
	Calls    int
	Recorded []diag.Event
	Replayed []diag.Event
}

// Match reports whether the replay produced the recorded stage
// transitions, in order. Ghost validation diagnostics depend on argument
// values, which replay does not execute, so they are not compared.
func (r ReplayResult) Match() bool {
	a, b := transitionsOf(r.Recorded), transitionsOf(r.Replayed)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Transitions returns the recorded and replayed transition lists.
func (r ReplayResult) Transitions() (recorded, replayed []diag.Event) {
	return transitionsOf(r.Recorded), transitionsOf(r.Replayed)
}

func transitionsOf(events []diag.Event) []diag.Event {
	out := []diag.Event{}
	for _, ev := range events {
		if ev.Kind == diag.KindGhostValidation {
			continue
		}
		ev.Message = ""
		out = append(out, ev)
	}
	return out
}

// Replay feeds a recorded run's call events to e, which must be a fresh
// engine over the same program and thresholds, and collects the
// diagnostics it emits through rec.
func (s *Store) Replay(ctx context.Context, runID string, e *engine.Engine, rec *diag.Recorder) (ReplayResult, error) {
	calls, err := s.ReadCalls(ctx, runID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", runID, err)
	}
	recorded, err := s.ReadDiagnostics(ctx, runID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", runID, err)
	}
	if err := e.Replay(ctx, calls); err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", runID, err)
	}
	return ReplayResult{RunID: runID, Calls: len(calls), Recorded: recorded, Replayed: rec.Events()}, nil
}
