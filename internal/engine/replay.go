package engine

import (
	"context"
	"fmt"
)

// Replay feeds recorded call events to the profiler in recorded order
// without executing any function.
//
// Promotion depends only on the sequence of shapes and the thresholds, so
// replaying a run's events against a fresh engine with the same program
// and thresholds reproduces the run's stage transitions. Hardening runs as
// it did originally; with synchronous hardening the diagnostic trace is
// identical event for event.
func (e *Engine) Replay(ctx context.Context, events []CallEvent) error {
	var last int64
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ev.Timestamp != 0 && ev.Timestamp <= last {
			return fmt.Errorf("replay event %d: timestamp %d does not follow %d", i, ev.Timestamp, last)
		}
		last = ev.Timestamp
		if err := e.Observe(ctx, ev); err != nil {
			return fmt.Errorf("replay event %d: %w", i, err)
		}
	}
	e.WaitIdle()
	return nil
}
