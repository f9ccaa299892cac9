package store

import (
	"context"
	"log/slog"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/engine"
)

// Recorder writes one run's call events and diagnostics. It implements
// engine.CallRecorder and diag.Sink.
type Recorder struct {
	store  *Store
	runID  string
	logger *slog.Logger
}

// Recorder returns a recorder for runID.
func (s *Store) Recorder(runID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, runID: runID, logger: logger}
}

// RunID returns the run the recorder writes to.
func (r *Recorder) RunID() string { return r.runID }

// RecordCall implements engine.CallRecorder.
func (r *Recorder) RecordCall(ctx context.Context, ev engine.CallEvent) error {
	return r.store.AppendCall(ctx, r.runID, ev)
}

// Emit implements diag.Sink. Sinks cannot fail the engine, so a write
// error is logged.
func (r *Recorder) Emit(ctx context.Context, ev diag.Event) {
	if err := r.store.WriteDiagnostic(ctx, r.runID, ev); err != nil {
		r.logger.Error("failed to persist diagnostic",
			"run", r.runID, "seq", ev.Seq, "kind", string(ev.Kind), "error", err)
	}
}
