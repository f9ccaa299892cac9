package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/engine"
)

// Run describes one engine session.
type Run struct {
	ID          string
	ProgramHash string
	Config      string
	StartSeq    int64
}

// BeginRun inserts a run with a fresh UUIDv7 id and returns it.
// config is an opaque JSON description of the engine settings.
func (s *Store) BeginRun(ctx context.Context, programHash, config string, startSeq int64) (Run, error) {
	if config == "" {
		config = "{}"
	}
	run := Run{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ProgramHash: programHash,
		Config:      config,
		StartSeq:    startSeq,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, program_hash, config, start_seq)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.ProgramHash, run.Config, run.StartSeq)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}
	return run, nil
}

// AppendCall records one call event of a run.
// Uses ON CONFLICT DO NOTHING for idempotency - a seq is written once.
func (s *Store) AppendCall(ctx context.Context, runID string, ev engine.CallEvent) error {
	argsJSON, err := marshalArgs(ev.Args)
	if err != nil {
		return fmt.Errorf("append call: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO call_events (run_id, seq, function, shape, args)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, ev.Timestamp, ev.Function, ev.Shape.Key(), argsJSON)
	if err != nil {
		return fmt.Errorf("append call: %w", err)
	}
	return nil
}

// WriteDiagnostic records one diagnostic event of a run.
func (s *Store) WriteDiagnostic(ctx context.Context, runID string, ev diag.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO diagnostics (run_id, seq, kind, function, from_stage, to_stage, shape, score, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, ev.Seq, string(ev.Kind), ev.Function, ev.From, ev.To, ev.Shape, ev.Score, ev.Message)
	if err != nil {
		return fmt.Errorf("write diagnostic: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the persisted profiles with snap in one
// transaction. Functions missing from snap are removed.
func (s *Store) SaveSnapshot(ctx context.Context, snap engine.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM profiles`); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	for _, fs := range snap.Functions {
		data, err := marshalSnapshot(fs.Profile)
		if err != nil {
			return fmt.Errorf("save snapshot %s: %w", fs.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO profiles (function, body_hash, stage, calls, snapshot)
			VALUES (?, ?, ?, ?, ?)
		`, fs.Name, fs.Hash, fs.Profile.Stage.String(), fs.Profile.Calls, data)
		if err != nil {
			return fmt.Errorf("save snapshot %s: %w", fs.Name, err)
		}
		for _, sc := range fs.Profile.Shapes {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO shapes (function, shape, total, window_count, first_seq)
				VALUES (?, ?, ?, ?, ?)
			`, fs.Name, sc.Key, sc.Total, sc.Window, sc.FirstSeq)
			if err != nil {
				return fmt.Errorf("save snapshot %s shape %s: %w", fs.Name, sc.Key, err)
			}
		}
	}
	if err := s.setMeta(ctx, tx, "clock", strconv.FormatInt(snap.Clock, 10)); err != nil {
		return fmt.Errorf("save snapshot clock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
