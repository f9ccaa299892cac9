package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/engine"
	"github.com/roach88/morph/internal/ir"
)

// ReadRun returns a run by id.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	var run Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, program_hash, config, start_seq FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.ProgramHash, &run.Config, &run.StartSeq)
	if err == sql.ErrNoRows {
		return Run{}, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently started run. UUIDv7 ids sort by
// creation time.
func (s *Store) LatestRun(ctx context.Context) (Run, bool, error) {
	var run Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, program_hash, config, start_seq FROM runs
		ORDER BY id COLLATE BINARY DESC LIMIT 1
	`).Scan(&run.ID, &run.ProgramHash, &run.Config, &run.StartSeq)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("latest run: %w", err)
	}
	return run, true, nil
}

// ReadCalls returns the call events of a run ordered by seq.
//
// Returns an empty slice (not nil) if the run recorded no calls.
func (s *Store) ReadCalls(ctx context.Context, runID string) ([]engine.CallEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, function, shape, args
		FROM call_events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query call events: %w", err)
	}
	defer rows.Close()

	events := []engine.CallEvent{}
	for rows.Next() {
		var (
			ev       engine.CallEvent
			shapeKey string
			argsJSON string
		)
		if err := rows.Scan(&ev.Timestamp, &ev.Function, &shapeKey, &argsJSON); err != nil {
			return nil, fmt.Errorf("scan call event: %w", err)
		}
		ev.Shape, err = ir.ParseShape(shapeKey)
		if err != nil {
			return nil, fmt.Errorf("call event %d: %w", ev.Timestamp, err)
		}
		ev.Args, err = unmarshalArgs(argsJSON)
		if err != nil {
			return nil, fmt.Errorf("call event %d: %w", ev.Timestamp, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call events: %w", err)
	}
	return events, nil
}

// ReadDiagnostics returns the diagnostics of a run in emission order.
func (s *Store) ReadDiagnostics(ctx context.Context, runID string) ([]diag.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, function, from_stage, to_stage, shape, score, message
		FROM diagnostics
		WHERE run_id = ?
		ORDER BY seq ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	events := []diag.Event{}
	for rows.Next() {
		var (
			ev   diag.Event
			kind string
		)
		if err := rows.Scan(&ev.Seq, &kind, &ev.Function, &ev.From, &ev.To, &ev.Shape, &ev.Score, &ev.Message); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		ev.Kind = diag.Kind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}
	return events, nil
}

// LoadSnapshot reads the persisted profiles. A store with no saved
// profiles yields an empty snapshot, which restores as cold profiles.
func (s *Store) LoadSnapshot(ctx context.Context) (engine.Snapshot, error) {
	snap := engine.Snapshot{Functions: []engine.FunctionSnapshot{}}
	if v, ok, err := s.meta(ctx, "clock"); err != nil {
		return snap, fmt.Errorf("load snapshot clock: %w", err)
	} else if ok {
		snap.Clock, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return snap, fmt.Errorf("load snapshot clock: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT function, body_hash, snapshot FROM profiles ORDER BY function COLLATE BINARY ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fs engine.FunctionSnapshot
		var data string
		if err := rows.Scan(&fs.Name, &fs.Hash, &data); err != nil {
			return snap, fmt.Errorf("scan profile: %w", err)
		}
		fs.Profile, err = unmarshalSnapshot(data)
		if err != nil {
			return snap, fmt.Errorf("profile %s: %w", fs.Name, err)
		}
		snap.Functions = append(snap.Functions, fs)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate profiles: %w", err)
	}
	return snap, nil
}

// ShapeRow is one persisted histogram entry.
type ShapeRow struct {
	Function string
	Shape    string
	Total    int64
	Window   int64
	FirstSeq int64
}

// ReadShapes returns the persisted histogram of a function in
// first-observed order.
func (s *Store) ReadShapes(ctx context.Context, function string) ([]ShapeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT function, shape, total, window_count, first_seq
		FROM shapes
		WHERE function = ?
		ORDER BY first_seq ASC, shape COLLATE BINARY ASC
	`, function)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()

	out := []ShapeRow{}
	for rows.Next() {
		var r ShapeRow
		if err := rows.Scan(&r.Function, &r.Shape, &r.Total, &r.Window, &r.FirstSeq); err != nil {
			return nil, fmt.Errorf("scan shape: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shapes: %w", err)
	}
	return out, nil
}
