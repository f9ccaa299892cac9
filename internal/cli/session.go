package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/engine"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/store"
)

// session is one engine over a loaded program, optionally backed by the
// store. Profiles can be restored from the last snapshot on open and saved
// again on close; with recording on, every call and diagnostic is appended
// to a new run.
type session struct {
	opts   *RootOptions
	prog   *ir.Program
	engine *engine.Engine
	store  *store.Store
	run    store.Run
	trace  *diag.Recorder
	save   bool

	restored int
}

type sessionOptions struct {
	record  bool // append calls and diagnostics to a new run
	restore bool // load profiles from the last snapshot
	save    bool // write profiles back on Close
	extra   []engine.Option
}

func openSession(ctx context.Context, opts *RootOptions, programPath string, so sessionOptions) (*session, error) {
	prog, err := LoadProgram(programPath)
	if err != nil {
		return nil, err
	}
	s := &session{opts: opts, prog: prog, trace: diag.NewRecorder(), save: so.save}

	sinks := []diag.Sink{s.trace, diag.NewLogSink(opts.Logger)}
	engineOpts := opts.Config.EngineOptions(opts.Logger)

	var snap engine.Snapshot
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeStore, Message: err.Error()}
		}
		s.store = st
		if so.restore {
			if snap, err = st.LoadSnapshot(ctx); err != nil {
				st.Close()
				return nil, &LoadError{Code: ErrCodeStore, Message: err.Error()}
			}
		}
	}

	var recorder *store.Recorder
	if so.record && s.store != nil {
		cfg, err := json.Marshal(opts.Config)
		if err != nil {
			s.store.Close()
			return nil, err
		}
		s.run, err = s.store.BeginRun(ctx, ir.ProgramHash(prog), string(cfg), snap.Clock)
		if err != nil {
			s.store.Close()
			return nil, &LoadError{Code: ErrCodeStore, Message: err.Error()}
		}
		recorder = s.store.Recorder(s.run.ID, opts.Logger)
		sinks = append(sinks, recorder)
		engineOpts = append(engineOpts, engine.WithRecorder(recorder))
	}
	engineOpts = append(engineOpts, engine.WithSink(diag.Multi(sinks...)))
	engineOpts = append(engineOpts, so.extra...)

	e, err := engine.New(prog, nil, engineOpts...)
	if err != nil {
		s.closeStore()
		return nil, err
	}
	s.engine = e
	if so.restore && len(snap.Functions) > 0 {
		if s.restored, err = e.Restore(snap); err != nil {
			e.Close()
			s.closeStore()
			return nil, fmt.Errorf("restore profiles: %w", err)
		}
	}
	return s, nil
}

// Close waits for hardening, saves the profiles when asked to and releases
// everything.
func (s *session) Close(ctx context.Context) error {
	s.engine.WaitIdle()
	var errs []error
	if s.store != nil && s.save {
		if err := s.store.SaveSnapshot(ctx, s.engine.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("save snapshot: %w", err))
		}
	}
	errs = append(errs, s.engine.Close(), s.closeStore())
	return errors.Join(errs...)
}

func (s *session) closeStore() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// statusRows converts engine status to output rows.
func statusRows(st []engine.FunctionStatus) []FunctionRow {
	rows := make([]FunctionRow, len(st))
	for i, fs := range st {
		rows[i] = FunctionRow{
			Name:     fs.Name,
			Stage:    fs.Stage.String(),
			Score:    fs.Score,
			Calls:    fs.Calls,
			Form:     fs.Form,
			Dominant: fs.Dominant,
			Native:   fs.Native,
		}
	}
	return rows
}

// FunctionRow is the per-function line of status-style output.
type FunctionRow struct {
	Name     string  `json:"name"`
	Stage    string  `json:"stage"`
	Score    float64 `json:"score"`
	Calls    int64   `json:"calls"`
	Form     string  `json:"form"`
	Dominant string  `json:"dominant,omitempty"`
	Native   string  `json:"native_shape,omitempty"`
}
