package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/morph/internal/config"
	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/engine"
	"github.com/roach88/morph/internal/harness"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	RunID string
}

// ReplayOutput is the outcome of a replay.
type ReplayOutput struct {
	RunID    string       `json:"run_id"`
	Calls    int          `json:"calls"`
	Match    bool         `json:"match"`
	StartSeq int64        `json:"start_seq"`
	Recorded []diag.Event `json:"recorded"`
	Replayed []diag.Event `json:"replayed"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <program.cue>",
		Short: "Replay a recorded run and compare its transitions",
		Long: `Feed the call events of a recorded run to a fresh engine, configured
as the run was, and compare the stage transitions it produces with the
recorded ones.

The run defaults to the most recent one. The program must hash to the
program the run was recorded against.

Exit codes:
  0 - Transitions match
  1 - Transitions diverge, or the program changed since the run
  2 - Run or program not found`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: latest run)")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()
	if opts.Database == "" {
		return f.Fail(ExitCommandError, ErrCodeStore, "replay needs a database (--db or store.path)", nil, nil)
	}

	prog, err := LoadProgram(path)
	if err != nil {
		return loadFailure(f, err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil, nil)
	}
	defer st.Close()

	run, err := findRun(cmd, st, opts.RunID)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil, nil)
	}
	if hash := ir.ProgramHash(prog); hash != run.ProgramHash {
		return f.Fail(ExitFailure, ErrCodeProgramDrift,
			fmt.Sprintf("run %s was recorded against program %s, not %s", run.ID, shortHash(run.ProgramHash), shortHash(hash)),
			nil, nil)
	}
	if run.StartSeq > 0 {
		opts.Logger.Warn("run started from restored profiles; replay starts from draft and may diverge",
			"run_id", run.ID, "start_seq", run.StartSeq)
	}

	cfg, err := runConfig(run)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeReplay, err.Error(), nil, nil)
	}
	rec := diag.NewRecorder()
	engineOpts := append(cfg.EngineOptions(opts.Logger), engine.WithSink(rec))
	e, err := engine.New(prog, nil, engineOpts...)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeReplay, err.Error(), nil, nil)
	}
	defer e.Close()

	res, err := st.Replay(ctx, run.ID, e, rec)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeReplay, err.Error(), nil, nil)
	}
	e.WaitIdle()
	recorded, replayed := res.Transitions()
	out := ReplayOutput{
		RunID:    run.ID,
		Calls:    res.Calls,
		Match:    res.Match(),
		StartSeq: run.StartSeq,
		Recorded: recorded,
		Replayed: replayed,
	}
	if !out.Match {
		if !f.JSON() {
			writeReplay(f.Writer, out)
		}
		return f.Fail(ExitFailure, ErrCodeReplay,
			fmt.Sprintf("replay diverged: recorded %d transitions, replayed %d", len(recorded), len(replayed)), out, nil)
	}
	return f.Emit(out, func(w io.Writer) { writeReplay(w, out) })
}

// findRun resolves an explicit run id, or the latest run when id is empty.
func findRun(cmd *cobra.Command, st *store.Store, id string) (store.Run, error) {
	if id != "" {
		return st.ReadRun(cmd.Context(), id)
	}
	run, ok, err := st.LatestRun(cmd.Context())
	if err != nil {
		return store.Run{}, err
	}
	if !ok {
		return store.Run{}, fmt.Errorf("no runs recorded")
	}
	return run, nil
}

// runConfig decodes the configuration a run was recorded with.
func runConfig(run store.Run) (config.Config, error) {
	cfg := config.Default()
	if err := json.Unmarshal([]byte(run.Config), &cfg); err != nil {
		return config.Config{}, fmt.Errorf("run %s: decode config: %w", run.ID, err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("run %s: %w", run.ID, err)
	}
	return cfg, nil
}

func writeReplay(w io.Writer, r ReplayOutput) {
	fmt.Fprintf(w, "Replayed %d call(s) of run %s\n", r.Calls, r.RunID)
	n := max(len(r.Recorded), len(r.Replayed))
	for i := range n {
		rec, rep := "-", "-"
		if i < len(r.Recorded) {
			rec = harness.FormatEvent(r.Recorded[i])
		}
		if i < len(r.Replayed) {
			rep = harness.FormatEvent(r.Replayed[i])
		}
		mark := " "
		if rec != rep {
			mark = "!"
		}
		fmt.Fprintf(w, "%s recorded: %s\n  replayed: %s\n", mark, rec, rep)
	}
	if r.Match {
		fmt.Fprintln(w, "\u2713 Transitions match")
	} else {
		fmt.Fprintln(w, "\u2717 Transitions diverge")
	}
}
