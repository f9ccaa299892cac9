package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/engine"
	"github.com/roach88/morph/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Output bool
}

// RunResult is the outcome of running a call trace.
type RunResult struct {
	RunID       string        `json:"run_id,omitempty"`
	Calls       int           `json:"calls"`
	Restored    int           `json:"restored_profiles"`
	Errors      []string      `json:"errors,omitempty"`
	Diagnostics []diag.Event  `json:"diagnostics"`
	Functions   []FunctionRow `json:"functions"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <program.cue> <calls.yaml>",
		Short: "Run a call trace against a program",
		Long: `Run every call of a YAML call trace and report the stage
transitions they caused.

The call trace uses the scenario calls format:

  calls:
    - function: add
      args: [1, 2]
      repeat: 500
      expect: {result: 3}

With --db profiles are restored first and saved afterwards, and the run is
recorded for replay.

Example:
  morph run prog.cue calls.yaml --db morph.db`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Output, "output", false, "let print and log write to stdout")

	return cmd
}

func runTrace(opts *RunOptions, programPath, callsPath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	steps, err := harness.LoadCalls(callsPath)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil, nil)
	}

	so := sessionOptions{record: true, restore: true, save: true}
	if opts.Output {
		so.extra = append(so.extra, engine.WithOutput(cmd.OutOrStdout()))
	}
	s, err := openSession(ctx, opts.RootOptions, programPath, so)
	if err != nil {
		return loadFailure(f, err)
	}
	opts.Logger.Info("run started", "program", programPath, "calls", callsPath, "run_id", s.run.ID, "restored", s.restored)

	res := harness.NewResult()
	runErr := harness.RunCalls(ctx, s.engine, steps, res)
	s.engine.WaitIdle()

	result := RunResult{
		RunID:       s.run.ID,
		Calls:       res.Calls,
		Restored:    s.restored,
		Errors:      res.Errors,
		Diagnostics: s.trace.Events(),
		Functions:   statusRows(s.engine.Status()),
	}
	if err := s.Close(ctx); err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), result, nil)
	}
	if runErr != nil {
		return f.Fail(ExitCommandError, ErrCodeBadArgs, runErr.Error(), result, nil)
	}
	if len(result.Errors) > 0 {
		if !f.JSON() {
			writeRun(f.Writer, result)
		}
		return f.Fail(ExitFailure, ErrCodeCall, fmt.Sprintf("%d call(s) did not meet expectations", len(result.Errors)), result, nil)
	}
	return f.Emit(result, func(w io.Writer) { writeRun(w, result) })
}

func writeRun(w io.Writer, r RunResult) {
	fmt.Fprintf(w, "Ran %d call(s)", r.Calls)
	if r.RunID != "" {
		fmt.Fprintf(w, " as run %s", r.RunID)
	}
	fmt.Fprintln(w)
	if r.Restored > 0 {
		fmt.Fprintf(w, "Restored %d profile(s)\n", r.Restored)
	}
	if len(r.Diagnostics) > 0 {
		fmt.Fprintln(w, "\nDiagnostics:")
		for _, ev := range r.Diagnostics {
			fmt.Fprintf(w, "  %s\n", harness.FormatEvent(ev))
		}
	}
	fmt.Fprintln(w)
	writeFunctions(w, r.Functions)
	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}
