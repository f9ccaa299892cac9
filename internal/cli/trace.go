package cli

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/morph/internal/harness"
	"github.com/roach88/morph/internal/ir"
	"github.com/roach88/morph/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	RunID    string
	Function string
}

// TraceEntry is one line of a run trace: a call or a diagnostic.
type TraceEntry struct {
	Seq      int64  `json:"seq"`
	Type     string `json:"type"` // "call" or a diagnostic kind
	Function string `json:"function"`
	Shape    string `json:"shape"`
	Args     any    `json:"args,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// TraceResult is a run's interleaved calls and diagnostics.
type TraceResult struct {
	RunID       string       `json:"run_id"`
	ProgramHash string       `json:"program_hash"`
	StartSeq    int64        `json:"start_seq"`
	Entries     []TraceEntry `json:"entries"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the calls and diagnostics of a recorded run",
		Long: `Print the call events and diagnostics of a recorded run in seq
order. A diagnostic follows the call that triggered it.

Example:
  morph trace --db morph.db
  morph trace --db morph.db --run 0190f6c2-... --function add`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: latest run)")
	cmd.Flags().StringVar(&opts.Function, "function", "", "only show one function")

	return cmd
}

func runTraceDump(opts *TraceOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()
	if opts.Database == "" {
		return f.Fail(ExitCommandError, ErrCodeStore, "trace needs a database (--db or store.path)", nil, nil)
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
	calls, err := st.ReadCalls(ctx, run.ID)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil, nil)
	}
	diags, err := st.ReadDiagnostics(ctx, run.ID)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil, nil)
	}

	result := TraceResult{RunID: run.ID, ProgramHash: run.ProgramHash, StartSeq: run.StartSeq}
	for _, c := range calls {
		if opts.Function != "" && c.Function != opts.Function {
			continue
		}
		args := make([]any, len(c.Args))
		for i, a := range c.Args {
			args[i] = ir.ToNative(a)
		}
		result.Entries = append(result.Entries, TraceEntry{
			Seq: c.Timestamp, Type: "call", Function: c.Function, Shape: c.Shape.Key(), Args: args,
		})
	}
	for _, ev := range diags {
		if opts.Function != "" && ev.Function != opts.Function {
			continue
		}
		result.Entries = append(result.Entries, TraceEntry{
			Seq: ev.Seq, Type: string(ev.Kind), Function: ev.Function, Shape: ev.Shape, Detail: harness.FormatEvent(ev),
		})
	}
	// Stable: calls were appended first, so a call precedes its diagnostics.
	slices.SortStableFunc(result.Entries, func(a, b TraceEntry) int { return cmp.Compare(a.Seq, b.Seq) })

	return f.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Run %s (program %s, start seq %d)\n", result.RunID, shortHash(result.ProgramHash), result.StartSeq)
		for _, e := range result.Entries {
			if e.Type == "call" {
				fmt.Fprintf(w, "  seq=%d call %s %s\n", e.Seq, e.Function, e.Shape)
				continue
			}
			fmt.Fprintf(w, "  %s\n", e.Detail)
		}
	})
}
