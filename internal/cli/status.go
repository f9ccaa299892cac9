package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Function string
}

// StatusResult lists the persisted state of every function.
type StatusResult struct {
	Functions []FunctionRow     `json:"functions"`
	Shapes    []ShapeHistoryRow `json:"shapes,omitempty"`
}

// ShapeHistoryRow is one persisted shape of a function.
type ShapeHistoryRow struct {
	Shape    string `json:"shape"`
	Total    int64  `json:"total"`
	Window   int64  `json:"window"`
	FirstSeq int64  `json:"first_seq"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <program.cue>",
		Short: "Show each function's stage and stability",
		Long: `Show the stage, stability score, call count and dominant shape
of every function, as restored from the database.

Profiles persisted for an older body of a function are discarded, so an
edited function shows as draft. With --function the persisted shape
histogram of that function is listed too.

Example:
  morph status prog.cue --db morph.db
  morph status prog.cue --db morph.db --function add`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Function, "function", "", "list the persisted shapes of one function")

	return cmd
}

func runStatus(opts *StatusOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()
	if opts.Database == "" {
		return f.Fail(ExitCommandError, ErrCodeStore, "status needs a database (--db or store.path)", nil, nil)
	}

	s, err := openSession(ctx, opts.RootOptions, path, sessionOptions{restore: true})
	if err != nil {
		return loadFailure(f, err)
	}
	defer s.Close(ctx)

	result := StatusResult{Functions: statusRows(s.engine.Status())}
	if opts.Function != "" {
		if _, err := s.engine.Function(opts.Function); err != nil {
			return f.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil, nil)
		}
		rows, err := s.store.ReadShapes(ctx, opts.Function)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil, nil)
		}
		for _, r := range rows {
			result.Shapes = append(result.Shapes, ShapeHistoryRow{Shape: r.Shape, Total: r.Total, Window: r.Window, FirstSeq: r.FirstSeq})
		}
	}

	return f.Emit(result, func(w io.Writer) {
		writeFunctions(w, result.Functions)
		if opts.Function != "" {
			fmt.Fprintf(w, "\nShapes of %s:\n", opts.Function)
			if len(result.Shapes) == 0 {
				fmt.Fprintln(w, "  (none observed)")
			}
			for _, h := range result.Shapes {
				fmt.Fprintf(w, "  %-24s total=%d window=%d first_seq=%d\n", h.Shape, h.Total, h.Window, h.FirstSeq)
			}
		}
	})
}

func writeFunctions(w io.Writer, rows []FunctionRow) {
	fmt.Fprintf(w, "%-20s %-8s %-8s %8s  %-12s %s\n", "FUNCTION", "STAGE", "SCORE", "CALLS", "FORM", "DOMINANT")
	for _, r := range rows {
		fmt.Fprintf(w, "%-20s %-8s %-8.4f %8d  %-12s %s\n", r.Name, r.Stage, r.Score, r.Calls, r.Form, r.Dominant)
	}
}
