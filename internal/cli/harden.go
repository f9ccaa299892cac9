package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/harden"
)

// HardenResult describes a hardened function.
type HardenResult struct {
	Function    string       `json:"function"`
	Shape       string       `json:"shape"`
	Hash        string       `json:"hash"`
	Retained    int          `json:"retained_checks"`
	Claims      int          `json:"claims"`
	MaxDepth    int          `json:"max_depth"`
	Diagnostics []diag.Event `json:"diagnostics,omitempty"`
}

// NewHardenCommand creates the harden command.
func NewHardenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "harden <program.cue> <function>",
		Short: "Force a function through hardening",
		Long: `Harden a function for its dominant shape without waiting for it to
promote, and report the native form that was built.

The function's profile is restored from --db when one is given. Native
forms live only in the process that built them, so the stored profiles are
left untouched.

Exit codes:
  0 - Function hardened
  1 - Hardening failed (no concrete shape, or an ownership violation)
  2 - Program or function not found`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarden(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runHarden(opts *RootOptions, path, name string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	s, err := openSession(ctx, opts, path, sessionOptions{restore: true})
	if err != nil {
		return loadFailure(f, err)
	}
	defer s.Close(ctx)

	if _, err := s.engine.Function(name); err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil, nil)
	}
	n, err := s.engine.Harden(ctx, name)
	if err != nil {
		if harden.IsFailure(err) {
			return f.Fail(ExitFailure, ErrCodeHarden, err.Error(), HardenResult{Function: name, Diagnostics: s.trace.Events()}, nil)
		}
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil, nil)
	}

	result := HardenResult{
		Function:    name,
		Shape:       n.ShapeKey,
		Hash:        n.Hash,
		Retained:    n.Retained,
		Diagnostics: s.trace.Events(),
	}
	if n.Report != nil {
		result.Claims = n.Report.Claims
		result.MaxDepth = n.Report.MaxDepth
	}
	return f.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "\u2713 Hardened %s for %s\n", result.Function, result.Shape)
		fmt.Fprintf(w, "  hash:            %s\n", shortHash(result.Hash))
		fmt.Fprintf(w, "  retained checks: %d\n", result.Retained)
		fmt.Fprintf(w, "  claims:          %d (max depth %d)\n", result.Claims, result.MaxDepth)
	})
}
