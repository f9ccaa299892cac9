package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/morph/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <program.cue>",
		Short: "Check a program for static errors",
		Long: `Check a CUE program for undefined names, unknown types, duplicate
parameters, bad assignments and arity mismatches. Recursive functions are
reported as warnings.

Exit codes:
  0 - Program is valid (warnings allowed)
  1 - Validation errors
  2 - Program missing or not valid CUE`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	prog, err := CompileProgram(path)
	if err != nil {
		return loadFailure(f, err)
	}

	result := ValidationResult{
		Errors:   compiler.Validate(prog),
		Warnings: compiler.AnalyzeCycles(prog),
	}
	result.Valid = len(result.Errors) == 0
	f.VerboseLog("Validated %d function(s), %d type(s)", len(prog.Order), len(prog.TypeOrder))

	if !result.Valid {
		if !f.JSON() {
			writeValidation(f.Writer, result)
		}
		return f.Fail(ExitFailure, ErrCodeInvalid,
			fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)), result, nil)
	}
	return f.Emit(result, func(w io.Writer) {
		writeValidation(w, result)
	})
}

func writeValidation(w io.Writer, r ValidationResult) {
	if r.Valid {
		fmt.Fprintln(w, "\u2713 Program is valid")
	} else {
		fmt.Fprintln(w, "\u2717 Validation failed")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
	for _, c := range r.Warnings {
		fmt.Fprintf(w, "  %s: %s\n", c.Level, c.Message)
	}
}
