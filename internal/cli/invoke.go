package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/engine"
	"github.com/roach88/morph/internal/harness"
	"github.com/roach88/morph/internal/ir"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args   string
	Repeat int
	Output bool // let print/log builtins write to stdout
}

// InvokeResult is the outcome of an invoke.
type InvokeResult struct {
	Function    string       `json:"function"`
	Result      any          `json:"result"`
	Display     string       `json:"display"`
	Calls       int          `json:"calls"`
	RunID       string       `json:"run_id,omitempty"`
	Status      FunctionRow  `json:"status"`
	Diagnostics []diag.Event `json:"diagnostics,omitempty"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <program.cue> <function>",
		Short: "Call a function",
		Long: `Call a function of a program with JSON arguments.

With --db the function's profile is restored before the call and saved
after it, and the calls are recorded as a new run, so repeated invocations
across processes move the function through its stages.

Example:
  morph invoke prog.cue add --args '[1, 2]'
  morph invoke prog.cue add --args '[1, 2]' --repeat 1000 --db morph.db`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeFunction(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "[]", "arguments as a JSON array")
	cmd.Flags().IntVarP(&opts.Repeat, "repeat", "n", 1, "number of times to call")
	cmd.Flags().BoolVar(&opts.Output, "output", false, "let print and log write to stdout")

	return cmd
}

// ParseArgs decodes a JSON array into argument values. Numbers without a
// fraction or exponent become Int.
func ParseArgs(s string) ([]ir.Value, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("--args must be a JSON array: %w", err)
	}
	args := make([]ir.Value, len(raw))
	for i, r := range raw {
		v, err := ir.FromNative(r)
		if err != nil {
			return nil, fmt.Errorf("--args[%d]: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

func invokeFunction(opts *InvokeOptions, path, name string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	args, err := ParseArgs(opts.Args)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBadArgs, err.Error(), nil, nil)
	}
	if opts.Repeat < 1 {
		return f.Fail(ExitCommandError, ErrCodeBadArgs, "--repeat must be at least 1", nil, nil)
	}

	so := sessionOptions{record: true, restore: true, save: true}
	if opts.Output {
		so.extra = append(so.extra, engine.WithOutput(cmd.OutOrStdout()))
	}
	s, err := openSession(ctx, opts.RootOptions, path, so)
	if err != nil {
		return loadFailure(f, err)
	}
	if _, err := s.engine.Function(name); err != nil {
		s.Close(ctx)
		return f.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil, nil)
	}

	var (
		v     ir.Value
		calls int
	)
	for range opts.Repeat {
		v, err = s.engine.Invoke(ctx, name, args)
		calls++
		if err != nil {
			break
		}
	}
	s.engine.WaitIdle()
	st, _ := s.engine.FunctionStatus(name)
	result := InvokeResult{
		Function:    name,
		Calls:       calls,
		RunID:       s.run.ID,
		Status:      statusRows([]engine.FunctionStatus{st})[0],
		Diagnostics: s.trace.Events(),
	}
	if closeErr := s.Close(ctx); closeErr != nil {
		opts.Logger.Error("failed to close session", "error", closeErr)
	}
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeCall, fmt.Sprintf("%s (call %d): %v", name, calls, err), result, nil)
	}
	result.Result = ir.ToNative(v)
	result.Display = ir.Display(v)

	return f.Emit(result, func(w io.Writer) {
		fmt.Fprintln(w, result.Display)
		f.VerboseLog("%s: stage=%s form=%s score=%.4f calls=%d", name,
			result.Status.Stage, result.Status.Form, result.Status.Score, result.Status.Calls)
		for _, ev := range result.Diagnostics {
			f.VerboseLog("  %s", harness.FormatEvent(ev))
		}
	})
}
