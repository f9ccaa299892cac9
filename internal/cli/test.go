package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/morph/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string
	Golden string
	Update bool
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Calls  int      `json:"calls"`
	Golden string   `json:"golden"` // "match", "mismatch", "missing", "updated" or "skipped"
	Errors []string `json:"errors,omitempty"`
}

// TestResult summarizes a scenario directory.
type TestResult struct {
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run every YAML scenario under a directory, check its assertions,
replay its recorded run and compare its rendering against a golden file.

Golden files are named after the scenario and live in --golden, which
defaults to the golden directory next to the scenarios directory. A missing
golden file fails the scenario unless --update is given.

Example:
  morph test testdata/scenarios
  morph test testdata/scenarios --filter 'deopt_*' --update`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "glob over scenario file names (without extension)")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory (default: <scenarios-dir>/../golden)")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "write golden files instead of comparing")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return f.Fail(ExitCommandError, ErrCodeBadArgs, fmt.Sprintf("--filter: %v", err), nil, nil)
		}
	}
	paths, err := harness.DiscoverScenarios(dir)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil, nil)
	}
	golden := opts.Golden
	if golden == "" {
		golden = filepath.Join(filepath.Dir(filepath.Clean(dir)), "golden")
	}

	var result TestResult
	for _, path := range paths {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if opts.Filter != "" {
			if ok, _ := filepath.Match(opts.Filter, base); !ok {
				continue
			}
		}
		sr := runScenario(opts, cmd, path, golden)
		opts.Logger.Debug("scenario finished", "name", sr.Name, "pass", sr.Pass, "golden", sr.Golden)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
		if err := ctx.Err(); err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), result, nil)
		}
	}
	if len(result.Scenarios) == 0 {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no scenarios in %s", dir), nil, nil)
	}

	if result.Failed > 0 {
		if !f.JSON() {
			writeTests(f.Writer, result)
		}
		return f.Fail(ExitFailure, ErrCodeTestFailed,
			fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, len(result.Scenarios)), result, nil)
	}
	return f.Emit(result, func(w io.Writer) { writeTests(w, result) })
}

func runScenario(opts *TestOptions, cmd *cobra.Command, path, goldenDir string) ScenarioResult {
	sr := ScenarioResult{Path: path, Golden: "skipped"}
	s, err := harness.LoadScenario(path)
	if err != nil {
		sr.Name = filepath.Base(path)
		sr.Errors = []string{err.Error()}
		return sr
	}
	sr.Name = s.Name

	res, err := harness.Run(cmd.Context(), s, harness.WithLogger(opts.Logger))
	if err != nil {
		sr.Errors = []string{err.Error()}
		return sr
	}
	sr.Calls = res.Calls
	sr.Errors = res.Errors
	sr.Pass = res.Pass

	got := harness.FormatResult(s.Name, res)
	goldenPath := filepath.Join(goldenDir, s.Name+".golden")
	switch {
	case opts.Update:
		if err := writeGolden(goldenPath, got); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, err.Error())
			return sr
		}
		sr.Golden = "updated"
	default:
		want, err := os.ReadFile(goldenPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			sr.Golden = "missing"
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("golden file %s not found (run with --update)", goldenPath))
		case err != nil:
			sr.Pass = false
			sr.Errors = append(sr.Errors, err.Error())
		case !bytes.Equal(want, got):
			sr.Golden = "mismatch"
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("output differs from %s:\n%s", goldenPath, got))
		default:
			sr.Golden = "match"
		}
	}
	return sr
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write golden file: %w", err)
	}
	return nil
}

func writeTests(w io.Writer, r TestResult) {
	for _, s := range r.Scenarios {
		mark := "\u2713"
		if !s.Pass {
			mark = "\u2717"
		}
		fmt.Fprintf(w, "%s %s (%d calls, golden %s)\n", mark, s.Name, s.Calls, s.Golden)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(e, "\n", "\n    "))
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed\n", r.Passed, r.Failed)
}
