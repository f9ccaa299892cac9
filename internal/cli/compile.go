package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/morph/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
	Print  bool   // print the program's canonical form
}

// CompilationResult summarizes a compiled program.
type CompilationResult struct {
	ProgramHash string         `json:"program_hash"`
	Types       []TypeInfo     `json:"types"`
	Functions   []FunctionInfo `json:"functions"`
	Output      string         `json:"output,omitempty"`
}

// TypeInfo describes one ghost type declaration.
type TypeInfo struct {
	Name  string   `json:"name"`
	Base  string   `json:"base"`
	Attrs []string `json:"attrs,omitempty"`
}

// FunctionInfo describes one compiled function.
type FunctionInfo struct {
	Name    string   `json:"name"`
	Params  []string `json:"params"`
	Returns string   `json:"returns,omitempty"`
	Hash    string   `json:"hash"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program.cue>",
		Short: "Compile a CUE program to IR",
		Long: `Compile a CUE program and report its functions, ghost types and
body hashes. The hashes key persisted profiles: a function whose hash
changes starts over in draft.

With --output the program's canonical form is written to a file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the canonical form to this file")
	cmd.Flags().BoolVar(&opts.Print, "print", false, "print the canonical form")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	prog, err := LoadProgram(path)
	if err != nil {
		return loadFailure(f, err)
	}
	f.VerboseLog("Compiled %s", path)

	result := describeProgram(prog)
	canonical := ir.FormatProgram(prog)
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(canonical), 0o644); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil, nil)
		}
		result.Output = opts.Output
	}

	return f.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "\u2713 Compiled %d type(s), %d function(s)\n\n", len(result.Types), len(result.Functions))
		if len(result.Types) > 0 {
			fmt.Fprintln(w, "Types:")
			for _, t := range result.Types {
				fmt.Fprintf(w, "  %s: %s %v\n", t.Name, t.Base, t.Attrs)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, "Functions:")
		for _, fn := range result.Functions {
			fmt.Fprintf(w, "  %s(%d) %s\n", fn.Name, len(fn.Params), shortHash(fn.Hash))
		}
		fmt.Fprintf(w, "\nProgram hash: %s\n", shortHash(result.ProgramHash))
		if opts.Print {
			fmt.Fprintf(w, "\n%s", canonical)
		}
		if result.Output != "" {
			fmt.Fprintf(w, "Wrote canonical form to %s\n", result.Output)
		}
	})
}

func describeProgram(prog *ir.Program) CompilationResult {
	result := CompilationResult{
		ProgramHash: ir.ProgramHash(prog),
		Types:       make([]TypeInfo, 0, len(prog.TypeOrder)),
		Functions:   make([]FunctionInfo, 0, len(prog.Order)),
	}
	for _, name := range prog.TypeOrder {
		td := prog.Types[name]
		ti := TypeInfo{Name: td.Name, Base: td.Base}
		for _, a := range td.Attrs {
			ti.Attrs = append(ti.Attrs, a.Key)
		}
		result.Types = append(result.Types, ti)
	}
	for _, name := range prog.Order {
		fn := prog.Functions[name]
		fi := FunctionInfo{Name: fn.Name, Returns: fn.Return, Hash: ir.FunctionHash(fn), Params: make([]string, len(fn.Params))}
		for i, p := range fn.Params {
			fi.Params[i] = p.Name
			if p.Type != "" {
				fi.Params[i] += ": " + p.Type
			}
		}
		result.Functions = append(result.Functions, fi)
	}
	return result
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
