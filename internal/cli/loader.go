package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/morph/internal/compiler"
	"github.com/roach88/morph/internal/ir"
)

// LoadError is a program that could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available

	// Invalid holds every validation error when Code is ErrCodeInvalid.
	Invalid []compiler.ValidationError
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CompileProgram reads and compiles a CUE program without validating it.
func CompileProgram(path string) (*ir.Program, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program not found: %s", path)}
	}
	prog, err := compiler.CompileFile(path)
	if err != nil {
		le := &LoadError{Code: ErrCodeCompile, Message: err.Error()}
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			le.Message = ce.Field + ": " + ce.Message
			le.Pos = ce.Pos
		}
		return nil, le
	}
	return prog, nil
}

// LoadProgram compiles a program and rejects it if validation finds any
// error. Every command that executes code loads through here.
func LoadProgram(path string) (*ir.Program, error) {
	prog, err := CompileProgram(path)
	if err != nil {
		return nil, err
	}
	if errs := compiler.Validate(prog); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, &LoadError{
			Code:    ErrCodeInvalid,
			Message: fmt.Sprintf("%d validation error(s): %s", len(errs), strings.Join(msgs, "; ")),
			Invalid: errs,
		}
	}
	return prog, nil
}

// loadFailure reports a load error through the formatter.
func loadFailure(f *OutputFormatter, err error) error {
	var le *LoadError
	if !errors.As(err, &le) {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil, nil)
	}
	exit := ExitCommandError
	var details any
	if le.Code == ErrCodeInvalid {
		exit = ExitFailure
		details = le.Invalid
	}
	msg := le.Message
	if le.Pos.IsValid() {
		msg = fmt.Sprintf("%s:%d:%d: %s", le.Pos.Filename(), le.Pos.Line(), le.Pos.Column(), le.Message)
	}
	return f.Fail(exit, le.Code, msg, nil, details)
}
