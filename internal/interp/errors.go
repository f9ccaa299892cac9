package interp

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error raised while interpreting a function.
//
// Runtime errors are caller-visible results of a call. Ownership violations
// (pulse errors) and ghost validation failures are returned as their own
// types and are never converted to RuntimeError.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Function is the innermost function being executed, when known.
	Function string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeTypeError indicates an operation applied to the wrong kinds.
	ErrCodeTypeError RuntimeErrorCode = "TYPE_ERROR"

	// ErrCodeUndefinedVariable indicates a reference to an unbound name.
	ErrCodeUndefinedVariable RuntimeErrorCode = "UNDEFINED_VARIABLE"

	// ErrCodeUndefinedFunction indicates a call to an unknown function.
	ErrCodeUndefinedFunction RuntimeErrorCode = "UNDEFINED_FUNCTION"

	// ErrCodeArityMismatch indicates a call with the wrong number of arguments.
	ErrCodeArityMismatch RuntimeErrorCode = "ARITY_MISMATCH"

	// ErrCodeIndexOutOfBounds indicates a list or string index outside its length.
	ErrCodeIndexOutOfBounds RuntimeErrorCode = "INDEX_OUT_OF_BOUNDS"

	// ErrCodeInvalidOperation indicates an operation that is never valid,
	// such as assigning to an immutable binding.
	ErrCodeInvalidOperation RuntimeErrorCode = "INVALID_OPERATION"

	// ErrCodeNoMatch indicates a match without a matching arm.
	ErrCodeNoMatch RuntimeErrorCode = "NO_MATCH"

	// ErrCodeDivisionByZero indicates division or modulo by zero.
	ErrCodeDivisionByZero RuntimeErrorCode = "DIVISION_BY_ZERO"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("%s: %s (fn=%s)", e.Code, e.Message, e.Function)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the runtime error code of err, or "" if err is not a RuntimeError.
func CodeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsRuntimeError returns true if err is a RuntimeError.
// Uses errors.As to handle wrapped errors.
func IsRuntimeError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}

func newError(code RuntimeErrorCode, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewTypeError creates a TYPE_ERROR.
func NewTypeError(format string, args ...any) *RuntimeError {
	return newError(ErrCodeTypeError, format, args...)
}

// NewArityError creates an ARITY_MISMATCH.
func NewArityError(name string, expected, got int) *RuntimeError {
	return newError(ErrCodeArityMismatch, "%s expects %d argument(s), got %d", name, expected, got)
}

// NewUndefinedFunctionError creates an UNDEFINED_FUNCTION.
func NewUndefinedFunctionError(name string) *RuntimeError {
	return newError(ErrCodeUndefinedFunction, "Undefined function: %s", name)
}
