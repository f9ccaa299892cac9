package harden

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when a job is submitted to a closed controller.
var ErrClosed = errors.New("hardening controller closed")

// Failure reports that a function could not be hardened for a shape.
// It is never fatal: the function keeps running interpreted.
type Failure struct {
	// Function is the function being hardened.
	Function string

	// Shape is the canonical key of the target shape.
	Shape string

	// Cause is the underlying reason: a pulse violation, a refused ghost
	// check, or a construct that is ill-typed under the shape.
	Cause error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("hardening failure for %s%s: %v", f.Function, f.Shape, f.Cause)
}

// Unwrap returns the cause.
func (f *Failure) Unwrap() error { return f.Cause }

// IsFailure returns true if err is a hardening Failure.
// Uses errors.As to handle wrapped errors.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

func fail(fn, shape string, format string, args ...any) *Failure {
	return &Failure{Function: fn, Shape: shape, Cause: fmt.Errorf(format, args...)}
}
