package ghost

import (
	"errors"
	"fmt"

	"github.com/roach88/morph/internal/ir"
)

var (
	// ErrUnknownType is returned for operations on an unregistered name.
	ErrUnknownType = errors.New("unknown ghost type")

	// ErrErased is returned when annotating a type that was already erased.
	ErrErased = errors.New("ghost type is erased and immutable")
)

// ValidationError reports a value that violates a ghost predicate.
// It is recoverable: the caller sees it as the result of the call.
type ValidationError struct {
	// Type is the ghost type name.
	Type string

	// Reason is a human-readable description of the violated predicate.
	Reason string

	// Value is the offending value.
	Value ir.Value
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("ghost validation failed for %s: %s", e.Type, e.Reason)
}

// ConflictError reports two layout directives that cannot both hold.
type ConflictError struct {
	Type      string
	Directive string
	Existing  string
	Incoming  string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("ghost type %s: conflicting %s directives (%s vs %s)",
		e.Type, e.Directive, e.Existing, e.Incoming)
}

// IsValidationError returns true if err is a ghost validation error.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflictError returns true if err is a ghost conflict error.
func IsConflictError(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
