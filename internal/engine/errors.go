package engine

import (
	"errors"
	"fmt"
)

// Error represents a failure of the engine itself, as opposed to a failure
// of the function being run.
//
// Engine errors include:
//   - Unknown function: the name is not in the loaded program
//   - Engine closed: the engine no longer accepts calls
//   - Capability denied: the host refused a delegation
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Function names the affected function, if any.
	Function string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeUnknownFunction indicates the program has no such function.
	ErrCodeUnknownFunction ErrorCode = "UNKNOWN_FUNCTION"

	// ErrCodeEngineClosed indicates a call after Close.
	ErrCodeEngineClosed ErrorCode = "ENGINE_CLOSED"

	// ErrCodeCapabilityDenied indicates the capability check refused an operation.
	ErrCodeCapabilityDenied ErrorCode = "CAPABILITY_DENIED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("%s: %s (function=%s)", e.Code, e.Message, e.Function)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsUnknownFunction returns true if err is an unknown function error.
// Uses errors.As to handle wrapped errors.
func IsUnknownFunction(err error) bool { return hasCode(err, ErrCodeUnknownFunction) }

// IsClosed returns true if err reports a closed engine.
func IsClosed(err error) bool { return hasCode(err, ErrCodeEngineClosed) }

// IsCapabilityDenied returns true if err is a capability refusal.
func IsCapabilityDenied(err error) bool { return hasCode(err, ErrCodeCapabilityDenied) }

// NewUnknownFunctionError creates an unknown function error.
func NewUnknownFunctionError(name string) *Error {
	return &Error{
		Code:     ErrCodeUnknownFunction,
		Message:  "function is not defined in the loaded program",
		Function: name,
	}
}

// NewClosedError creates an engine closed error.
func NewClosedError() *Error {
	return &Error{Code: ErrCodeEngineClosed, Message: "engine is closed"}
}

// NewCapabilityDeniedError creates a capability refusal for capability on name.
func NewCapabilityDeniedError(name, capability string) *Error {
	return &Error{
		Code:     ErrCodeCapabilityDenied,
		Message:  fmt.Sprintf("capability %q denied", capability),
		Function: name,
	}
}
