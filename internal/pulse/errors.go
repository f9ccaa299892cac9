package pulse

import (
	"errors"
	"fmt"
)

// Error represents a violation of the zone ownership discipline.
//
// Violations include:
//   - Dangling pulse: a value would outlive the zone that owns it
//   - Ownership conflict: a claim or adoption targets a sealed zone, or a
//     parcel is adopted twice
//   - Not direct parent: a claim skips a level of the zone stack
//   - Invalid parent: a zone is opened under anything but the innermost
//     open zone
//   - Zone nesting: a zone is sealed while a descendant is still open
//
// Errors raised by the static analyzer carry Path; errors raised by the
// arena carry Zone and Target.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Zone is the zone being operated on.
	Zone ZoneID

	// Target is the claim or adoption target, when relevant.
	Target ZoneID

	// Path locates a static violation inside the function body.
	Path string
}

// ErrorCode categorizes ownership errors.
type ErrorCode string

const (
	// ErrCodeDanglingPulse indicates a value would outlive its owning zone.
	ErrCodeDanglingPulse ErrorCode = "DANGLING_PULSE"

	// ErrCodeOwnershipConflict indicates a sealed target or a double move.
	ErrCodeOwnershipConflict ErrorCode = "OWNERSHIP_CONFLICT"

	// ErrCodeNotDirectParent indicates a claim that skips a level.
	ErrCodeNotDirectParent ErrorCode = "NOT_DIRECT_PARENT"

	// ErrCodeInvalidParent indicates Open under a sealed or non-innermost zone.
	ErrCodeInvalidParent ErrorCode = "INVALID_PARENT"

	// ErrCodeZoneNesting indicates Seal while a descendant is open.
	ErrCodeZoneNesting ErrorCode = "ZONE_NESTING"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (at %s)", e.Code, e.Message, e.Path)
	}
	if e.Target != NoZone {
		return fmt.Sprintf("%s: %s (zone=%d, target=%d)", e.Code, e.Message, e.Zone, e.Target)
	}
	if e.Zone != NoZone {
		return fmt.Sprintf("%s: %s (zone=%d)", e.Code, e.Message, e.Zone)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code ErrorCode) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsDanglingPulse returns true if err is a dangling pulse error.
// Uses errors.As to handle wrapped errors.
func IsDanglingPulse(err error) bool { return hasCode(err, ErrCodeDanglingPulse) }

// IsOwnershipConflict returns true if err is an ownership conflict.
func IsOwnershipConflict(err error) bool { return hasCode(err, ErrCodeOwnershipConflict) }

// IsNotDirectParent returns true if err is a claim that skipped a level.
func IsNotDirectParent(err error) bool { return hasCode(err, ErrCodeNotDirectParent) }

// IsInvalidParent returns true if err is an invalid parent error.
func IsInvalidParent(err error) bool { return hasCode(err, ErrCodeInvalidParent) }

// IsZoneNesting returns true if err is a zone nesting error.
func IsZoneNesting(err error) bool { return hasCode(err, ErrCodeZoneNesting) }

// NewDanglingPulseError creates an Error for a value outliving its zone.
func NewDanglingPulseError(zone ZoneID, message string) *Error {
	return &Error{Code: ErrCodeDanglingPulse, Message: message, Zone: zone}
}

// NewOwnershipConflictError creates an Error for a sealed target or double move.
func NewOwnershipConflictError(zone, target ZoneID, message string) *Error {
	return &Error{Code: ErrCodeOwnershipConflict, Message: message, Zone: zone, Target: target}
}

// NewNotDirectParentError creates an Error for a claim that skips a level.
func NewNotDirectParentError(zone, target ZoneID) *Error {
	return &Error{
		Code:    ErrCodeNotDirectParent,
		Message: "claim target is not the direct parent of the owning zone",
		Zone:    zone,
		Target:  target,
	}
}

// NewInvalidParentError creates an Error for Open under an unusable parent.
func NewInvalidParentError(parent ZoneID, message string) *Error {
	return &Error{Code: ErrCodeInvalidParent, Message: message, Zone: parent}
}

// NewZoneNestingError creates an Error for sealing out of stack order.
func NewZoneNestingError(zone ZoneID, message string) *Error {
	return &Error{Code: ErrCodeZoneNesting, Message: message, Zone: zone}
}

// staticError creates an analyzer violation located by path.
func staticError(code ErrorCode, path, message string) *Error {
	return &Error{Code: code, Message: message, Path: path}
}
