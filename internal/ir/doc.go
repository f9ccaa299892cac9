// Package ir provides the intermediate representation consumed by the
// morphing engine.
//
// This package contains definitions only: runtime values, expression and
// statement nodes, type shapes, canonical serialization and content hashes.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Shapes are compared structurally by Key(), never by identity
//   - Values are immutable once constructed; a List or Record is never
//     mutated after it is handed to the engine
//   - Canonical JSON distinguishes i64 from f64 (floats always carry a
//     fraction or exponent) so recorded calls replay with the same shape
//   - All JSON tags use snake_case
package ir

// Version constants for the IR schema and engine.
const (
	// IRVersion is the IR schema version.
	IRVersion = "1"

	// EngineVersion is the morph engine version.
	EngineVersion = "0.1.0"
)
