// Package interp is the reference execution form of morph functions.
//
// The interpreter walks the IR and keeps every value in a pulse arena, so
// ownership mistakes the static analysis would reject surface at run time as
// pulse errors. Value semantics live in ops.go and are shared with the
// hardened form.
package interp
