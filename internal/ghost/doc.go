// Package ghost resolves ghost types: named types whose tags (validation
// predicates and layout directives) exist only while a function is
// interpreted, and are erased when it is hardened.
//
// Lifecycle of a type: Annotate (any number of tags) → Validate (every
// interpreted binding) → Erase (once per hardened kind, then immutable).
// Erasure never drops a predicate it cannot prove; the caller either keeps
// the residual check or refuses to harden, according to Policy.
package ghost
