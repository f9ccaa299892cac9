// Package harden turns a stable function into a native form and takes it
// back out again.
//
// A native form is a tree of Go closures specialized to one argument shape.
// Building it runs the pulse ownership analysis, erases the function's ghost
// types for the observed kinds and infers the kind of every expression, so
// integer and float arithmetic compile to direct operations. Operations
// without a fast path call the interpreter's value semantics.
//
// The Controller schedules builds single-flight per function and uninstalls
// forms on deoptimization.
package harden
