package harness

import (
	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/engine"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held and the
	// replayed trace matched.
	Pass bool

	// Calls is the number of top-level invocations made.
	Calls int

	// Trace is every diagnostic emitted during the live run, in order.
	Trace []diag.Event

	// Final is the status of every function after the last call.
	Final []engine.FunctionStatus

	// ReplayMatched reports whether replaying the recorded run reproduced
	// the live run's stage transitions.
	ReplayMatched bool

	// Errors lists every failure.
	Errors []string
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Status returns the final status of a function.
func (r *Result) Status(function string) (engine.FunctionStatus, bool) {
	for _, st := range r.Final {
		if st.Name == function {
			return st, true
		}
	}
	return engine.FunctionStatus{}, false
}
