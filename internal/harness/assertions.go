package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/morph/internal/diag"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Function string
	Expected string
	Actual   string
	Trace    []diag.Event
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Function != "" {
		fmt.Fprintf(&buf, " (%s)", e.Function)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s\n", e.Expected, e.Actual)
	if len(e.Trace) > 0 {
		buf.WriteString("\nTrace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", FormatEvent(ev))
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return failures
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertStage:
		return assertStage(r, a)
	case AssertForm:
		return assertForm(r, a)
	case AssertTransitions:
		return assertTransitions(r, a)
	case AssertDiagnosticCount:
		return assertDiagnosticCount(r, a)
	case AssertScoreAtLeast, AssertScoreBelow:
		return assertScore(r, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func unknownFunction(a Assertion) error {
	return &AssertionError{Type: a.Type, Function: a.Function, Expected: "a function of the program", Actual: "not found"}
}

func assertStage(r *Result, a Assertion) error {
	st, ok := r.Status(a.Function)
	if !ok {
		return unknownFunction(a)
	}
	if !strings.EqualFold(st.Stage.String(), a.Stage) {
		return &AssertionError{
			Type:     a.Type,
			Function: a.Function,
			Expected: strings.ToLower(a.Stage),
			Actual:   st.Stage.String(),
			Trace:    eventsFor(r.Trace, a.Function),
		}
	}
	return nil
}

func assertForm(r *Result, a Assertion) error {
	st, ok := r.Status(a.Function)
	if !ok {
		return unknownFunction(a)
	}
	if st.Form != a.Form {
		return &AssertionError{Type: a.Type, Function: a.Function, Expected: a.Form, Actual: st.Form}
	}
	return nil
}

// assertTransitions compares the exact sequence of stage changes, including
// hardening failures and deoptimizations.
func assertTransitions(r *Result, a Assertion) error {
	if _, ok := r.Status(a.Function); !ok {
		return unknownFunction(a)
	}
	var got []string
	for _, ev := range eventsFor(r.Trace, a.Function) {
		if ev.From != "" && ev.To != "" {
			got = append(got, ev.From+"->"+ev.To)
		}
	}
	want := make([]string, len(a.Expect))
	for i, t := range a.Expect {
		from, to, err := parseTransition(t)
		if err != nil {
			return err
		}
		want[i] = from.String() + "->" + to.String()
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return &AssertionError{
			Type:     a.Type,
			Function: a.Function,
			Expected: "[" + strings.Join(want, ", ") + "]",
			Actual:   "[" + strings.Join(got, ", ") + "]",
		}
	}
	return nil
}

func assertDiagnosticCount(r *Result, a Assertion) error {
	count := 0
	for _, ev := range r.Trace {
		if ev.Kind == diag.Kind(a.Kind) && (a.Function == "" || ev.Function == a.Function) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Function: a.Function,
			Expected: fmt.Sprintf("%d %s diagnostics", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    r.Trace,
		}
	}
	return nil
}

func assertScore(r *Result, a Assertion) error {
	st, ok := r.Status(a.Function)
	if !ok {
		return unknownFunction(a)
	}
	if a.Type == AssertScoreAtLeast && st.Score < a.Score {
		return &AssertionError{Type: a.Type, Function: a.Function,
			Expected: fmt.Sprintf(">= %.4f", a.Score), Actual: fmt.Sprintf("%.4f", st.Score)}
	}
	if a.Type == AssertScoreBelow && st.Score >= a.Score {
		return &AssertionError{Type: a.Type, Function: a.Function,
			Expected: fmt.Sprintf("< %.4f", a.Score), Actual: fmt.Sprintf("%.4f", st.Score)}
	}
	return nil
}

func eventsFor(trace []diag.Event, function string) []diag.Event {
	var out []diag.Event
	for _, ev := range trace {
		if ev.Function == function {
			out = append(out, ev)
		}
	}
	return out
}
