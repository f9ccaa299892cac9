package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/morph/internal/diag"
)

// FormatEvent renders a diagnostic on one line. Ghost validation messages
// are left out; the call that failed already reports them.
func FormatEvent(ev diag.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "seq=%d %s %s", ev.Seq, ev.Kind, ev.Function)
	if ev.From != "" || ev.To != "" {
		fmt.Fprintf(&b, " %s->%s", ev.From, ev.To)
	}
	if ev.Shape != "" {
		fmt.Fprintf(&b, " shape=%s", ev.Shape)
	}
	if ev.Kind != diag.KindGhostValidation {
		fmt.Fprintf(&b, " score=%.4f", ev.Score)
		if ev.Message != "" {
			fmt.Fprintf(&b, " message=%q", ev.Message)
		}
	}
	return b.String()
}

// FormatResult renders a result as the text stored in golden files: the
// diagnostic trace, then the final status of every function, then the
// replay verdict.
func FormatResult(name string, r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", name)
	fmt.Fprintf(&b, "calls %d\n", r.Calls)
	for _, ev := range r.Trace {
		b.WriteString(FormatEvent(ev))
		b.WriteByte('\n')
	}
	for _, st := range r.Final {
		fmt.Fprintf(&b, "final %s stage=%s form=%s calls=%d score=%.4f", st.Name, st.Stage, st.Form, st.Calls, st.Score)
		if st.Dominant != "" {
			fmt.Fprintf(&b, " dominant=%s", st.Dominant)
		}
		b.WriteByte('\n')
	}
	if r.ReplayMatched {
		b.WriteString("replay match\n")
	} else {
		b.WriteString("replay diverged\n")
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its rendering against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, FormatResult(name, result))
}
