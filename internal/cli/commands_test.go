package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morph/internal/diag"
)

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// decodeData unmarshals the data of a JSON response into v.
func decodeData(t *testing.T, out string, v any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), "output: %s", out)
	if v != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, v))
	}
	return env
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "morph.db")
}

func TestCompile(t *testing.T) {
	out, _, err := execute(t, "compile", "testdata/arith.cue")
	require.NoError(t, err)
	assert.Contains(t, out, "Compiled 1 type(s), 2 function(s)")
	assert.Contains(t, out, "add(2)")
	assert.Contains(t, out, "Percent: Int [min max]")
}

func TestCompileJSON(t *testing.T) {
	out, _, err := execute(t, "compile", "testdata/arith.cue", "--format", "json")
	require.NoError(t, err)

	var res CompilationResult
	env := decodeData(t, out, &res)
	assert.Equal(t, "ok", env.Status)
	require.Len(t, res.Functions, 2)
	assert.Equal(t, "add", res.Functions[0].Name)
	assert.Equal(t, []string{"p: Percent"}, res.Functions[1].Params)
	assert.Equal(t, "Int", res.Functions[1].Returns)
	assert.Len(t, res.ProgramHash, 64)
}

func TestCompileOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arith.ir")
	out, _, err := execute(t, "compile", "testdata/arith.cue", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote canonical form to")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "add")
}

func TestCompileMissingFile(t *testing.T) {
	_, _, err := execute(t, "compile", "testdata/nope.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestValidate(t *testing.T) {
	out, _, err := execute(t, "validate", "testdata/arith.cue")
	require.NoError(t, err)
	assert.Contains(t, out, "Program is valid")
}

func TestValidateUndefinedName(t *testing.T) {
	out, _, err := execute(t, "validate", "testdata/undefined.cue", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res ValidationResult
	env := decodeData(t, out, &res)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeInvalid, env.Error.Code)
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0].Message, `undefined name "missing"`)
}

func TestInvokeRejectsInvalidProgram(t *testing.T) {
	_, _, err := execute(t, "invoke", "testdata/undefined.cue", "broken", "--args", "[1]")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeInvalid)
}

func TestInvoke(t *testing.T) {
	out, _, err := execute(t, "invoke", "testdata/arith.cue", "add", "--args", "[1, 2]")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}

func TestInvokeJSON(t *testing.T) {
	out, _, err := execute(t, "invoke", "testdata/arith.cue", "add", "--args", "[1.5, 2]", "--format", "json")
	require.NoError(t, err)

	var res InvokeResult
	decodeData(t, out, &res)
	assert.Equal(t, "add", res.Function)
	assert.Equal(t, 3.5, res.Result)
	assert.Equal(t, 1, res.Calls)
	assert.Equal(t, "draft", res.Status.Stage)
	assert.Empty(t, res.RunID, "no database, no run")
}

func TestInvokeBadArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"not json", []string{"--args", "{oops"}},
		{"not an array", []string{"--args", `{"a": 1}`}},
		{"zero repeat", []string{"--args", "[1, 2]", "--repeat", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"invoke", "testdata/arith.cue", "add"}, tt.args...)
			_, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), ErrCodeBadArgs)
		})
	}
}

func TestInvokeUnknownFunction(t *testing.T) {
	_, _, err := execute(t, "invoke", "testdata/arith.cue", "mul", "--args", "[1, 2]")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestInvokeGhostViolation(t *testing.T) {
	out, _, err := execute(t, "invoke", "testdata/arith.cue", "clamp", "--args", "[150]", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res InvokeResult
	env := decodeData(t, out, &res)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeCall, env.Error.Code)
	assert.Contains(t, env.Error.Message, "Value 150 is greater than maximum 100")
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.KindGhostValidation, res.Diagnostics[0].Kind)
}

func TestInvokeHardensWithRepeat(t *testing.T) {
	db := tempDB(t)
	out, _, err := execute(t, "invoke", "testdata/arith.cue", "add", "--args", "[1, 2]",
		"--repeat", "10", "--config", "testdata/fast.yaml", "--db", db, "--format", "json")
	require.NoError(t, err)

	var res InvokeResult
	decodeData(t, out, &res)
	assert.Equal(t, 10, res.Calls)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "solid", res.Status.Stage)
	assert.Equal(t, "native", res.Status.Form)
	assert.Equal(t, "(i64,i64)", res.Status.Native)

	var transitions []string
	for _, ev := range res.Diagnostics {
		transitions = append(transitions, ev.From+"->"+ev.To)
	}
	assert.Equal(t, []string{"draft->observe", "observe->refine", "refine->solid"}, transitions)
}

// seed invokes add ten times with the fast thresholds, leaving one run and
// a snapshot in db.
func seed(t *testing.T, db string) {
	t.Helper()
	_, _, err := execute(t, "invoke", "testdata/arith.cue", "add", "--args", "[1, 2]",
		"--repeat", "10", "--config", "testdata/fast.yaml", "--db", db)
	require.NoError(t, err)
}

func TestStatusRestoresSnapshot(t *testing.T) {
	db := tempDB(t)
	seed(t, db)

	out, _, err := execute(t, "status", "testdata/arith.cue", "--config", "testdata/fast.yaml", "--db", db,
		"--function", "add", "--format", "json")
	require.NoError(t, err)

	var res StatusResult
	decodeData(t, out, &res)
	require.Len(t, res.Functions, 2)
	add := res.Functions[0]
	assert.Equal(t, "add", add.Name)
	assert.Equal(t, "observe", add.Stage, "a solid profile restores as observe")
	assert.Equal(t, "interpreted", add.Form)
	assert.EqualValues(t, 10, add.Calls)
	assert.Equal(t, "draft", res.Functions[1].Stage)

	require.Len(t, res.Shapes, 1)
	assert.Equal(t, "(i64,i64)", res.Shapes[0].Shape)
	assert.EqualValues(t, 10, res.Shapes[0].Total)
}

func TestStatusNeedsDatabase(t *testing.T) {
	_, _, err := execute(t, "status", "testdata/arith.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeStore)
}

func TestHardenWithoutShapes(t *testing.T) {
	out, _, err := execute(t, "harden", "testdata/arith.cue", "add", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	env := decodeData(t, out, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeHarden, env.Error.Code)
	assert.Contains(t, env.Error.Message, "no concrete shape observed")
}

func TestHardenRestoredProfile(t *testing.T) {
	db := tempDB(t)
	seed(t, db)

	out, _, err := execute(t, "harden", "testdata/arith.cue", "add", "--config", "testdata/fast.yaml", "--db", db,
		"--format", "json")
	require.NoError(t, err)

	var res HardenResult
	decodeData(t, out, &res)
	assert.Equal(t, "add", res.Function)
	assert.Equal(t, "(i64,i64)", res.Shape)
	assert.NotEmpty(t, res.Hash)
}

func TestReplayLatestRun(t *testing.T) {
	db := tempDB(t)
	seed(t, db)

	out, _, err := execute(t, "replay", "testdata/arith.cue", "--db", db, "--format", "json")
	require.NoError(t, err)

	var res ReplayOutput
	decodeData(t, out, &res)
	assert.True(t, res.Match)
	assert.Equal(t, 10, res.Calls)
	assert.Len(t, res.Recorded, 3)
	assert.Equal(t, res.Recorded, res.Replayed)
}

func TestReplayText(t *testing.T) {
	db := tempDB(t)
	seed(t, db)

	out, _, err := execute(t, "replay", "testdata/arith.cue", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 10 call(s)")
	assert.Contains(t, out, "Transitions match")
}

func TestReplayProgramDrift(t *testing.T) {
	db := tempDB(t)
	seed(t, db)

	_, _, err := execute(t, "replay", "testdata/undefined.cue", "--db", db)
	require.Error(t, err)
	// undefined.cue does not validate, so it never reaches the hash check.
	assert.Contains(t, err.Error(), ErrCodeInvalid)

	drifted := filepath.Join(t.TempDir(), "drifted.cue")
	src, err := os.ReadFile("testdata/arith.cue")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(drifted, append(src, []byte("\nfunctions: one: body: result: {lit: 1}\n")...), 0o644))

	_, _, err = execute(t, "replay", drifted, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeProgramDrift)
}

func TestReplayUnknownRun(t *testing.T) {
	db := tempDB(t)
	seed(t, db)

	_, _, err := execute(t, "replay", "testdata/arith.cue", "--db", db, "--run", "no-such-run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestReplayNoRuns(t *testing.T) {
	_, _, err := execute(t, "replay", "testdata/arith.cue", "--db", tempDB(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runs recorded")
}

func TestTrace(t *testing.T) {
	db := tempDB(t)
	seed(t, db)

	out, _, err := execute(t, "trace", "--db", db, "--format", "json")
	require.NoError(t, err)

	var res TraceResult
	decodeData(t, out, &res)
	require.Len(t, res.Entries, 13)
	assert.Equal(t, "call", res.Entries[0].Type)
	assert.EqualValues(t, 1, res.Entries[0].Seq)
	assert.Equal(t, []any{float64(1), float64(2)}, res.Entries[0].Args)

	// The promotion at seq 5 follows the fifth call.
	assert.Equal(t, "call", res.Entries[4].Type)
	assert.Equal(t, string(diag.KindPromotion), res.Entries[5].Type)
	assert.EqualValues(t, 5, res.Entries[5].Seq)
}

func TestTraceFunctionFilter(t *testing.T) {
	db := tempDB(t)
	seed(t, db)

	out, _, err := execute(t, "trace", "--db", db, "--function", "clamp", "--format", "json")
	require.NoError(t, err)

	var res TraceResult
	decodeData(t, out, &res)
	assert.Empty(t, res.Entries)
}

func TestRunCallTrace(t *testing.T) {
	db := tempDB(t)
	out, _, err := execute(t, "run", "testdata/arith.cue", "testdata/calls.yaml",
		"--config", "testdata/fast.yaml", "--db", db, "--format", "json")
	require.NoError(t, err)

	var res RunResult
	decodeData(t, out, &res)
	assert.Equal(t, 11, res.Calls)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.RunID)

	kinds := map[diag.Kind]int{}
	for _, ev := range res.Diagnostics {
		kinds[ev.Kind]++
	}
	assert.Equal(t, map[diag.Kind]int{diag.KindPromotion: 3, diag.KindGhostValidation: 1}, kinds)

	// Ghost validations do not take part in the comparison.
	_, _, err = execute(t, "replay", "testdata/arith.cue", "--db", db)
	require.NoError(t, err)
}

func TestRunFailedExpectation(t *testing.T) {
	out, _, err := execute(t, "run", "testdata/arith.cue", "testdata/wrong_calls.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Failures:")
	assert.Contains(t, out, "expected 4, got 3")
}

func TestRunMissingCalls(t *testing.T) {
	_, _, err := execute(t, "run", "testdata/arith.cue", "testdata/nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	golden := t.TempDir()

	out, _, err := execute(t, "test", "testdata/scenarios", "--filter", "fast_*", "--golden", golden, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "fast_int (10 calls, golden updated)")
	assert.FileExists(t, filepath.Join(golden, "fast_int.golden"))

	out, _, err = execute(t, "test", "testdata/scenarios", "--filter", "fast_*", "--golden", golden, "--format", "json")
	require.NoError(t, err)

	var res TestResult
	decodeData(t, out, &res)
	assert.Equal(t, 1, res.Passed)
	require.Len(t, res.Scenarios, 1)
	assert.Equal(t, "match", res.Scenarios[0].Golden)
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "fast_int.golden"), []byte("stale\n"), 0o644))

	_, _, err := execute(t, "test", "testdata/scenarios", "--filter", "fast_*", "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeTestFailed)
}

func TestTestCommandFailingAssertion(t *testing.T) {
	out, _, err := execute(t, "test", "testdata/scenarios", "--filter", "wrong_*", "--golden", t.TempDir(), "--update",
		"--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res TestResult
	decodeData(t, out, &res)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Scenarios, 1)
	require.NotEmpty(t, res.Scenarios[0].Errors)
	assert.Contains(t, res.Scenarios[0].Errors[0], "Expected: solid")
}

func TestTestCommandBadFilter(t *testing.T) {
	_, _, err := execute(t, "test", "testdata/scenarios", "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandNoMatches(t *testing.T) {
	_, _, err := execute(t, "test", "testdata/scenarios", "--filter", "zzz*")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no scenarios")
}
