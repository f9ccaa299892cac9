// Package harness runs morphing scenarios: scripted call sequences against a
// program, checked against the stage transitions and diagnostics they cause.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: stable_int
//	description: "add settles on integer arguments"
//	program: ../programs/arith.cue
//	thresholds: {t1: 100, t2: 140, s1: 0.9, window: 150, damping: 0.5}
//	calls:
//	  - function: add
//	    args: [1.5, 2.5]
//	    repeat: 10
//	  - function: add
//	    args: [1, 2]
//	    repeat: 140
//	    expect: {result: 3}
//	assertions:
//	  - type: stage
//	    function: add
//	    stage: solid
//	  - type: transitions
//	    function: add
//	    expect: [draft->observe, observe->refine, refine->solid]
//
// The program path is relative to the scenario file. Thresholds default to
// profile.DefaultThresholds.
//
// # Assertion Types
//
//   - stage: the function's final stage
//   - form: the function's final execution form (native or interpreted)
//   - transitions: the exact sequence of stage changes for a function
//   - diagnostic_count: how many diagnostics of a kind were emitted
//   - score_at_least, score_below: bounds on the final stability score
//
// # Determinism
//
// Every scenario runs on a fresh engine with synchronous hardening and an
// in-memory store. Calls are stamped by the engine's logical clock, so the
// diagnostic trace is identical on every run. After the calls, the recorded
// run is replayed into a second engine and the two traces must agree.
package harness
