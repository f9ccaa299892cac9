// Package engine implements the morphing engine.
//
// The engine owns one context per program function and moves each through
// the stage pipeline as calls arrive.
//
// ARCHITECTURE:
//
// Call Path:
// 1. Invoke takes a pooled arena and stamps the call with Clock.Next()
// 2. The argument shape is recorded in the function's profile
// 3. A transition into Refine triggers single-flight hardening
// 4. An installed native form runs behind its shape guard
// 5. A guard miss uninstalls the form (one winner) and the call runs on
// the interpreter, on the same arena
//
// Nested calls go through Engine.Call, so callees are profiled and hardened
// independently of their callers.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Calls and diagnostics are stamped with seq from Clock.Next().
// Wall-clock time never orders events.
//
// Deterministic Promotion:
// With synchronous hardening a given sequence of call shapes always yields
// the same transitions and diagnostics. Replay relies on this.
//
// Ownership Across Stacks:
// Delegation moves values between arenas as parcels. No value is reachable
// from two stacks.
package engine
