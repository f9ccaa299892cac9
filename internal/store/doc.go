// Package store provides SQLite-backed persistence for the morphing engine.
//
// The store keeps:
//   - Runs: one row per engine session, identified by a UUIDv7
//   - Call events: every recorded call of a run, in seq order
//   - Diagnostics: promotions, hardening failures, ghost validation
//     failures and deoptimizations of a run
//   - Profiles: the latest engine snapshot, one row per function, keyed by
//     name and body hash, with its shape histogram in the shapes table
//
// # Critical Patterns
//
// Logical Time
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - Replay reads call events ORDER BY seq ASC
//
// Canonical Arguments
//   - Call arguments are stored as canonical JSON so a trace can be
//     executed again with identical values
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
