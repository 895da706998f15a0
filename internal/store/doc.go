// Package store provides SQLite-backed persistence of engine sessions and
// plugin save-state snapshots.
//
// # Layout
//
//   - sessions: one row per engine run, keyed by a UUIDv7 session id
//   - plugin_states: save-state snapshots per plugin instance, ordered by a
//     per-session seq (the logical time of the collect call that produced
//     them), never by wall-clock time
//
// # Idempotency
//
// A snapshot whose state hash equals the latest stored for its plugin is
// not written, and UNIQUE(session_id, unique_id, seq) with ON CONFLICT DO
// NOTHING makes retrying a write a no-op. State hashes come from
// ir.SaveStateHash.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
