// Package ir provides the shared vocabulary of the plughost engine.
//
// This package contains identity, save-state, request/result and event
// types. All other internal packages import ir; ir imports nothing
// internal. This keeps ir the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Identities are value types and safe to copy across threads
//   - Unique ids come from a monotonic Clock, never from wall time
//   - Save states marshal to canonical JSON (see canonical.go) so the
//     engine can tell when a plugin's persisted state actually changed
//   - All JSON tags use snake_case
package ir
