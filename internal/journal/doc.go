// Package journal records what the dispatch engine did, in a SQLite file.
//
// Every session gets a row in sessions. Every dispatch outcome gets a row in
// dispatches: one per processor hook that ran (ok or failed), one per event
// that no processor accepted (noop), and one per processor in a cold pass
// (kind "cold").
//
// # Ordering
//
// Rows are ordered by seq, a logical clock owned by the engine, and then by
// insertion id. Wall time is stored for sessions only, for display.
//
// # Database Configuration
//
//   - WAL mode: history can be read while a session writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//   - a single connection, so there is exactly one writer
package journal
