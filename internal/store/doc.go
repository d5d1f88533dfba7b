// Package store provides SQLite-backed durable storage for committed proof
// witnesses and materialization reports.
//
// The store holds two tables:
//   - Witnesses: one committed proof result per obligation hash
//   - Reports: the append-only log of materialization summaries
//
// # Critical Patterns
//
// Witness Immutability
//   - Keyed by obligation hash with ON CONFLICT DO NOTHING
//   - A witness is never rewritten, only invalidated (deleted)
//   - A proof cache session commits its batch in one transaction, so a
//     failed commit leaves no partial state
//
// Append-Only Reports
//   - UNIQUE(run_id); a second report for a run is refused
//   - BEFORE UPDATE and BEFORE DELETE triggers abort
//
// Deterministic Listings
//   - Witness rows carry a logical seq, reports an AUTOINCREMENT seq
//   - Listings order by seq, NEVER by timestamps
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Witness evidence is stored as RFC 8785 canonical JSON (internal/ir), so
// the stored text rehashes to the witness ID.
package store
