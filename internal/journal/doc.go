// Package journal provides durable storage for universe event histories.
//
// A journal is an append-only log of causal events keyed by universe, plus
// the latest saved branch pointers of every store. Two backends implement
// Journal:
//   - SQLite: a single database file in WAL mode
//   - Badger: an embedded key-value store, optionally in memory
//
// # Ordering
//
// Load returns events ordered by logical timestamp, then id (byte order).
// Wall time is never stored, so a replay of the same journal always yields
// the same history.
//
// # Idempotency
//
// Append ignores an event whose (universe, id) is already present, so a
// universe can be checkpointed repeatedly and a sink can be retried.
//
// Archives are zstd-compressed universe documents for export and transfer.
package journal
