// Package store implements CausalStore, a named state container that records
// every mutation as a causal event.
//
// A Store owns an append-only arena of events. Branches are named handles
// into that arena; creating a branch copies nothing. Get reads a cached
// projection of the active head, so it never replays history.
//
// Writes (Set, Delete, Merge, Resolve) go through an optional Guard. A
// store created by a universe is guarded by its manager, which validates
// the write against the universe's substrate and rolls it back (Mark /
// Rollback) when validation fails. Subscribers are notified only after a
// write has been accepted.
//
// Thread-safety: all methods are safe for concurrent use. Subscribers run
// on the writer's goroutine after every lock has been released.
package store
