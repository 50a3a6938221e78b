// Package universe implements UniverseManager: the owner of a set of
// causal stores and the substrate that governs them.
//
// A Manager is the only writer of its stores. Every store it creates is
// guarded by the manager, so a Set on any store:
//
//  1. takes the manager lock (one mutation per universe at a time)
//  2. records the event
//  3. runs substrate.Enforce: relations, invariants, repairs
//  4. on failure, rolls every store back to its pre-mutation mark
//  5. releases the lock, then notifies subscribers and the journal sink
//
// Snapshot, Restore and Fork take the same lock, so they never observe a
// half-applied mutation.
//
// Lifecycle: idle -> running <-> paused, and any state -> destroyed
// (terminal). Paused universes reject mutations with PAUSED; reads
// continue to work.
package universe
