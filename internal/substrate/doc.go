// Package substrate implements the constraint engine: named collections of
// invariants, repairs and cross-store relations (the "laws" of a universe).
//
// Constraints are declarative values. A Substrate never holds state of its
// own; it reads and writes stores through a World.
//
// Evaluation order is part of the contract:
//   - relations fire in constraint declaration order, then relation
//     declaration order within a constraint
//   - writes produced by relations and repairs are drained breadth-first
//     through a FIFO work queue, one generation per round
//   - invariants are checked after every round, in store order then
//     constraint order
//
// A round budget (Options.MaxIterations, default 10) guarantees
// termination: a substrate that keeps producing writes fails with
// REPAIR_DIVERGENCE instead of looping.
package substrate
