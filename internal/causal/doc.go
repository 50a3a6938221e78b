// Package causal implements immutable causal events and the DAG they form.
//
// Every mutation recorded by a store is a causal Event. An event names the
// events it was caused by; the resulting structure is a directed acyclic
// graph that supports ancestor, descendant and merge-base queries.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Event timestamps come from Clock.Next(), a monotonic in-process counter.
// Wall-clock time is NEVER used for ordering: rapid mutations on one
// goroutine would otherwise collide or reorder.
//
// Arena + Handles:
// A Graph keeps events in one slice and refers to them by integer handle.
// Parent/child edges and the topological order are slices of handles, so
// building, copying and traversing a graph never chases nested pointers.
//
// Deterministic Ordering:
// Topological order breaks ties by timestamp and then by arena position.
// Replaying the same events always yields the same order.
package causal
