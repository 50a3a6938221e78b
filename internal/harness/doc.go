// Package harness runs YAML scenarios against a live universe.
//
// A scenario declares stores, a substrate (CUE invariants, clamp repairs and
// arithmetic relations) and an ordered list of steps: writes, branch and
// merge operations, snapshots, lifecycle transitions, and "drive" steps that
// feed synthetic series through the stores while an emergence detector
// samples them.
//
// Every run uses a fresh universe with a logical clock starting at zero, a
// sequential event id generator and a deterministic detector clock, so the
// same scenario always produces the same trace. Traces omit event ids and
// timestamps and are compared against golden files with goldie.
//
// Assertions check the final state:
//   - final_value, branch, event_count, history: per store
//   - dependency, state: the universe
//   - pattern, no_pattern: the emergence detector
//   - rejected_count: steps that returned an error
package harness
