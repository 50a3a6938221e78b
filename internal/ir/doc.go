// Package ir provides the sealed value model carried by causal events.
//
// All other internal packages import ir; ir imports nothing internal. This
// keeps the value model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Values are a closed set (null, string, int, float, bool, array, object)
//   - Integers and floats are distinct kinds and survive export/import
//   - Canonical JSON (MarshalCanonical) is the only input to digests
//   - Values are treated as immutable once recorded in a store
package ir
