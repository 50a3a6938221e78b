// Package emergence detects higher-order behaviour across the stores of a
// universe.
//
// A Detector samples every store of a Source once per tick, keeps the last
// WindowSize samples per store in a ring, and runs each enabled detector
// over an immutable Window of those samples. Detectors are pure functions:
// the same window always yields the same finding. Findings at or above
// MinConfidence are accumulated and exposed through Patterns.
//
// Sampling never writes to the source. Stores holding non-numeric values
// are projected onto a number with ir.Magnitude.
package emergence
