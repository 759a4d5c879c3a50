// Package conflict detects when two or more peers edit the same path
// within a trailing time window, surfacing a ConflictRecord for human
// or policy-driven resolution. It intentionally never resolves
// anything itself — merge semantics live entirely in pkg/engine;
// Tracker only tells callers where to look.
package conflict
