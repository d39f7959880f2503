// Package statusserver exposes a read-only HTTP surface over a running
// batch: health, the current session snapshot, aggregated progress, and
// Prometheus metrics. It is an inspection endpoint, not a control
// plane; nothing here mutates the run.
package statusserver
