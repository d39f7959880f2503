// Package progress turns the line-oriented key=value telemetry emitted
// by ffmpeg's -progress output into normalized progress samples, and
// aggregates per-task fractions into an overall batch fraction.
//
// The parser is a pure fold over lines: it holds no goroutines and
// spawns no processes, so it can be tested against canned telemetry.
package progress
