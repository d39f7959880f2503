// Package workers determines the conversion worker pool size,
// respecting container CPU limits via GOMAXPROCS.
package workers

import (
	"os"
	"runtime"
	"strconv"
)

// DefaultConcurrency is the stock pool size. Encodes are heavily
// CPU-bound and ffmpeg parallelizes internally, so two concurrent
// encodes saturate most machines.
const DefaultConcurrency = 2

// Count returns the worker pool size. Order of precedence: the
// CONVERT_WORKERS environment variable, then the requested value, then
// DefaultConcurrency. The result is always capped at the available
// CPUs (GOMAXPROCS reflects container limits in Go 1.19+).
func Count(requested int) int {
	if override := os.Getenv("CONVERT_WORKERS"); override != "" {
		if n, err := strconv.Atoi(override); err == nil && n > 0 {
			requested = n
		}
	}
	if requested <= 0 {
		requested = DefaultConcurrency
	}

	if available := runtime.GOMAXPROCS(0); requested > available {
		return available
	}
	return requested
}
