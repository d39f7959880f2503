package orchestrator

import "time"

// Exit codes surfaced to the operator.
const (
	ExitOK             = 0 // every processed item succeeded
	ExitTotalFailure   = 1 // every processed item failed
	ExitPartialFailure = 2 // some items failed
	ExitNothingToDo    = 3 // no candidates after dedup
)

// BatchResult is the final report for one batch run.
type BatchResult struct {
	Total         int           `json:"total"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	OriginalSize  int64         `json:"original_size"`
	ConvertedSize int64         `json:"converted_size"`
	Duration      time.Duration `json:"duration"`
}

// SpaceSaved returns bytes saved across all completed conversions.
// Negative when outputs grew.
func (r BatchResult) SpaceSaved() int64 {
	return r.OriginalSize - r.ConvertedSize
}

// ExitCode maps the result onto the process exit code contract.
func (r BatchResult) ExitCode() int {
	switch {
	case r.Total == 0 || r.Succeeded+r.Failed == 0:
		return ExitNothingToDo
	case r.Failed == 0:
		return ExitOK
	case r.Succeeded == 0:
		return ExitTotalFailure
	default:
		return ExitPartialFailure
	}
}
