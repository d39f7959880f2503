package task

// OutcomeKind discriminates the closed set of per-task results.
type OutcomeKind int

const (
	// OutcomeSucceeded means the task completed all pipeline stages.
	OutcomeSucceeded OutcomeKind = iota
	// OutcomeFailed means retries were exhausted or the failure was permanent.
	OutcomeFailed
	// OutcomeSkipped means the task was not processed (already converted,
	// already in the target codec, or excluded by dedup).
	OutcomeSkipped
)

// Outcome is the result of driving one task through the pipeline.
// Exactly one of the payload fields is meaningful for each kind.
type Outcome struct {
	Kind     OutcomeKind
	TaskID   string
	Category Category // set when Kind == OutcomeFailed
	Message  string   // failure message or skip reason

	// Byte sizes for space accounting, set on success.
	OriginalSize  int64
	ConvertedSize int64
}

// Succeeded builds a success outcome.
func Succeeded(taskID string, originalSize, convertedSize int64) Outcome {
	return Outcome{
		Kind:          OutcomeSucceeded,
		TaskID:        taskID,
		OriginalSize:  originalSize,
		ConvertedSize: convertedSize,
	}
}

// Failed builds a failure outcome.
func Failed(taskID string, category Category, message string) Outcome {
	return Outcome{Kind: OutcomeFailed, TaskID: taskID, Category: category, Message: message}
}

// Skipped builds a skip outcome.
func Skipped(taskID, reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, TaskID: taskID, Message: reason}
}

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}
