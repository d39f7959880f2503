package task

import (
	"crypto/sha1" //nolint:gosec // fingerprint for dedup, not security
	"fmt"
	"os"
	"time"
)

// Status is the state-machine value for a VideoTask.
type Status string

const (
	StatusDiscovered    Status = "discovered"
	StatusQueued        Status = "queued"
	StatusExporting     Status = "exporting"
	StatusExported      Status = "exported"
	StatusExportFailed  Status = "export_failed"
	StatusConverting    Status = "converting"
	StatusConverted     Status = "converted"
	StatusConvertFailed Status = "convert_failed"
	StatusValidating    Status = "validating"
	StatusValidated     Status = "validated"
	StatusFinalizing    Status = "finalizing"
	StatusCompleted     Status = "completed"
	StatusSkipped       Status = "skipped"
	StatusFailed        Status = "failed"
)

// transitions maps each status to the set of statuses it may enter next.
// Failure statuses loop back to their preceding active status on retry,
// or drop to StatusFailed on skip.
var transitions = map[Status][]Status{
	StatusDiscovered:    {StatusQueued, StatusSkipped},
	StatusQueued:        {StatusExporting, StatusSkipped, StatusQueued},
	StatusExporting:     {StatusExported, StatusExportFailed, StatusQueued},
	StatusExported:      {StatusConverting},
	StatusExportFailed:  {StatusExporting, StatusFailed},
	StatusConverting:    {StatusConverted, StatusConvertFailed, StatusQueued},
	StatusConverted:     {StatusValidating},
	StatusConvertFailed: {StatusConverting, StatusFailed},
	StatusValidating:    {StatusValidated, StatusConvertFailed},
	StatusValidated:     {StatusFinalizing},
	StatusFinalizing:    {StatusCompleted},
	StatusCompleted:     {},
	StatusSkipped:       {},
	StatusFailed:        {},
}

// CanTransition reports whether moving from one status to another is a
// legal state-machine step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status is terminal.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusFailed
}

// Category classifies a failure for retry decisions.
type Category string

const (
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
	CategoryUnknown   Category = "unknown"
)

// TaskError is the last error recorded against a task, persisted with
// the session so resumed runs keep failure context.
type TaskError struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// VideoTask is one file moving through the conversion pipeline. A task
// is owned by the session that created it and mutated only by the
// worker currently holding it.
type VideoTask struct {
	ID           string     `json:"id"`
	SourcePath   string     `json:"source_path"`
	OutputPath   string     `json:"output_path"`
	Status       Status     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	LastError    *TaskError `json:"last_error,omitempty"`
	Progress     float64    `json:"progress"`

	// EstimatedDuration is the source duration in seconds, used to
	// normalize encoder telemetry. Zero when the source did not report
	// one.
	EstimatedDuration float64 `json:"estimated_duration,omitempty"`
}

// New creates a task in the initial state.
func New(id, sourcePath, outputPath string) *VideoTask {
	return &VideoTask{
		ID:         id,
		SourcePath: sourcePath,
		OutputPath: outputPath,
		Status:     StatusDiscovered,
	}
}

// Transition moves the task to the given status, or returns an error if
// the step is not legal.
func (t *VideoTask) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s for task %s", t.Status, to, t.ID)
	}
	t.Status = to
	return nil
}

// Fingerprint derives the stable task identifier from the source path,
// file size, and modification time. Identical inputs always produce the
// same fingerprint across runs, which is what makes dedup and resume
// work.
func Fingerprint(path string, size int64, modTime time.Time) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d", path, size, modTime.UnixNano())))
	return fmt.Sprintf("%x", h)
}

// FingerprintFile stats the file and returns its fingerprint.
func FingerprintFile(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return Fingerprint(path, fi.Size(), fi.ModTime()), nil
}
