package pipeline

import (
	"fmt"

	"vidconvert/internal/task"
)

// StageName identifies a pipeline stage for errors and metrics.
type StageName string

const (
	StageExport   StageName = "export"
	StageConvert  StageName = "convert"
	StageValidate StageName = "validate"
	StageRestore  StageName = "restore"
	StageFinalize StageName = "finalize"
)

// StageError is a failure in one pipeline stage, carrying the failure
// category used for retry decisions. A zero Category means the driver
// classifies from the message and exit code.
type StageError struct {
	Stage    StageName
	Category task.Category
	ExitCode int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ExportError wraps a failure from the Exporter.
func ExportError(category task.Category, err error) *StageError {
	return &StageError{Stage: StageExport, Category: category, Err: err}
}

// ConvertError wraps a failure from the Encoder.
func ConvertError(category task.Category, exitCode int, err error) *StageError {
	return &StageError{Stage: StageConvert, Category: category, ExitCode: exitCode, Err: err}
}

// ValidationError wraps a failed validation verdict.
func ValidationError(category task.Category, err error) *StageError {
	return &StageError{Stage: StageValidate, Category: category, Err: err}
}

// MetadataError wraps a metadata restore failure. These are downgraded
// to warnings by the driver but keep a typed representation for tests
// and logs.
func MetadataError(category task.Category, err error) *StageError {
	return &StageError{Stage: StageRestore, Category: category, Err: err}
}
