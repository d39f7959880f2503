package pipeline

import (
	"context"
)

// CandidateItem is one discoverable input from the Source.
type CandidateItem struct {
	Path string
	// Fingerprint is the stable dedup identifier (path + size + mtime).
	Fingerprint string
	// EstimatedDuration is the media duration in seconds, zero when the
	// source cannot cheaply determine it.
	EstimatedDuration float64
	Size              int64
	// Codec is the primary video codec name when the source probed it,
	// empty otherwise. Used to skip inputs already in the target codec.
	Codec string
}

// Source yields candidate items. Discovery is lazy and restartable; the
// orchestrator drains it once per batch.
type Source interface {
	Discover(ctx context.Context) ([]CandidateItem, error)
}

// Exporter materializes a candidate as a local file the encoder can
// read, returning the local path.
type Exporter interface {
	Export(ctx context.Context, sourcePath string) (string, error)
}

// ProcessHandle is a running encode. Telemetry yields raw progress
// lines until the process exits; Wait returns the exit code after the
// telemetry channel closes. Kill terminates the process early.
type ProcessHandle interface {
	Telemetry() <-chan string
	Wait() (exitCode int, err error)
	Kill() error
}

// Encoder starts the external conversion process.
type Encoder interface {
	Start(ctx context.Context, inputPath, outputPath string) (ProcessHandle, error)
}

// ValidationResult is the validator's verdict on a converted file.
type ValidationResult struct {
	Valid       bool
	Diagnostics string
}

// Validator checks a converted file against its original.
type Validator interface {
	Validate(ctx context.Context, originalPath, convertedPath string) (ValidationResult, error)
}

// MetadataRestorer copies metadata from the original onto the converted
// file. Restore problems are warnings, not failures: the returned
// warning is logged and the pipeline continues.
type MetadataRestorer interface {
	Restore(ctx context.Context, originalPath, convertedPath string) (warning string, err error)
}

// Collaborators bundles the external stage implementations handed to
// the driver.
type Collaborators struct {
	Exporter  Exporter
	Encoder   Encoder
	Validator Validator
	Restorer  MetadataRestorer
}
