package scanner

import (
	"context"
	"crypto/sha1" //nolint:gosec // staging name disambiguation, not security
	"fmt"
	"io"
	"os"
	"path/filepath"

	"vidconvert/internal/pipeline"
	"vidconvert/internal/task"
)

// CopyExporter stages a source file into a working directory before
// encoding. Staging keeps the encoder off the originals: a crash or a
// misbehaving encoder can never touch the source tree.
type CopyExporter struct {
	stagingDir string
}

// NewCopyExporter creates an exporter staging into stagingDir.
func NewCopyExporter(stagingDir string) *CopyExporter {
	return &CopyExporter{stagingDir: stagingDir}
}

// Export copies the source into the staging directory and returns the
// staged path. Missing sources are a permanent failure; everything else
// is left to the classifier.
func (e *CopyExporter) Export(ctx context.Context, sourcePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return "", pipeline.ExportError(task.CategoryPermanent, err)
		}
		return "", pipeline.ExportError(task.Category(""), err)
	}
	defer src.Close()

	if err := os.MkdirAll(e.stagingDir, 0o755); err != nil {
		return "", pipeline.ExportError(task.Category(""), fmt.Errorf("create staging dir: %w", err))
	}

	dstPath := filepath.Join(e.stagingDir, stagingName(sourcePath))
	dst, err := os.CreateTemp(e.stagingDir, ".export-*")
	if err != nil {
		return "", pipeline.ExportError(task.Category(""), fmt.Errorf("create staging file: %w", err))
	}
	tmpName := dst.Name()

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmpName)
		return "", pipeline.ExportError(task.Category(""), fmt.Errorf("stage %s: %w", sourcePath, err))
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpName)
		return "", pipeline.ExportError(task.Category(""), fmt.Errorf("close staging file: %w", err))
	}
	if err := os.Rename(tmpName, dstPath); err != nil {
		os.Remove(tmpName)
		return "", pipeline.ExportError(task.Category(""), fmt.Errorf("commit staging file: %w", err))
	}
	return dstPath, nil
}

// stagingName derives a staged filename unique per source path.
// Distinct sources sharing a basename (day1/clip.mov, day2/clip.mov)
// must never collide in the shared staging directory: concurrent
// workers would read each other's bytes mid-encode.
func stagingName(sourcePath string) string {
	sum := sha1.Sum([]byte(sourcePath))
	return fmt.Sprintf("%x-%s", sum[:4], filepath.Base(sourcePath))
}

// PassthroughExporter hands the source path straight to the encoder,
// for local trees where a staging copy is wasted I/O.
type PassthroughExporter struct{}

// Export verifies the source is readable and returns it unchanged.
func (PassthroughExporter) Export(ctx context.Context, sourcePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(sourcePath); err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return "", pipeline.ExportError(task.CategoryPermanent, err)
		}
		return "", pipeline.ExportError(task.Category(""), err)
	}
	return sourcePath, nil
}
