package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"vidconvert/internal/pipeline"
	"vidconvert/internal/task"
)

// Restorer copies container-level metadata from the original onto the
// converted file using ffmpeg's -map_metadata stream copy. Timestamps
// are carried over with os.Chtimes afterwards.
type Restorer struct {
	binary string
}

// NewRestorer creates a metadata restorer.
func NewRestorer(binary string) *Restorer {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Restorer{binary: binary}
}

// Restore rewrites the converted file with the original's metadata. A
// failure returns a warning string rather than an error where the
// converted file itself is intact; hard errors are reserved for cases
// where the converted file may be damaged.
func (r *Restorer) Restore(ctx context.Context, originalPath, convertedPath string) (string, error) {
	tmp := filepath.Join(filepath.Dir(convertedPath), "."+filepath.Base(convertedPath)+".meta")

	cmd := exec.CommandContext(ctx, r.binary,
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", convertedPath,
		"-i", originalPath,
		"-map", "0",
		"-map_metadata", "1",
		"-c", "copy",
		tmp,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// The converted file is untouched; report a warning.
		return fmt.Sprintf("metadata copy failed: %v: %s", err, stderrTail(stderr.String(), 5)), nil
	}

	if err := os.Rename(tmp, convertedPath); err != nil {
		os.Remove(tmp)
		// The converted file's state is now uncertain; this one is a real
		// error, not a warning.
		return "", pipeline.MetadataError(task.Category(""),
			fmt.Errorf("replace output with metadata copy: %w", err))
	}

	if fi, err := os.Stat(originalPath); err == nil {
		if err := os.Chtimes(convertedPath, fi.ModTime(), fi.ModTime()); err != nil {
			return fmt.Sprintf("could not restore timestamps: %v", err), nil
		}
	}
	return "", nil
}
