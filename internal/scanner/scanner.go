package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"vidconvert/internal/ffmpeg"
	"vidconvert/internal/logging"
	"vidconvert/internal/pipeline"
	"vidconvert/internal/task"
)

// videoExtensions is the set of container extensions treated as
// candidate inputs.
var videoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
	".avi": true,
	".m4v": true,
	".wmv": true,
	".mts": true,
	".mpg": true,
}

const minFileSize = 1024 // smaller files are corrupt or placeholders

// Scanner discovers candidate video files under a directory tree.
type Scanner struct {
	inputDir   string
	skipHidden bool
	prober     *ffmpeg.Prober // optional; enables duration estimation
}

// New creates a scanner rooted at inputDir. A non-nil prober lets the
// scanner attach duration estimates used for progress normalization.
func New(inputDir string, prober *ffmpeg.Prober) *Scanner {
	return &Scanner{inputDir: inputDir, skipHidden: true, prober: prober}
}

// Discover walks the input tree and returns candidates in path order.
func (s *Scanner) Discover(ctx context.Context) ([]pipeline.CandidateItem, error) {
	var items []pipeline.CandidateItem

	err := filepath.WalkDir(s.inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("Skipping unreadable path %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if s.skipHidden && strings.HasPrefix(name, ".") && path != s.inputDir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !videoExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			logging.Warn("Skipping %s: %v", path, err)
			return nil
		}
		if fi.Size() < minFileSize {
			logging.Warn("Skipping %s: too small (%d bytes)", path, fi.Size())
			return nil
		}

		item := pipeline.CandidateItem{
			Path:        path,
			Fingerprint: task.Fingerprint(path, fi.Size(), fi.ModTime()),
			Size:        fi.Size(),
		}
		if s.prober != nil {
			if info, err := s.prober.Probe(ctx, path); err == nil {
				item.EstimatedDuration = info.Duration
				item.Codec = info.Codec
			}
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover candidates in %s: %w", s.inputDir, err)
	}

	logging.Info("Discovered %d candidate files in %s", len(items), s.inputDir)
	return items, nil
}
