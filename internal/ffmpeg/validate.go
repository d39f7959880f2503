package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"os"

	"vidconvert/internal/pipeline"
)

// durationTolerance is how far the converted duration may drift from
// the original before validation fails. Container rounding makes exact
// matches unrealistic.
const durationTolerance = 1.0 // seconds

// Validator checks a converted file by probing it and comparing its
// duration against the original.
type Validator struct {
	prober *Prober
}

// NewValidator creates a validator over the given prober.
func NewValidator(prober *Prober) *Validator {
	return &Validator{prober: prober}
}

// Validate confirms the converted file exists, is non-empty, is
// readable by ffprobe, and matches the original's duration.
func (v *Validator) Validate(ctx context.Context, originalPath, convertedPath string) (pipeline.ValidationResult, error) {
	fi, err := os.Stat(convertedPath)
	if err != nil {
		return pipeline.ValidationResult{Valid: false, Diagnostics: "output file missing"}, nil
	}
	if fi.Size() == 0 {
		return pipeline.ValidationResult{Valid: false, Diagnostics: "output file is empty"}, nil
	}

	converted, err := v.prober.Probe(ctx, convertedPath)
	if err != nil {
		return pipeline.ValidationResult{Valid: false,
			Diagnostics: fmt.Sprintf("output not readable: %v", err)}, nil
	}
	if converted.Codec == "" {
		return pipeline.ValidationResult{Valid: false, Diagnostics: "output has no video stream"}, nil
	}

	original, err := v.prober.Probe(ctx, originalPath)
	if err != nil {
		// Cannot probe the original (exported copy may be gone); accept
		// on the strength of the output checks alone.
		return pipeline.ValidationResult{Valid: true}, nil
	}

	if original.Duration > 0 && math.Abs(original.Duration-converted.Duration) > durationTolerance {
		return pipeline.ValidationResult{Valid: false,
			Diagnostics: fmt.Sprintf("duration mismatch: original %.2fs, converted %.2fs",
				original.Duration, converted.Duration)}, nil
	}

	return pipeline.ValidationResult{Valid: true}, nil
}
