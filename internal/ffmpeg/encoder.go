package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"vidconvert/internal/logging"
	"vidconvert/internal/pipeline"
)

// EncoderConfig controls the conversion command.
type EncoderConfig struct {
	Binary     string // ffmpeg binary, default "ffmpeg"
	VideoCodec string // e.g. "libx265"
	CRF        int
	Preset     string // e.g. "medium"
	AudioCodec string // "copy" keeps the source audio untouched
	ExtraArgs  []string
}

// DefaultEncoderConfig returns an H.264-to-HEVC conversion setup.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Binary:     "ffmpeg",
		VideoCodec: "libx265",
		CRF:        23,
		Preset:     "medium",
		AudioCodec: "copy",
	}
}

// Encoder runs ffmpeg with machine-readable progress on stdout
// (-progress pipe:1) and stderr captured for failure classification.
type Encoder struct {
	cfg EncoderConfig
}

// NewEncoder creates an encoder collaborator.
func NewEncoder(cfg EncoderConfig) *Encoder {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	return &Encoder{cfg: cfg}
}

// buildArgs assembles the ffmpeg argument list for one conversion.
func (e *Encoder) buildArgs(inputPath, outputPath string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-c:v", e.cfg.VideoCodec,
		"-crf", fmt.Sprintf("%d", e.cfg.CRF),
		"-preset", e.cfg.Preset,
		"-c:a", e.cfg.AudioCodec,
		"-tag:v", "hvc1", // Apple/browser compatibility for HEVC in MP4
	}
	args = append(args, e.cfg.ExtraArgs...)
	args = append(args, "-progress", "pipe:1", outputPath)
	return args
}

// Start launches the conversion process and returns its handle.
func (e *Encoder) Start(ctx context.Context, inputPath, outputPath string) (pipeline.ProcessHandle, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	args := e.buildArgs(inputPath, outputPath)
	logging.Debug("Starting encoder: %s %s", e.cfg.Binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attach encoder stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	h := &processHandle{
		cmd:       cmd,
		stderr:    &stderr,
		telemetry: make(chan string, 64),
	}
	go h.pump(stdout)
	return h, nil
}

// processHandle adapts an exec.Cmd to the pipeline's ProcessHandle.
type processHandle struct {
	cmd       *exec.Cmd
	stderr    *bytes.Buffer
	telemetry chan string
}

// pump copies stdout lines into the telemetry channel until EOF, then
// closes the channel so consumers know the process is winding down.
func (h *processHandle) pump(r io.Reader) {
	defer close(h.telemetry)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		h.telemetry <- scanner.Text()
	}
}

func (h *processHandle) Telemetry() <-chan string {
	return h.telemetry
}

// Wait blocks until the process exits. A nonzero exit comes back as a
// code plus an error carrying the tail of stderr, which is what the
// recovery classifier works from.
func (h *processHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	code := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}
	return code, fmt.Errorf("encoder failed (exit %d): %s", code, stderrTail(h.stderr.String(), 20))
}

// Kill terminates the running process.
func (h *processHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// stderrTail keeps the last n lines of stderr; ffmpeg front-loads
// banners and the useful error is almost always at the end.
func stderrTail(stderr string, n int) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
