package recovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vidconvert/internal/task"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		exitCode int
		want     task.Category
	}{
		{"missing source", "av_open_input: No such file or directory", 1, task.CategoryPermanent},
		{"permission denied", "output.mp4: Permission denied", 1, task.CategoryPermanent},
		{"corrupt input", "Invalid data found when processing input", 1, task.CategoryPermanent},
		{"unsupported codec", "decoder not found for codec prores_raw", 1, task.CategoryPermanent},
		{"network stall", "network unreachable while reading segment", 1, task.CategoryTransient},
		{"timeout", "operation timed out", 1, task.CategoryTransient},
		{"busy device", "device or resource busy", 1, task.CategoryTransient},
		{"disk full", "No space left on device", 1, task.CategoryTransient},
		{"cloud placeholder", "file is in iCloud and not yet downloaded", 1, task.CategoryTransient},
		{"binary missing", "exec failed", 127, task.CategoryPermanent},
		{"killed by signal", "", -9, task.CategoryTransient},
		{"unrecognized text", "something strange happened", 1, task.CategoryUnknown},
		{"permanent wins over exit code", "unsupported format", 127, task.CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.message, tt.exitCode); got != tt.want {
				t.Errorf("Classify(%q, %d) = %s, want %s", tt.message, tt.exitCode, got, tt.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	m := NewManager(DefaultRetryPolicy(), t.TempDir())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second}, // capped
		{10, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := m.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRecoveryAction(t *testing.T) {
	m := NewManager(DefaultRetryPolicy(), t.TempDir())

	tests := []struct {
		name     string
		category task.Category
		attempt  int
		want     ActionKind
		delay    time.Duration
	}{
		{"permanent never retries", task.CategoryPermanent, 1, ActionSkip, 0},
		{"transient first retry", task.CategoryTransient, 1, ActionRetry, 5 * time.Second},
		{"transient second retry", task.CategoryTransient, 2, ActionRetry, 10 * time.Second},
		{"transient last retry", task.CategoryTransient, 3, ActionRetry, 20 * time.Second},
		{"transient exhausted", task.CategoryTransient, 4, ActionSkip, 0},
		{"unknown gets one retry", task.CategoryUnknown, 1, ActionRetry, 5 * time.Second},
		{"unknown second failure skips", task.CategoryUnknown, 2, ActionSkip, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.RecoveryAction(tt.category, tt.attempt)
			if got.Kind != tt.want {
				t.Fatalf("RecoveryAction(%s, %d).Kind = %v, want %v", tt.category, tt.attempt, got.Kind, tt.want)
			}
			if got.Kind == ActionRetry && got.Delay != tt.delay {
				t.Errorf("delay = %s, want %s", got.Delay, tt.delay)
			}
		})
	}
}

func TestHandleFailureQuarantinesOutput(t *testing.T) {
	dir := t.TempDir()
	failedDir := filepath.Join(dir, "failed")
	m := NewManager(DefaultRetryPolicy(), failedDir)

	partial := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(partial, []byte("partial data"), 0o644); err != nil {
		t.Fatal(err)
	}

	vt := task.New("t1", filepath.Join(dir, "clip.mov"), partial)
	vt.Status = task.StatusConvertFailed
	vt.AttemptCount = 4

	rec := m.HandleFailure(vt, task.CategoryTransient, "network unreachable")

	if rec.TaskID != "t1" || rec.Category != task.CategoryTransient || rec.AttemptCount != 4 {
		t.Errorf("unexpected failure record: %+v", rec)
	}
	if vt.Status != task.StatusFailed {
		t.Errorf("task status = %s, want %s", vt.Status, task.StatusFailed)
	}
	if vt.LastError == nil || vt.LastError.Category != task.CategoryTransient {
		t.Errorf("last error not recorded: %+v", vt.LastError)
	}

	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Error("partial output still present at original path")
	}
	quarantined := filepath.Join(failedDir, "t1", "clip.mp4")
	if _, err := os.Stat(quarantined); err != nil {
		t.Errorf("quarantined file missing: %v", err)
	}

	log := m.Failures()
	if len(log) != 1 || log[0].TaskID != "t1" {
		t.Errorf("failure log = %+v, want one entry for t1", log)
	}
}

func TestHandleFailureNoOutput(t *testing.T) {
	m := NewManager(DefaultRetryPolicy(), t.TempDir())

	vt := task.New("t2", "/in/missing.mov", filepath.Join(t.TempDir(), "never-written.mp4"))
	m.HandleFailure(vt, task.CategoryPermanent, "no such file or directory")

	if vt.Status != task.StatusFailed {
		t.Errorf("task status = %s, want %s", vt.Status, task.StatusFailed)
	}
	if len(m.Failures()) != 1 {
		t.Errorf("failure log has %d entries, want 1", len(m.Failures()))
	}
}

func TestFailuresReturnsCopy(t *testing.T) {
	m := NewManager(DefaultRetryPolicy(), t.TempDir())
	vt := task.New("t3", "/in/a.mov", "")
	m.HandleFailure(vt, task.CategoryUnknown, "boom")

	got := m.Failures()
	got[0].TaskID = "mutated"
	if m.Failures()[0].TaskID != "t3" {
		t.Error("mutating the returned slice changed the log")
	}
}
