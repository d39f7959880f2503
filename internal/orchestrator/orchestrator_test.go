package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidconvert/internal/history"
	"vidconvert/internal/pipeline"
	"vidconvert/internal/recovery"
	"vidconvert/internal/session"
	"vidconvert/internal/task"
)

type fakeSource struct{ items []pipeline.CandidateItem }

func (s fakeSource) Discover(ctx context.Context) ([]pipeline.CandidateItem, error) {
	return s.items, nil
}

type passthroughExporter struct{}

func (passthroughExporter) Export(ctx context.Context, sourcePath string) (string, error) {
	return sourcePath, nil
}

type okValidator struct{}

func (okValidator) Validate(ctx context.Context, originalPath, convertedPath string) (pipeline.ValidationResult, error) {
	return pipeline.ValidationResult{Valid: true}, nil
}

type noopRestorer struct{}

func (noopRestorer) Restore(ctx context.Context, originalPath, convertedPath string) (string, error) {
	return "", nil
}

// scriptedEncoder succeeds with a 400-byte output unless the input's
// basename is in failFor; onStart fires before each encode.
type scriptedEncoder struct {
	failFor map[string]bool
	onStart func()
	calls   int
}

func (e *scriptedEncoder) Start(ctx context.Context, inputPath, outputPath string) (pipeline.ProcessHandle, error) {
	e.calls++
	if e.onStart != nil {
		e.onStart()
	}
	if e.failFor[filepath.Base(inputPath)] {
		return nil, pipeline.ConvertError(task.CategoryPermanent, 1, errors.New("unsupported format"))
	}
	if err := os.WriteFile(outputPath, make([]byte, 400), 0o644); err != nil {
		return nil, err
	}
	ch := make(chan string)
	close(ch)
	return doneHandle{}, nil
}

type doneHandle struct{}

func (doneHandle) Telemetry() <-chan string { return closedTelemetry }
func (doneHandle) Wait() (int, error)       { return 0, nil }
func (doneHandle) Kill() error              { return nil }

var closedTelemetry = func() chan string {
	ch := make(chan string)
	close(ch)
	return ch
}()

type env struct {
	dir      string
	outDir   string
	sessions *session.Manager
	ledger   *history.History
	items    []pipeline.CandidateItem
}

// newEnv creates source files, a session store, and a ledger shared by
// consecutive batches.
func newEnv(t *testing.T, names ...string) *env {
	t.Helper()
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	items := make([]pipeline.CandidateItem, len(names))
	for i, name := range names {
		src := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(src, make([]byte, 1000), 0o644); err != nil {
			t.Fatal(err)
		}
		fp := "fp-" + strings.ReplaceAll(name, "/", "-")
		items[i] = pipeline.CandidateItem{Path: src, Fingerprint: fp, Size: 1000}
	}

	sessions, err := session.NewManager(filepath.Join(dir, "sessions"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sessions.Close)

	ledger, err := history.Open(context.Background(), filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })

	return &env{dir: dir, outDir: outDir, sessions: sessions, ledger: ledger, items: items}
}

func (e *env) orchestrator(enc pipeline.Encoder, resume, dryRun bool) *Orchestrator {
	collab := pipeline.Collaborators{
		Exporter:  passthroughExporter{},
		Encoder:   enc,
		Validator: okValidator{},
		Restorer:  noopRestorer{},
	}
	cfg := Config{
		OutputDir: e.outDir,
		Workers:   2,
		Resume:    resume,
		DryRun:    dryRun,
		RetryPolicy: recovery.RetryPolicy{
			MaxRetries:        3,
			BaseDelay:         time.Millisecond,
			BackoffMultiplier: 2,
			MaxDelay:          10 * time.Millisecond,
		},
	}
	return New(cfg, fakeSource{items: e.items}, collab, e.sessions, e.ledger)
}

func TestRunBatchConvertsAll(t *testing.T) {
	e := newEnv(t, "a.mov", "b.mov", "c.mov")
	enc := &scriptedEncoder{}

	result, err := e.orchestrator(enc, false, false).RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Succeeded != 3 || result.Failed != 0 || result.Total != 3 {
		t.Errorf("result = %+v", result)
	}
	if result.ExitCode() != ExitOK {
		t.Errorf("exit code = %d, want %d", result.ExitCode(), ExitOK)
	}
	if saved := result.SpaceSaved(); saved != 3*(1000-400) {
		t.Errorf("space saved = %d, want 1800", saved)
	}
	if st := e.sessions.Snapshot(); st.Status != session.StatusCompleted {
		t.Errorf("session status = %s, want completed", st.Status)
	}
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		if _, err := os.Stat(filepath.Join(e.outDir, name)); err != nil {
			t.Errorf("output %s missing: %v", name, err)
		}
	}
}

func TestRunBatchDedupsSecondRun(t *testing.T) {
	e := newEnv(t, "a.mov", "b.mov")
	ctx := context.Background()

	enc := &scriptedEncoder{}
	result, err := e.orchestrator(enc, false, false).RunBatch(ctx)
	if err != nil || result.Succeeded != 2 {
		t.Fatalf("first run = (%+v, %v)", result, err)
	}
	if enc.calls != 2 {
		t.Fatalf("first run encoded %d files, want 2", enc.calls)
	}
	e.sessions.Close()

	// The second run sees the same inputs; the ledger skips them all.
	enc2 := &scriptedEncoder{}
	orch2 := e.orchestrator(enc2, false, false)
	result, err = orch2.RunBatch(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if enc2.calls != 0 {
		t.Errorf("second run encoded %d files, want 0", enc2.calls)
	}
	if result.Skipped != 2 || result.Succeeded != 0 {
		t.Errorf("second run result = %+v", result)
	}
	if result.ExitCode() != ExitNothingToDo {
		t.Errorf("exit code = %d, want %d", result.ExitCode(), ExitNothingToDo)
	}
	// Up-front skips never report progress; the aggregator still has to
	// land on done.
	if snap := orch2.Progress(); snap == nil || snap.OverallFraction != 1.0 {
		t.Errorf("overall progress = %+v, want fraction 1.0", snap)
	}
}

func TestRunBatchSameBasenames(t *testing.T) {
	e := newEnv(t, "day1/clip.mov", "day2/clip.mov")
	enc := &scriptedEncoder{}

	result, err := e.orchestrator(enc, false, false).RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 0 {
		t.Fatalf("result = %+v, want both converted", result)
	}

	// Colliding basenames must not share one output path.
	entries, err := os.ReadDir(e.outDir)
	if err != nil {
		t.Fatal(err)
	}
	var outputs []string
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".mp4" {
			outputs = append(outputs, entry.Name())
		}
	}
	if len(outputs) != 2 {
		t.Fatalf("output files = %v, want 2 distinct outputs", outputs)
	}
	for _, name := range outputs {
		if !strings.HasPrefix(name, "clip-") {
			t.Errorf("output %q missing the disambiguating suffix", name)
		}
	}
}

func TestRunBatchSkipsTargetCodec(t *testing.T) {
	e := newEnv(t, "already.mov", "todo.mov")
	e.items[0].Codec = "hevc"

	enc := &scriptedEncoder{}
	orch := e.orchestrator(enc, false, false)
	orch.cfg.TargetCodec = "hevc"

	result, err := orch.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Succeeded != 1 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 1 converted, 1 skipped", result)
	}
	if enc.calls != 1 {
		t.Errorf("encoder calls = %d, want 1", enc.calls)
	}
}

func TestRunBatchExitCodes(t *testing.T) {
	t.Run("partial failure", func(t *testing.T) {
		e := newEnv(t, "good.mov", "bad.mov")
		enc := &scriptedEncoder{failFor: map[string]bool{"bad.mov": true}}

		result, err := e.orchestrator(enc, false, false).RunBatch(context.Background())
		if err != nil {
			t.Fatalf("RunBatch: %v", err)
		}
		if result.Succeeded != 1 || result.Failed != 1 {
			t.Errorf("result = %+v", result)
		}
		if result.ExitCode() != ExitPartialFailure {
			t.Errorf("exit code = %d, want %d", result.ExitCode(), ExitPartialFailure)
		}
	})

	t.Run("total failure", func(t *testing.T) {
		e := newEnv(t, "bad1.mov", "bad2.mov")
		enc := &scriptedEncoder{failFor: map[string]bool{"bad1.mov": true, "bad2.mov": true}}

		orch := e.orchestrator(enc, false, false)
		result, err := orch.RunBatch(context.Background())
		if err != nil {
			t.Fatalf("RunBatch: %v", err)
		}
		if result.ExitCode() != ExitTotalFailure {
			t.Errorf("exit code = %d, want %d", result.ExitCode(), ExitTotalFailure)
		}
		if st := e.sessions.Snapshot(); st.Status != session.StatusFailed {
			t.Errorf("session status = %s, want failed", st.Status)
		}
		if got := len(orch.Failures()); got != 2 {
			t.Errorf("failure records = %d, want 2", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		e := newEnv(t)
		result, err := e.orchestrator(&scriptedEncoder{}, false, false).RunBatch(context.Background())
		if err != nil {
			t.Fatalf("RunBatch: %v", err)
		}
		if result.ExitCode() != ExitNothingToDo {
			t.Errorf("exit code = %d, want %d", result.ExitCode(), ExitNothingToDo)
		}
	})
}

func TestRunBatchDryRun(t *testing.T) {
	e := newEnv(t, "a.mov", "b.mov")
	enc := &scriptedEncoder{}

	result, err := e.orchestrator(enc, false, true).RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if enc.calls != 0 {
		t.Errorf("dry run encoded %d files", enc.calls)
	}
	if e.sessions.Snapshot() != nil {
		t.Error("dry run created a session")
	}
	if result.Total != 0 {
		t.Errorf("dry run result = %+v", result)
	}
}

func TestRunBatchInterruptAndResume(t *testing.T) {
	e := newEnv(t, "a.mov", "b.mov", "c.mov")

	// First run: the interrupt lands before any encode finishes.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	enc := &scriptedEncoder{onStart: cancel}

	result, err := e.orchestrator(enc, false, false).RunBatch(ctx)
	if err != nil {
		t.Fatalf("interrupted RunBatch: %v", err)
	}
	if result.Succeeded != 0 {
		t.Errorf("interrupted run reported %d successes", result.Succeeded)
	}
	st := e.sessions.Snapshot()
	if st.Status != session.StatusPaused {
		t.Fatalf("session status = %s, want paused", st.Status)
	}
	if len(st.InProgress) != 0 {
		t.Errorf("%d tasks stranded in progress", len(st.InProgress))
	}
	e.sessions.Close()

	// Second run resumes the paused session and finishes the work.
	enc2 := &scriptedEncoder{}
	result, err = e.orchestrator(enc2, true, false).RunBatch(context.Background())
	if err != nil {
		t.Fatalf("resumed RunBatch: %v", err)
	}
	if result.Succeeded != 3 || result.Failed != 0 {
		t.Errorf("resumed result = %+v, want all 3 converted", result)
	}
	if result.ExitCode() != ExitOK {
		t.Errorf("exit code = %d, want %d", result.ExitCode(), ExitOK)
	}
	if st := e.sessions.Snapshot(); st.Status != session.StatusCompleted {
		t.Errorf("session status = %s, want completed", st.Status)
	}
}

func TestOutputPathMapping(t *testing.T) {
	o := New(Config{OutputDir: "/out"}, nil, pipeline.Collaborators{}, nil, nil)

	tests := []struct {
		in           string
		fingerprint  string
		disambiguate bool
		want         string
	}{
		{"/videos/clip.mov", "aabbccddeeff0011", false, "/out/clip.mp4"},
		{"/videos/nested/take2.MOV", "aabbccddeeff0011", false, "/out/take2.mp4"},
		{"/videos/noext", "aabbccddeeff0011", false, "/out/noext.mp4"},
		{"/videos/day1/clip.mov", "aabbccddeeff0011", true, "/out/clip-aabbccdd.mp4"},
		{"/videos/day2/clip.mov", "1122334455667788", true, "/out/clip-11223344.mp4"},
	}
	for _, tt := range tests {
		if got := o.outputPath(tt.in, tt.fingerprint, tt.disambiguate); got != tt.want {
			t.Errorf("outputPath(%q, %q, %v) = %q, want %q",
				tt.in, tt.fingerprint, tt.disambiguate, got, tt.want)
		}
	}
}

func TestResumeReportsPriorFailures(t *testing.T) {
	e := newEnv(t, "a.mov", "b.mov", "c.mov")
	ctx := context.Background()

	// Seed a session the way an interrupted run leaves it: one success,
	// one failure, one task never started.
	var tasks []*task.VideoTask
	for i, item := range e.items {
		tasks = append(tasks, task.New(item.Fingerprint, item.Path,
			filepath.Join(e.outDir, []string{"a.mp4", "b.mp4", "c.mp4"}[i])))
	}
	if _, err := e.sessions.Create(tasks); err != nil {
		t.Fatal(err)
	}
	done, err := e.sessions.Claim()
	if err != nil || done == nil {
		t.Fatalf("claim: (%v, %v)", done, err)
	}
	if err := e.sessions.CompleteTask(done); err != nil {
		t.Fatal(err)
	}
	failed, err := e.sessions.Claim()
	if err != nil || failed == nil {
		t.Fatalf("claim: (%v, %v)", failed, err)
	}
	failed.AttemptCount = 2
	failed.LastError = &task.TaskError{Category: task.CategoryPermanent, Message: "unsupported format"}
	if err := e.sessions.FailTask(failed); err != nil {
		t.Fatal(err)
	}
	e.sessions.Close()

	enc := &scriptedEncoder{}
	orch := e.orchestrator(enc, true, false)
	result, err := orch.RunBatch(ctx)
	if err != nil {
		t.Fatalf("resumed RunBatch: %v", err)
	}
	if enc.calls != 1 {
		t.Errorf("resumed run encoded %d files, want 1", enc.calls)
	}
	if result.Succeeded != 1 || result.Skipped != 1 || result.Failed != 1 || result.Total != 3 {
		t.Errorf("resumed result = %+v, want 1 converted, 1 prior success, 1 prior failure", result)
	}
	if result.ExitCode() != ExitPartialFailure {
		t.Errorf("exit code = %d, want %d", result.ExitCode(), ExitPartialFailure)
	}

	// The final report lists the earlier run's failure, not just this
	// process's work.
	records := orch.Failures()
	if len(records) != 1 {
		t.Fatalf("failure records = %+v, want the prior run's failure", records)
	}
	if records[0].TaskID != failed.ID || records[0].Category != task.CategoryPermanent {
		t.Errorf("record = %+v", records[0])
	}
	if records[0].Message != "unsupported format" {
		t.Errorf("record message = %q", records[0].Message)
	}
	if snap := orch.Progress(); snap == nil || snap.OverallFraction != 1.0 {
		t.Errorf("overall progress = %+v, want fraction 1.0", snap)
	}
}

func TestBatchResultExitCode(t *testing.T) {
	tests := []struct {
		name   string
		result BatchResult
		want   int
	}{
		{"all succeeded", BatchResult{Total: 3, Succeeded: 3}, ExitOK},
		{"all failed", BatchResult{Total: 2, Failed: 2}, ExitTotalFailure},
		{"mixed", BatchResult{Total: 3, Succeeded: 2, Failed: 1}, ExitPartialFailure},
		{"empty batch", BatchResult{}, ExitNothingToDo},
		{"everything skipped", BatchResult{Total: 4, Skipped: 4}, ExitNothingToDo},
		{"skips with successes", BatchResult{Total: 4, Succeeded: 1, Skipped: 3}, ExitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
