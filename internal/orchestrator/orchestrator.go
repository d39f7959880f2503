package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"vidconvert/internal/history"
	"vidconvert/internal/logging"
	"vidconvert/internal/metrics"
	"vidconvert/internal/pipeline"
	"vidconvert/internal/processor"
	"vidconvert/internal/progress"
	"vidconvert/internal/recovery"
	"vidconvert/internal/session"
	"vidconvert/internal/task"
)

// Config holds the per-run options the orchestrator needs.
type Config struct {
	OutputDir string
	// OutputExt is the container extension for converted files,
	// including the dot (default ".mp4").
	OutputExt string
	// TargetCodec marks candidates already in this codec as skipped.
	TargetCodec string
	Workers     int
	Resume      bool
	DryRun      bool
	RatioPolicy pipeline.RatioPolicy
	RetryPolicy recovery.RetryPolicy
}

// Orchestrator runs one batch end to end.
type Orchestrator struct {
	cfg      Config
	source   pipeline.Source
	collab   pipeline.Collaborators
	sessions *session.Manager
	ledger   *history.History
	rec      *recovery.Manager

	agg *progress.Aggregator
}

// New assembles an orchestrator. The recovery manager's quarantine area
// lives under the output directory.
func New(cfg Config, source pipeline.Source, collab pipeline.Collaborators, sessions *session.Manager, ledger *history.History) *Orchestrator {
	if cfg.OutputExt == "" {
		cfg.OutputExt = ".mp4"
	}
	return &Orchestrator{
		cfg:      cfg,
		source:   source,
		collab:   collab,
		sessions: sessions,
		ledger:   ledger,
		rec:      recovery.NewManager(cfg.RetryPolicy, filepath.Join(cfg.OutputDir, "failed")),
	}
}

// Progress returns the current aggregated progress, for the progress
// callback loop and the status server. Nil before the batch starts.
func (o *Orchestrator) Progress() *progress.Snapshot {
	if o.agg == nil {
		return nil
	}
	snap := o.agg.Snapshot()
	return &snap
}

// Failures returns the failure records accumulated during the run.
func (o *Orchestrator) Failures() []recovery.FailureRecord {
	return o.rec.Failures()
}

// RunBatch executes one batch: discover (or resume), dedup, process,
// report. The returned error is non-nil only for run-fatal conditions
// (session lock held, persistent store unusable); per-item failures are
// reported through the BatchResult.
func (o *Orchestrator) RunBatch(ctx context.Context) (BatchResult, error) {
	start := time.Now()

	st, err := o.prepareSession(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	if st == nil {
		// Dry run already reported.
		return BatchResult{Duration: time.Since(start)}, nil
	}

	o.agg = progress.NewAggregator(st.TotalCount)
	// Tasks settled before the pool runs (dedup skips, a resumed run's
	// prior completions and failures) never report progress themselves;
	// mark them done so the overall fraction can reach 1.0.
	for _, t := range st.Completed {
		o.agg.Complete(t.ID)
	}
	for _, t := range st.Failed {
		o.agg.Complete(t.ID)
	}

	driver := pipeline.NewDriver(o.collab, o.rec, o.sessions, o.agg, o.cfg.RatioPolicy)
	pool := processor.New(driver, o.sessions, o.ledger, o.agg, o.cfg.Workers)
	outcomes, poolErr := pool.Run(ctx)

	if poolErr != nil {
		// The session store is unusable; nothing more can be committed.
		// The session file on disk still reflects the last good save, so
		// a later run can resume from it.
		logging.Error("Aborting batch: %v", poolErr)
		return o.buildResult(st.TotalCount, outcomes, start), fmt.Errorf("process batch: %w", poolErr)
	}

	if ctx.Err() != nil {
		// Cancelled: leave the session active so a later run resumes it.
		logging.Warn("Run cancelled; session %s left resumable", st.SessionID)
		if err := o.sessions.Pause(); err != nil {
			logging.Warn("Could not pause session: %v", err)
		}
		return o.buildResult(st.TotalCount, outcomes, start), nil
	}

	result := o.buildResult(st.TotalCount, outcomes, start)
	o.settleSession(result)
	metrics.BatchDuration.Set(result.Duration.Seconds())
	return result, nil
}

// prepareSession resumes an existing session or builds a new one from
// discovery. Returns (nil, nil) for a completed dry run.
func (o *Orchestrator) prepareSession(ctx context.Context) (*session.State, error) {
	if o.cfg.Resume {
		st, err := o.sessions.LoadResumable()
		if err == nil {
			o.seedFailures(st)
			return st, nil
		}
		if !errors.Is(err, session.ErrNoResumableSession) {
			return nil, fmt.Errorf("resume session: %w", err)
		}
		logging.Info("No resumable session found, starting fresh")
	}

	candidates, err := o.source.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover candidates: %w", err)
	}

	tasks, err := o.buildTasks(ctx, candidates)
	if err != nil {
		return nil, err
	}

	if o.cfg.DryRun {
		o.reportDryRun(tasks)
		return nil, nil
	}

	st, err := o.sessions.Create(tasks)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return st, nil
}

// seedFailures reconstructs the interrupted run's failure records from
// the resumed session so the final report covers the whole session, not
// just this process's work.
func (o *Orchestrator) seedFailures(st *session.State) {
	if len(st.Failed) == 0 {
		return
	}
	records := make([]recovery.FailureRecord, 0, len(st.Failed))
	for _, t := range st.Failed {
		rec := recovery.FailureRecord{
			TaskID:       t.ID,
			AttemptCount: t.AttemptCount,
			Timestamp:    st.UpdatedAt,
		}
		if t.LastError != nil {
			rec.Category = t.LastError.Category
			rec.Message = t.LastError.Message
		}
		records = append(records, rec)
	}
	o.rec.RecordFailures(records)
}

// buildTasks converts candidates into tasks, marking history hits and
// already-converted codecs as skipped up front.
func (o *Orchestrator) buildTasks(ctx context.Context, candidates []pipeline.CandidateItem) ([]*task.VideoTask, error) {
	tasks := make([]*task.VideoTask, 0, len(candidates))
	deduped := 0

	// Output names derive from basenames; when two sources share one
	// (day1/clip.mov, day2/clip.mov), both must not map to the same
	// destination or the second conversion overwrites the first.
	stems := make(map[string]int, len(candidates))
	for _, c := range candidates {
		stems[outputStem(c.Path)]++
	}

	for _, c := range candidates {
		t := task.New(c.Fingerprint, c.Path, o.outputPath(c.Path, c.Fingerprint, stems[outputStem(c.Path)] > 1))
		t.EstimatedDuration = c.EstimatedDuration

		converted, err := o.ledger.IsConverted(ctx, c.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("history dedup: %w", err)
		}
		switch {
		case converted:
			t.Status = task.StatusSkipped
			deduped++
		case o.cfg.TargetCodec != "" && c.Codec == o.cfg.TargetCodec:
			t.Status = task.StatusSkipped
			logging.Debug("Skipping %s: already %s", c.Path, c.Codec)
		}
		tasks = append(tasks, t)
	}

	if deduped > 0 {
		logging.Info("Skipping %d previously converted files", deduped)
	}
	return tasks, nil
}

// outputPath maps a source path to its converted destination. When the
// basename is not unique within the batch, the fingerprint prefix keeps
// the destinations distinct.
func (o *Orchestrator) outputPath(sourcePath, fingerprint string, disambiguate bool) string {
	stem := outputStem(sourcePath)
	if disambiguate && len(fingerprint) >= 8 {
		stem += "-" + fingerprint[:8]
	}
	return filepath.Join(o.cfg.OutputDir, stem+o.cfg.OutputExt)
}

// outputStem is the source basename without its extension.
func outputStem(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (o *Orchestrator) reportDryRun(tasks []*task.VideoTask) {
	convert := 0
	for _, t := range tasks {
		if t.Status == task.StatusSkipped {
			logging.Info("[DRY] Skip    %s", t.SourcePath)
			continue
		}
		logging.Info("[DRY] Convert %s -> %s", t.SourcePath, t.OutputPath)
		convert++
	}
	logging.Info("[DRY] %d of %d files would be converted", convert, len(tasks))
}

// buildResult folds outcomes into the final report. Pre-skipped tasks
// never produce an outcome, so skips are derived from the remainder.
func (o *Orchestrator) buildResult(total int, outcomes []task.Outcome, start time.Time) BatchResult {
	r := BatchResult{Total: total, Duration: time.Since(start)}
	for _, out := range outcomes {
		switch out.Kind {
		case task.OutcomeSucceeded:
			r.Succeeded++
			r.OriginalSize += out.OriginalSize
			r.ConvertedSize += out.ConvertedSize
		case task.OutcomeFailed:
			r.Failed++
		case task.OutcomeSkipped:
			r.Skipped++
		}
	}
	// Tasks settled before this process ran (dedup skips, a resumed
	// run's prior completions and failures) produced no outcome; the
	// session collections are authoritative for them.
	counts := o.sessions.Counts()
	if prior := counts.Completed - r.Succeeded - r.Skipped; prior > 0 {
		r.Skipped += prior
	}
	if counts.Failed > r.Failed {
		r.Failed = counts.Failed
	}
	return r
}

// settleSession marks the session completed, or failed when every
// processed item failed.
func (o *Orchestrator) settleSession(r BatchResult) {
	if r.Failed > 0 && r.Succeeded == 0 && r.Skipped == 0 {
		if err := o.sessions.MarkFailed(); err != nil {
			logging.Warn("Could not mark session failed: %v", err)
		}
		return
	}
	if err := o.sessions.Complete(); err != nil {
		logging.Warn("Could not mark session completed: %v", err)
	}
}
