package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"vidconvert/internal/logging"
	"vidconvert/internal/metrics"
	"vidconvert/internal/progress"
	"vidconvert/internal/recovery"
	"vidconvert/internal/session"
	"vidconvert/internal/task"
)

// RatioPolicy controls how a compression ratio outside the expected
// 20-80% band is treated.
type RatioPolicy string

const (
	// RatioWarn logs the outlier and keeps the task on track (default).
	RatioWarn RatioPolicy = "warn"
	// RatioFail fails validation for outlier ratios.
	RatioFail RatioPolicy = "fail"
)

const (
	ratioLowerBound = 0.20
	ratioUpperBound = 0.80
)

// Driver runs one task through the pipeline stages, retrying failed
// stages in place according to the recovery manager's decisions. It is
// stateless across tasks, so a single Driver is shared by all workers.
type Driver struct {
	collab      Collaborators
	recovery    *recovery.Manager
	sessions    *session.Manager
	agg         *progress.Aggregator
	ratioPolicy RatioPolicy

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDriver wires a driver from its collaborators and shared services.
func NewDriver(collab Collaborators, rec *recovery.Manager, sessions *session.Manager, agg *progress.Aggregator, ratioPolicy RatioPolicy) *Driver {
	if ratioPolicy == "" {
		ratioPolicy = RatioWarn
	}
	return &Driver{
		collab:      collab,
		recovery:    rec,
		sessions:    sessions,
		agg:         agg,
		ratioPolicy: ratioPolicy,
		sleep:       sleepContext,
	}
}

// Run drives a claimed task to a terminal outcome.
//
// The returned error is non-nil only for cancellation: the task's
// partial output has been removed and the caller must requeue it. In
// every other case the task has reached a terminal status and the
// outcome describes it.
func (d *Driver) Run(ctx context.Context, t *task.VideoTask) (task.Outcome, error) {
	localPath, out, err := d.exportStage(ctx, t)
	if err != nil || out != nil {
		return deref(out), err
	}
	defer d.cleanupStaging(t, localPath)

	out, err = d.convertAndValidate(ctx, t, localPath)
	if err != nil || out != nil {
		return deref(out), err
	}

	return d.finalize(ctx, t)
}

// exportStage runs the export loop. It returns the local path on
// success, a terminal outcome when the task failed, or an error on
// cancellation.
func (d *Driver) exportStage(ctx context.Context, t *task.VideoTask) (string, *task.Outcome, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		attempt++
		t.AttemptCount = attempt

		d.enter(t, task.StatusExporting)
		start := time.Now()
		localPath, err := d.collab.Exporter.Export(ctx, t.SourcePath)
		metrics.StageDuration.WithLabelValues(string(StageExport)).Observe(time.Since(start).Seconds())

		if err == nil {
			d.enter(t, task.StatusExported)
			return localPath, nil, nil
		}
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}

		category := d.categorize(StageExport, err)
		d.enter(t, task.StatusExportFailed)
		t.LastError = &task.TaskError{Category: category, Message: err.Error()}

		out, cErr := d.retryOrFail(ctx, t, category, err.Error(), attempt)
		if cErr != nil || out != nil {
			return "", out, cErr
		}
	}
}

// convertAndValidate runs the encode loop. A failed validation loops
// back to the convert stage (re-encode), sharing the attempt counter.
func (d *Driver) convertAndValidate(ctx context.Context, t *task.VideoTask, localPath string) (*task.Outcome, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			d.removePartial(t)
			return nil, err
		}
		attempt++
		t.AttemptCount = attempt

		d.enter(t, task.StatusConverting)
		err := d.encodeOnce(ctx, t, localPath)
		if ctx.Err() != nil {
			d.removePartial(t)
			return nil, ctx.Err()
		}

		if err == nil {
			d.enter(t, task.StatusConverted)
			err = d.validateOnce(ctx, t)
			if ctx.Err() != nil {
				d.removePartial(t)
				return nil, ctx.Err()
			}
			if err == nil {
				d.enter(t, task.StatusValidated)
				return nil, nil
			}
			// Validation failure re-enters the convert stage.
			d.enter(t, task.StatusConvertFailed)
		} else {
			d.enter(t, task.StatusConvertFailed)
		}

		category := d.categorize(StageConvert, err)
		t.LastError = &task.TaskError{Category: category, Message: err.Error()}

		out, cErr := d.retryOrFail(ctx, t, category, err.Error(), attempt)
		if cErr != nil || out != nil {
			return out, cErr
		}
		// Clear the failed attempt's output before re-encoding.
		d.removePartial(t)
	}
}

// encodeOnce starts the encoder and pumps its telemetry into the
// progress aggregator until the process exits.
func (d *Driver) encodeOnce(ctx context.Context, t *task.VideoTask, localPath string) error {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(StageConvert)).Observe(time.Since(start).Seconds())
	}()

	handle, err := d.collab.Encoder.Start(ctx, localPath, t.OutputPath)
	if err != nil {
		return normalizeStageError(StageConvert, err)
	}

	mon := progress.NewMonitor(t.EstimatedDuration)
	lastSaved := 0.0
	for line := range handle.Telemetry() {
		if sample := mon.Feed(line); sample != nil {
			t.Progress = sample.FractionComplete
			d.agg.Report(t.ID, sample.FractionComplete)
			// Persist progress at most every few percent; every telemetry
			// line would hammer the session file.
			if sample.FractionComplete-lastSaved >= 0.05 {
				lastSaved = sample.FractionComplete
				d.save(t)
			}
		}
	}

	code, err := handle.Wait()
	if err != nil {
		return ConvertError(task.Category(""), code, err)
	}
	if code != 0 {
		return ConvertError(task.Category(""), code, fmt.Errorf("encoder exited with code %d", code))
	}
	return nil
}

// validateOnce checks the converted output and applies the ratio policy.
func (d *Driver) validateOnce(ctx context.Context, t *task.VideoTask) error {
	d.enter(t, task.StatusValidating)
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(StageValidate)).Observe(time.Since(start).Seconds())
	}()

	res, err := d.collab.Validator.Validate(ctx, t.SourcePath, t.OutputPath)
	if err != nil {
		return normalizeStageError(StageValidate, err)
	}
	if !res.Valid {
		return ValidationError(task.CategoryPermanent, fmt.Errorf("output failed validation: %s", res.Diagnostics))
	}

	if err := d.checkRatio(t); err != nil {
		return err
	}
	return nil
}

// checkRatio compares output and input sizes against the expected
// compression band.
func (d *Driver) checkRatio(t *task.VideoTask) error {
	inInfo, err := os.Stat(t.SourcePath)
	if err != nil {
		return nil
	}
	outInfo, err := os.Stat(t.OutputPath)
	if err != nil || inInfo.Size() <= 0 {
		return nil
	}

	ratio := float64(outInfo.Size()) / float64(inInfo.Size())
	if ratio >= ratioLowerBound && ratio <= ratioUpperBound {
		return nil
	}

	if d.ratioPolicy == RatioFail {
		return ValidationError(task.CategoryPermanent,
			fmt.Errorf("compression ratio %.0f%% outside expected 20-80%% band", ratio*100))
	}
	logging.Warn("Task %s: unusual compression ratio %.0f%% (expected 20-80%%)", t.ID, ratio*100)
	return nil
}

// finalize restores metadata and settles sizes. Restore problems are
// warnings: a converted, validated file with thin metadata beats no
// conversion.
func (d *Driver) finalize(ctx context.Context, t *task.VideoTask) (task.Outcome, error) {
	d.enter(t, task.StatusFinalizing)

	start := time.Now()
	warning, err := d.collab.Restorer.Restore(ctx, t.SourcePath, t.OutputPath)
	metrics.StageDuration.WithLabelValues(string(StageRestore)).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			d.removePartial(t)
			return task.Outcome{}, ctx.Err()
		}
		logging.Warn("Task %s: metadata restore failed: %v", t.ID, err)
	} else if warning != "" {
		logging.Warn("Task %s: metadata restore: %s", t.ID, warning)
	}

	var originalSize, convertedSize int64
	if fi, err := os.Stat(t.SourcePath); err == nil {
		originalSize = fi.Size()
	}
	if fi, err := os.Stat(t.OutputPath); err == nil {
		convertedSize = fi.Size()
	}

	t.Progress = 1.0
	d.agg.Complete(t.ID)
	return task.Succeeded(t.ID, originalSize, convertedSize), nil
}

// retryOrFail consults the recovery manager after a stage failure. It
// returns a terminal outcome when the task is given up on, an error on
// cancellation during backoff, or (nil, nil) to retry.
func (d *Driver) retryOrFail(ctx context.Context, t *task.VideoTask, category task.Category, message string, attempt int) (*task.Outcome, error) {
	action := d.recovery.RecoveryAction(category, attempt)
	if action.Kind == recovery.ActionSkip {
		d.recovery.HandleFailure(t, category, message)
		d.save(t)
		out := task.Failed(t.ID, category, message)
		return &out, nil
	}

	logging.Warn("Task %s: attempt %d failed (%s), retrying in %s: %s",
		t.ID, attempt, category, action.Delay, message)
	d.save(t)
	if err := d.sleep(ctx, action.Delay); err != nil {
		return nil, err
	}
	return nil, nil
}

// enter transitions the task and persists the change. Transition
// violations indicate a driver bug and are logged loudly rather than
// silently swallowed.
func (d *Driver) enter(t *task.VideoTask, to task.Status) {
	if err := t.Transition(to); err != nil {
		logging.Error("State machine violation: %v", err)
		t.Status = to
	}
	d.save(t)
}

// save persists an intermediate task change. Intermediate save failures
// are logged and tolerated; terminal commits go through the session
// manager's checked paths.
func (d *Driver) save(t *task.VideoTask) {
	if err := d.sessions.Update(t); err != nil {
		logging.Warn("Could not persist task %s update: %v", t.ID, err)
	}
}

// categorize resolves a stage error's failure category, classifying
// from message text and exit code when the collaborator did not set one.
// The stage argument is a fallback for plain errors; typed stage errors
// carry their own.
func (d *Driver) categorize(stage StageName, err error) task.Category {
	var category task.Category
	exitCode := 0

	var se *StageError
	if errors.As(err, &se) {
		category = se.Category
		exitCode = se.ExitCode
		if se.Stage != "" {
			stage = se.Stage
		}
	}
	if category == "" {
		category = recovery.Classify(err.Error(), exitCode)
	}
	metrics.StageErrors.WithLabelValues(string(stage), string(category)).Inc()
	return category
}

// removePartial deletes the task's output file, if any was written.
func (d *Driver) removePartial(t *task.VideoTask) {
	if t.OutputPath == "" {
		return
	}
	if err := os.Remove(t.OutputPath); err != nil && !os.IsNotExist(err) {
		logging.Warn("Could not remove partial output %s: %v", t.OutputPath, err)
	}
}

// cleanupStaging removes the exporter's staging copy once the task is
// done with it. A staging path equal to the source means the exporter
// worked in place.
func (d *Driver) cleanupStaging(t *task.VideoTask, localPath string) {
	if localPath == "" || localPath == t.SourcePath {
		return
	}
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		logging.Debug("Could not remove staging copy %s: %v", localPath, err)
	}
}

// normalizeStageError wraps plain errors in a StageError so
// classification sees the stage context.
func normalizeStageError(stage StageName, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func deref(out *task.Outcome) task.Outcome {
	if out == nil {
		return task.Outcome{}
	}
	return *out
}
