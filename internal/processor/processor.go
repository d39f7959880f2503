package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vidconvert/internal/history"
	"vidconvert/internal/logging"
	"vidconvert/internal/metrics"
	"vidconvert/internal/pipeline"
	"vidconvert/internal/progress"
	"vidconvert/internal/session"
	"vidconvert/internal/task"
)

// ErrPersistence means session state repeatedly failed to persist. A run
// that cannot record its own progress must stop rather than redo work it
// can never commit.
var ErrPersistence = errors.New("session state repeatedly failed to persist")

// maxPersistenceStrikes is how many consecutive claim/commit persistence
// failures a worker tolerates before aborting the run.
const maxPersistenceStrikes = 3

// Processor owns the worker pool for one batch run.
type Processor struct {
	driver   *pipeline.Driver
	sessions *session.Manager
	ledger   *history.History
	agg      *progress.Aggregator
	workers  int

	// claimRetryDelay is the pause after a failed claim; shortened in tests.
	claimRetryDelay time.Duration
}

// New creates a processor with the given pool size.
func New(driver *pipeline.Driver, sessions *session.Manager, ledger *history.History, agg *progress.Aggregator, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		driver:          driver,
		sessions:        sessions,
		ledger:          ledger,
		agg:             agg,
		workers:         workers,
		claimRetryDelay: time.Second,
	}
}

// Run drains the session's pending queue through the pool and returns
// the per-task outcomes in completion order. It blocks until every
// claimed task has settled or the context is cancelled; on cancellation
// all in-flight tasks have been requeued before Run returns.
//
// A non-nil error means the run aborted because session state could not
// be persisted; the remaining queue is untouched.
func (p *Processor) Run(ctx context.Context) ([]task.Outcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalOnce sync.Once
		fatalErr  error
	)
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	results := make(chan task.Outcome)
	var wg sync.WaitGroup

	logging.Info("Starting %d conversion workers", p.workers)
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(runCtx, id, results, abort)
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var outcomes []task.Outcome
	for out := range results {
		outcomes = append(outcomes, out)
	}
	return outcomes, fatalErr
}

// worker claims tasks until the queue drains, the run is cancelled, or
// persistence failures exhaust the strike budget.
func (p *Processor) worker(ctx context.Context, id int, results chan<- task.Outcome, abort func(error)) {
	strikes := 0
	for {
		if ctx.Err() != nil {
			return
		}

		t, err := p.sessions.Claim()
		if err != nil {
			// A claim that cannot persist leaves the task pending; give
			// the session store a moment and try again, but a store that
			// keeps failing takes the whole run down.
			strikes++
			logging.Warn("Worker %d: claim failed (%d/%d): %v", id, strikes, maxPersistenceStrikes, err)
			if strikes >= maxPersistenceStrikes {
				abort(fmt.Errorf("%w: %v", ErrPersistence, err))
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.claimRetryDelay):
			}
			continue
		}
		if t == nil {
			return // queue drained
		}

		metrics.TasksInProgress.Inc()
		out, runErr := p.driver.Run(ctx, t)
		metrics.TasksInProgress.Dec()

		if runErr != nil {
			// Cancelled mid-flight: partial output is already removed,
			// return the task for a clean retry on resume.
			p.agg.Reset(t.ID)
			if err := p.sessions.Requeue(t); err != nil {
				logging.Error("Could not requeue cancelled task %s: %v", t.ID, err)
			} else {
				logging.Info("Worker %d: task %s returned to queue after cancellation", id, t.ID)
			}
			return
		}

		if err := p.commit(ctx, t, out); err != nil {
			// The session manager requeued the task; without the strike
			// budget a store that never recovers would re-encode the
			// same finished conversion forever.
			strikes++
			logging.Error("Worker %d: commit failed (%d/%d): %v", id, strikes, maxPersistenceStrikes, err)
			if strikes >= maxPersistenceStrikes {
				abort(fmt.Errorf("%w: %v", ErrPersistence, err))
				return
			}
			continue
		}
		strikes = 0
		results <- out
	}
}

// commit settles a terminal outcome: moves the task into its final
// collection and, for successes, appends the history record.
func (p *Processor) commit(ctx context.Context, t *task.VideoTask, out task.Outcome) error {
	switch out.Kind {
	case task.OutcomeSucceeded:
		if err := p.sessions.CompleteTask(t); err != nil {
			return err
		}
		// The conversion is committed; the ledger write must not be lost
		// to a shutdown race.
		p.recordHistory(context.WithoutCancel(ctx), t, out)
		metrics.TasksTotal.WithLabelValues("completed").Inc()
		if saved := out.OriginalSize - out.ConvertedSize; saved > 0 {
			metrics.SpaceSavedBytes.Add(float64(saved))
		}

	case task.OutcomeFailed:
		if err := p.sessions.FailTask(t); err != nil {
			return err
		}
		p.agg.Complete(t.ID)
		metrics.TasksTotal.WithLabelValues("failed").Inc()

	case task.OutcomeSkipped:
		if err := p.sessions.SkipTask(t); err != nil {
			return err
		}
		p.agg.Complete(t.ID)
		metrics.TasksTotal.WithLabelValues("skipped").Inc()
	}
	return nil
}

// recordHistory appends the success to the dedup ledger. A ledger write
// failure does not undo the conversion; the next batch would simply
// re-discover the (now already converted) input.
func (p *Processor) recordHistory(ctx context.Context, t *task.VideoTask, out task.Outcome) {
	ratio := 0.0
	if out.OriginalSize > 0 {
		ratio = float64(out.ConvertedSize) / float64(out.OriginalSize)
	}
	rec := history.Record{
		Fingerprint:      t.ID,
		OutputPath:       t.OutputPath,
		Succeeded:        true,
		CompressionRatio: ratio,
		Timestamp:        time.Now().UTC(),
	}
	if err := p.ledger.AddRecord(ctx, rec, out.OriginalSize, out.ConvertedSize); err != nil {
		logging.Warn("Could not record conversion of %s in history: %v", t.ID, err)
	}
}
