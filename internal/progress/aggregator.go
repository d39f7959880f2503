package progress

import (
	"sync"

	"vidconvert/internal/metrics"
)

// Aggregator tracks per-task fractions and computes the overall batch
// fraction as the task-count-weighted mean. It is safe for concurrent
// use: workers report while a reporting goroutine reads.
type Aggregator struct {
	mu        sync.RWMutex
	fractions map[string]float64
	total     int
}

// Snapshot is a point-in-time view of aggregated progress.
type Snapshot struct {
	OverallFraction  float64            `json:"overall_fraction"`
	PerTaskFractions map[string]float64 `json:"per_task_fractions"`
}

// NewAggregator creates an aggregator for a batch of totalTasks tasks.
// Tasks that never report (skipped up front) count as complete once
// marked via Complete.
func NewAggregator(totalTasks int) *Aggregator {
	return &Aggregator{
		fractions: make(map[string]float64),
		total:     totalTasks,
	}
}

// Report records the current fraction for a task. Regressions are
// ignored so a restarted attempt does not bounce the overall number
// backwards.
func (a *Aggregator) Report(taskID string, fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	a.mu.Lock()
	if fraction > a.fractions[taskID] {
		a.fractions[taskID] = fraction
	}
	overall := a.overallLocked()
	a.mu.Unlock()

	metrics.OverallProgress.Set(overall)
}

// Complete marks a task finished regardless of its last reported fraction.
func (a *Aggregator) Complete(taskID string) {
	a.Report(taskID, 1.0)
}

// Reset clears a task's fraction, used when a cancelled task is
// returned to the pending queue.
func (a *Aggregator) Reset(taskID string) {
	a.mu.Lock()
	delete(a.fractions, taskID)
	a.mu.Unlock()
}

// Overall returns the current batch-wide fraction.
func (a *Aggregator) Overall() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.overallLocked()
}

func (a *Aggregator) overallLocked() float64 {
	if a.total == 0 {
		return 0
	}
	var sum float64
	for _, f := range a.fractions {
		sum += f
	}
	return sum / float64(a.total)
}

// Snapshot returns a copy of the current per-task and overall fractions.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	per := make(map[string]float64, len(a.fractions))
	for id, f := range a.fractions {
		per[id] = f
	}
	return Snapshot{
		OverallFraction:  a.overallLocked(),
		PerTaskFractions: per,
	}
}
