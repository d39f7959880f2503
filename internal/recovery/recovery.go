package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vidconvert/internal/logging"
	"vidconvert/internal/metrics"
	"vidconvert/internal/task"
)

// RetryPolicy configures retry limits and backoff. It is immutable once
// handed to a Manager.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultRetryPolicy returns the stock policy: up to 3 retries at
// 5s/10s/20s, capped at one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         5 * time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          60 * time.Second,
	}
}

// ActionKind says what to do with a failed task.
type ActionKind int

const (
	// ActionRetry re-enters the failed stage after Delay.
	ActionRetry ActionKind = iota
	// ActionSkip gives up on the task and marks it failed.
	ActionSkip
)

// Action is a recovery decision.
type Action struct {
	Kind  ActionKind
	Delay time.Duration
}

// FailureRecord is one append-only entry in the failure log.
type FailureRecord struct {
	TaskID       string        `json:"task_id"`
	Category     task.Category `json:"category"`
	Message      string        `json:"message"`
	AttemptCount int           `json:"attempt_count"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Manager makes retry/skip decisions and maintains the failure log and
// the quarantine area for partial outputs. Safe for concurrent use by
// pool workers.
type Manager struct {
	policy    RetryPolicy
	failedDir string

	mu       sync.Mutex
	failures []FailureRecord
}

// NewManager creates a Manager. failedDir is where partial outputs of
// given-up tasks are moved; it is created lazily on first quarantine.
func NewManager(policy RetryPolicy, failedDir string) *Manager {
	return &Manager{policy: policy, failedDir: failedDir}
}

// Policy returns the manager's retry policy.
func (m *Manager) Policy() RetryPolicy { return m.policy }

// RecoveryAction decides retry-vs-skip for a failure of the given
// category on the given attempt (1-based).
//
// Permanent failures never retry. Transient failures retry up to
// MaxRetries with capped exponential backoff. Unknown failures get
// exactly one retry and are then skipped.
func (m *Manager) RecoveryAction(category task.Category, attempt int) Action {
	switch category {
	case task.CategoryPermanent:
		return Action{Kind: ActionSkip}
	case task.CategoryTransient:
		if attempt > m.policy.MaxRetries {
			return Action{Kind: ActionSkip}
		}
	case task.CategoryUnknown:
		if attempt > 1 {
			return Action{Kind: ActionSkip}
		}
	default:
		return Action{Kind: ActionSkip}
	}

	delay := m.Backoff(attempt)
	metrics.RetriesTotal.WithLabelValues(string(category)).Inc()
	metrics.RetryDelaySeconds.Observe(delay.Seconds())
	return Action{Kind: ActionRetry, Delay: delay}
}

// Backoff computes the delay before retry number attempt (1-based):
// base * multiplier^(attempt-1), capped at MaxDelay.
func (m *Manager) Backoff(attempt int) time.Duration {
	delay := m.policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * m.policy.BackoffMultiplier)
		if delay >= m.policy.MaxDelay {
			return m.policy.MaxDelay
		}
	}
	if delay > m.policy.MaxDelay {
		return m.policy.MaxDelay
	}
	return delay
}

// HandleFailure records a terminal failure: it appends a FailureRecord,
// quarantines any partially written output, and marks the task failed.
// Called only once recovery has decided to skip.
func (m *Manager) HandleFailure(t *task.VideoTask, category task.Category, message string) FailureRecord {
	rec := FailureRecord{
		TaskID:       t.ID,
		Category:     category,
		Message:      message,
		AttemptCount: t.AttemptCount,
		Timestamp:    time.Now(),
	}

	m.mu.Lock()
	m.failures = append(m.failures, rec)
	m.mu.Unlock()

	if err := m.quarantine(t); err != nil {
		logging.Warn("Could not quarantine output for task %s: %v", t.ID, err)
	}

	t.Status = task.StatusFailed
	t.LastError = &task.TaskError{Category: category, Message: message}
	return rec
}

// Failures returns a copy of the failure log.
func (m *Manager) Failures() []FailureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FailureRecord, len(m.failures))
	copy(out, m.failures)
	return out
}

// RecordFailures seeds the failure log, used when resuming a session
// that already has failed tasks.
func (m *Manager) RecordFailures(records []FailureRecord) {
	m.mu.Lock()
	m.failures = append(m.failures, records...)
	m.mu.Unlock()
}

// quarantine moves a partially written output file into the failed-items
// area so it cannot be mistaken for a finished conversion.
func (m *Manager) quarantine(t *task.VideoTask) error {
	if t.OutputPath == "" {
		return nil
	}
	if _, err := os.Stat(t.OutputPath); err != nil {
		return nil // nothing written
	}

	dir := filepath.Join(m.failedDir, t.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(t.OutputPath))
	if err := os.Rename(t.OutputPath, dst); err != nil {
		// Cross-device moves fail with rename; fall back to remove so the
		// partial file at least does not pose as a valid output.
		if rmErr := os.Remove(t.OutputPath); rmErr != nil {
			return fmt.Errorf("move to quarantine: %w", err)
		}
		return nil
	}
	logging.Debug("Quarantined partial output for task %s at %s", t.ID, dst)
	return nil
}
