package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch metrics
var (
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidconvert_tasks_total",
			Help: "Total number of tasks by terminal outcome",
		},
		[]string{"outcome"}, // "completed", "failed", "skipped"
	)

	TasksInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidconvert_tasks_in_progress",
			Help: "Number of tasks currently being processed",
		},
	)

	BatchDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidconvert_batch_duration_seconds",
			Help: "Duration of the last completed batch in seconds",
		},
	)

	SpaceSavedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidconvert_space_saved_bytes_total",
			Help: "Total bytes saved by completed conversions",
		},
	)
)

// Pipeline stage metrics
var (
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidconvert_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage"}, // "export", "convert", "validate", "restore", "finalize"
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidconvert_stage_errors_total",
			Help: "Total number of stage failures",
		},
		[]string{"stage", "category"}, // category: "transient", "permanent", "unknown"
	)
)

// Retry metrics
var (
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidconvert_retries_total",
			Help: "Total number of retries scheduled by failure category",
		},
		[]string{"category"},
	)

	RetryDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidconvert_retry_delay_seconds",
			Help:    "Backoff delay applied before a retry",
			Buckets: []float64{1, 5, 10, 20, 40, 60, 120},
		},
	)
)

// Session metrics
var (
	SessionSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidconvert_session_saves_total",
			Help: "Total number of session persistence writes",
		},
		[]string{"status"}, // "success", "error"
	)

	SessionSaveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidconvert_session_save_duration_seconds",
			Help:    "Session persistence write duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

// History ledger metrics
var (
	HistoryLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidconvert_history_lookups_total",
			Help: "Total number of history ledger lookups",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	HistoryRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidconvert_history_records_total",
			Help: "Total number of records appended to the history ledger",
		},
	)
)

// Progress metrics
var (
	OverallProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidconvert_overall_progress",
			Help: "Overall batch progress as a fraction between 0 and 1",
		},
	)
)
