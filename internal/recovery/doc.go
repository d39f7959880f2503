// Package recovery classifies pipeline failures, decides whether a task
// is retried or skipped, computes backoff delays, and quarantines the
// partial output of tasks that are given up on.
package recovery
