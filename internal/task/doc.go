// Package task defines the per-file unit of work for the conversion
// engine: the VideoTask record, its status state machine, the failure
// category vocabulary shared by the pipeline and recovery packages,
// and the fingerprint used for dedup and in-flight exclusion.
package task
