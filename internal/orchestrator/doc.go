// Package orchestrator is the top-level batch driver: it creates or
// resumes a session, filters candidates against the conversion history,
// runs the worker pool, and assembles the final report.
package orchestrator
