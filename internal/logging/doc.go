// Package logging provides a simple leveled logging interface for the
// conversion engine.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information (per-line telemetry, saves)
//   - INFO: General operational messages
//   - WARN: Warning conditions (retries, ratio outliers)
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the run
//
// The log level is configured via the LOG_LEVEL environment variable,
// with DEBUG=1 as a shortcut for the debug level.
package logging
