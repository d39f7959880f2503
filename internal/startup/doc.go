// Package startup loads and validates configuration from environment
// variables, prints the startup banner and configuration echo, and
// hosts the fatal-exit helpers used before logging is fully wired.
package startup
