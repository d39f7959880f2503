// Package session owns the durable, resumable state of one batch run.
//
// A session is a single JSON document holding the four task collections
// (pending, in progress, completed, failed). Every task transition is
// written with temp-file-plus-rename semantics before it is considered
// committed, so a crash at any point leaves either the old or the new
// document on disk, never a torn one, and an external process can
// inspect progress by reading the file without coordination.
//
// A lock file enforces the one-active-session-per-directory invariant.
package session
