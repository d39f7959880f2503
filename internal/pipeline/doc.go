// Package pipeline defines the collaborator contracts for the five
// conversion stages (export, convert, validate, metadata-restore,
// finalize) and drives one task through them, including the in-worker
// retry loop with backoff.
//
// The engine never touches media content itself; every stage delegates
// to a collaborator, and the driver turns collaborator failures into
// state-machine transitions.
package pipeline
