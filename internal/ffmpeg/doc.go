// Package ffmpeg provides the default pipeline collaborators backed by
// the external ffmpeg and ffprobe binaries: the encoder (with streaming
// progress telemetry), the validator, the metadata restorer, and the
// media prober. All media work happens in the external processes; this
// package only builds commands and reads their output.
package ffmpeg
