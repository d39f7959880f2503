// Package scanner provides the filesystem-backed Source and Exporter
// collaborators: it discovers candidate video files under an input
// directory and stages them for encoding.
package scanner
