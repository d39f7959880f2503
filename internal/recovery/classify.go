package recovery

import (
	"regexp"

	"vidconvert/internal/task"
)

// Pre-compiled patterns for classifying encoder/exporter error text.
// Permanent patterns are checked before transient ones; the first match
// wins, anything unmatched is Unknown.
var (
	rePermanent = regexp.MustCompile(
		`(?i)no such file or directory|file not found|` +
			`permission denied|operation not permitted|` +
			`invalid data found when processing input|` +
			`unsupported format|unknown format|invalid argument|` +
			`decoder not found|codec not currently supported`)

	reTransient = regexp.MustCompile(
		`(?i)network|timed? ?out|connection re(set|fused)|` +
			`resource temporarily unavailable|temporarily unavailable|` +
			`device or resource busy|too many open files|` +
			`no space left on device|` +
			`icloud|cloud sync|not yet downloaded`)
)

// Exit codes with a fixed meaning regardless of stderr text. 127 is
// command-not-found from the shell; signals show up as negative codes
// from exec and are treated as transient (a killed encoder can be
// retried).
const exitCommandNotFound = 127

// Classify maps an error message and external-process exit code to a
// failure category. Rules are checked in order: known-permanent text,
// known-transient text, fixed exit codes, then Unknown.
func Classify(message string, exitCode int) task.Category {
	if rePermanent.MatchString(message) {
		return task.CategoryPermanent
	}
	if reTransient.MatchString(message) {
		return task.CategoryTransient
	}
	if exitCode == exitCommandNotFound {
		return task.CategoryPermanent
	}
	if exitCode < 0 {
		return task.CategoryTransient
	}
	return task.CategoryUnknown
}
