package progress

import (
	"strconv"
	"strings"
	"time"
)

// Sample is one normalized progress observation for a task. Samples are
// ephemeral; they feed the aggregator and are never persisted.
type Sample struct {
	FractionComplete float64
	ETASeconds       float64
}

// Monitor folds encoder telemetry lines into Samples. One Monitor is
// created per encode and must not be shared across tasks.
//
// ffmpeg -progress output is a repeating block of key=value lines such as:
//
//	frame=250
//	fps=62.5
//	out_time_ms=10000000
//	speed=2.5x
//	progress=continue
//
// The fraction is out-time over the known total duration. Telemetry is
// assumed non-decreasing within one run, so a sample below the last
// reported fraction is discarded.
type Monitor struct {
	totalDuration float64 // seconds; <= 0 means unknown
	started       time.Time
	now           func() time.Time

	lastFraction float64
	speed        float64 // encoder speed multiplier from "speed=", 0 if unseen
	frame        int64
}

// NewMonitor creates a monitor for a source with the given total
// duration in seconds. A non-positive duration disables fraction
// normalization: the monitor still tracks frames but reports no samples
// until the terminal "progress=end" line.
func NewMonitor(totalDurationSeconds float64) *Monitor {
	return &Monitor{
		totalDuration: totalDurationSeconds,
		now:           time.Now,
	}
}

// Frame returns the last frame counter seen, for diagnostics.
func (m *Monitor) Frame() int64 { return m.frame }

// Feed consumes one telemetry line. It returns a Sample when the line
// advances progress, or nil for unrecognized, duplicate, or regressing
// lines.
func (m *Monitor) Feed(line string) *Sample {
	if m.started.IsZero() {
		m.started = m.now()
	}

	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return nil
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > m.frame {
			m.frame = n
		}
		return nil
	case "speed":
		// "2.5x" or "N/A" early in the encode
		v := strings.TrimSuffix(value, "x")
		if s, err := strconv.ParseFloat(v, 64); err == nil && s > 0 {
			m.speed = s
		}
		return nil
	case "out_time_ms":
		// Despite the name, ffmpeg emits microseconds here.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return nil
		}
		return m.advance(float64(us) / 1e6)
	case "out_time_us":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return nil
		}
		return m.advance(float64(us) / 1e6)
	case "out_time":
		secs, ok := parseClock(value)
		if !ok {
			return nil
		}
		return m.advance(secs)
	case "progress":
		if value == "end" {
			m.lastFraction = 1.0
			return &Sample{FractionComplete: 1.0, ETASeconds: 0}
		}
		return nil
	default:
		return nil
	}
}

// advance computes a sample from processed seconds, enforcing the
// monotonic-fraction rule.
func (m *Monitor) advance(processedSeconds float64) *Sample {
	if m.totalDuration <= 0 {
		return nil
	}

	fraction := processedSeconds / m.totalDuration
	if fraction < 0 {
		return nil
	}
	// Containers round durations; never report done before the end marker.
	if fraction >= 1.0 {
		fraction = 0.99
	}
	if fraction <= m.lastFraction {
		return nil
	}
	m.lastFraction = fraction

	return &Sample{
		FractionComplete: fraction,
		ETASeconds:       m.eta(processedSeconds, fraction),
	}
}

// eta estimates remaining wall-clock seconds, preferring the encoder's
// own speed multiplier over the observed wall-clock rate.
func (m *Monitor) eta(processedSeconds, fraction float64) float64 {
	remaining := m.totalDuration - processedSeconds
	if remaining < 0 {
		remaining = 0
	}
	if m.speed > 0 {
		return remaining / m.speed
	}
	elapsed := m.now().Sub(m.started).Seconds()
	if elapsed <= 0 || fraction <= 0 {
		return 0
	}
	return elapsed * (1 - fraction) / fraction
}

// parseClock parses an HH:MM:SS.micro timestamp into seconds.
func parseClock(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || hours < 0 {
		return 0, false
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, true
}
