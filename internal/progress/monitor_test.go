package progress

import (
	"math"
	"testing"
	"time"
)

func TestFeedOutTime(t *testing.T) {
	m := NewMonitor(100) // 100 second source

	tests := []struct {
		name         string
		line         string
		wantSample   bool
		wantFraction float64
	}{
		{"frame line yields no sample", "frame=25", false, 0},
		{"out_time_ms is microseconds", "out_time_ms=10000000", true, 0.10},
		{"duplicate discarded", "out_time_ms=10000000", false, 0},
		{"regression discarded", "out_time_ms=5000000", false, 0},
		{"out_time_us advances", "out_time_us=20000000", true, 0.20},
		{"clock format advances", "out_time=00:00:30.000000", true, 0.30},
		{"garbage ignored", "not a key value line", false, 0},
		{"unknown key ignored", "bitrate=1200.0kbits/s", false, 0},
		{"end marker completes", "progress=end", true, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample := m.Feed(tt.line)
			if !tt.wantSample {
				if sample != nil {
					t.Fatalf("Feed(%q) = %+v, want nil", tt.line, sample)
				}
				return
			}
			if sample == nil {
				t.Fatalf("Feed(%q) = nil, want sample", tt.line)
			}
			if math.Abs(sample.FractionComplete-tt.wantFraction) > 0.001 {
				t.Errorf("fraction = %f, want %f", sample.FractionComplete, tt.wantFraction)
			}
		})
	}
}

func TestFeedNeverReportsDoneEarly(t *testing.T) {
	m := NewMonitor(10)

	// Container rounding can push out_time past the probed duration.
	sample := m.Feed("out_time_ms=11000000")
	if sample == nil {
		t.Fatal("expected sample")
	}
	if sample.FractionComplete >= 1.0 {
		t.Errorf("fraction = %f, want < 1.0 before end marker", sample.FractionComplete)
	}

	sample = m.Feed("progress=end")
	if sample == nil || sample.FractionComplete != 1.0 {
		t.Errorf("end marker sample = %+v, want fraction 1.0", sample)
	}
}

func TestFeedUnknownDuration(t *testing.T) {
	m := NewMonitor(0)

	if sample := m.Feed("out_time_ms=10000000"); sample != nil {
		t.Errorf("sample with unknown duration = %+v, want nil", sample)
	}
	// The end marker still completes the task.
	if sample := m.Feed("progress=end"); sample == nil || sample.FractionComplete != 1.0 {
		t.Errorf("end marker = %+v, want fraction 1.0", sample)
	}
}

func TestETAFromSpeed(t *testing.T) {
	m := NewMonitor(100)
	m.Feed("speed=2.0x")

	sample := m.Feed("out_time_ms=50000000") // 50s processed, 50s remain
	if sample == nil {
		t.Fatal("expected sample")
	}
	if math.Abs(sample.ETASeconds-25) > 0.001 {
		t.Errorf("ETA = %f, want 25 (50s remaining at 2x)", sample.ETASeconds)
	}
}

func TestETAFromWallClock(t *testing.T) {
	m := NewMonitor(100)
	current := time.Unix(1000, 0)
	m.now = func() time.Time { return current }

	m.Feed("frame=1") // starts the clock
	current = current.Add(10 * time.Second)

	// 25% done after 10s of wall clock => 30s remain at the observed rate.
	sample := m.Feed("out_time_ms=25000000")
	if sample == nil {
		t.Fatal("expected sample")
	}
	if math.Abs(sample.ETASeconds-30) > 0.001 {
		t.Errorf("ETA = %f, want 30", sample.ETASeconds)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"00:00:30.000000", 30, true},
		{"01:02:03.500000", 3723.5, true},
		{"1:2:3", 3723, true},
		{"N/A", 0, false},
		{"00:30", 0, false},
		{"-1:00:00", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseClock(tt.in)
		if ok != tt.wantOK || math.Abs(got-tt.want) > 0.001 {
			t.Errorf("parseClock(%q) = (%f, %v), want (%f, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFrameTracking(t *testing.T) {
	m := NewMonitor(100)
	m.Feed("frame=10")
	m.Feed("frame=25")
	m.Feed("frame=20") // out of order, keep the max
	if m.Frame() != 25 {
		t.Errorf("Frame() = %d, want 25", m.Frame())
	}
}
