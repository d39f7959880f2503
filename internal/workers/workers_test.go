package workers

import (
	"runtime"
	"testing"
)

func TestCount(t *testing.T) {
	max := runtime.GOMAXPROCS(0)

	tests := []struct {
		name      string
		requested int
		env       string
		want      int
	}{
		{"zero falls back to default", 0, "", min(DefaultConcurrency, max)},
		{"negative falls back to default", -3, "", min(DefaultConcurrency, max)},
		{"explicit request honored", 1, "", 1},
		{"capped at available CPUs", max + 10, "", max},
		{"env override wins", 5, "1", 1},
		{"garbage env ignored", 1, "lots", 1},
		{"non-positive env ignored", 1, "0", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONVERT_WORKERS", tt.env)
			if got := Count(tt.requested); got != tt.want {
				t.Errorf("Count(%d) with CONVERT_WORKERS=%q = %d, want %d", tt.requested, tt.env, got, tt.want)
			}
		})
	}
}
