package task

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"queued to exporting", StatusQueued, StatusExporting, true},
		{"exporting to exported", StatusExporting, StatusExported, true},
		{"exporting to export failed", StatusExporting, StatusExportFailed, true},
		{"export failed retries", StatusExportFailed, StatusExporting, true},
		{"export failed gives up", StatusExportFailed, StatusFailed, true},
		{"exported to converting", StatusExported, StatusConverting, true},
		{"convert failed retries", StatusConvertFailed, StatusConverting, true},
		{"validating back to convert failed", StatusValidating, StatusConvertFailed, true},
		{"validated to finalizing", StatusValidated, StatusFinalizing, true},
		{"finalizing to completed", StatusFinalizing, StatusCompleted, true},
		{"completed is terminal", StatusCompleted, StatusQueued, false},
		{"failed is terminal", StatusFailed, StatusConverting, false},
		{"skipped is terminal", StatusSkipped, StatusQueued, false},
		{"no queued to converting shortcut", StatusQueued, StatusConverting, false},
		{"no exported to completed shortcut", StatusExported, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransition(t *testing.T) {
	vt := New("abc", "/in/a.mov", "/out/a.mp4")
	if vt.Status != StatusDiscovered {
		t.Fatalf("new task status = %s, want %s", vt.Status, StatusDiscovered)
	}

	if err := vt.Transition(StatusQueued); err != nil {
		t.Fatalf("Transition to queued: %v", err)
	}
	if err := vt.Transition(StatusCompleted); err == nil {
		t.Error("expected error for queued -> completed")
	}
	if vt.Status != StatusQueued {
		t.Errorf("status changed on rejected transition: %s", vt.Status)
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusSkipped, StatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
	active := []Status{StatusQueued, StatusExporting, StatusConverting, StatusValidating}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

func TestFingerprint(t *testing.T) {
	mod := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	a := Fingerprint("/videos/a.mov", 1000, mod)
	b := Fingerprint("/videos/a.mov", 1000, mod)
	if a != b {
		t.Error("same inputs produced different fingerprints")
	}

	if Fingerprint("/videos/b.mov", 1000, mod) == a {
		t.Error("different path produced same fingerprint")
	}
	if Fingerprint("/videos/a.mov", 1001, mod) == a {
		t.Error("different size produced same fingerprint")
	}
	if Fingerprint("/videos/a.mov", 1000, mod.Add(time.Second)) == a {
		t.Error("different mtime produced same fingerprint")
	}

	if len(a) != 40 {
		t.Errorf("fingerprint length = %d, want 40 hex chars", len(a))
	}
}

func TestOutcomeConstructors(t *testing.T) {
	s := Succeeded("id1", 1000, 400)
	if s.Kind != OutcomeSucceeded || s.OriginalSize != 1000 || s.ConvertedSize != 400 {
		t.Errorf("unexpected success outcome: %+v", s)
	}

	f := Failed("id2", CategoryPermanent, "boom")
	if f.Kind != OutcomeFailed || f.Category != CategoryPermanent || f.Message != "boom" {
		t.Errorf("unexpected failure outcome: %+v", f)
	}

	sk := Skipped("id3", "already converted")
	if sk.Kind != OutcomeSkipped || sk.Message != "already converted" {
		t.Errorf("unexpected skip outcome: %+v", sk)
	}
}
