package observ

import (
	"strings"
	"testing"
	"time"
)

func TestTimerReport(t *testing.T) {
	clock := time.Unix(0, 0)
	timer := NewTimer()
	timer.now = func() time.Time { return clock }

	idx := timer.Begin("resolve")
	clock = clock.Add(2 * time.Millisecond)
	timer.End(idx, "cr1000x")
	idx = timer.Begin("run")
	clock = clock.Add(10 * time.Millisecond)
	timer.End(idx, "")
	timer.End(42, "ignored")

	report := timer.Report()
	if len(report.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(report.Phases))
	}
	if report.TotalMS != 12 {
		t.Fatalf("expected 12ms total, got %v", report.TotalMS)
	}
	summary := report.Summary()
	if !strings.Contains(summary, "// cr1000x") || !strings.Contains(summary, "total") {
		t.Fatalf("unexpected summary:\n%s", summary)
	}
}

func TestNilTimerReport(t *testing.T) {
	var timer *Timer
	if got := timer.Report(); len(got.Phases) != 0 {
		t.Fatalf("expected empty report, got %+v", got)
	}
}
