package observ

import (
	"errors"
	"strings"
	"testing"
)

func TestTimerMeasureAndMerge(t *testing.T) {
	a := NewTimer()
	_ = a.Measure("narrow", func() error { return nil })
	if err := a.Measure("coloring", func() error { return errors.New("boom") }); err == nil {
		t.Fatal("Measure swallowed the error")
	}

	b := NewTimer()
	_ = b.Measure("narrow", func() error { return nil })

	ra := a.Report()
	if len(ra.Phases) != 2 || ra.Phases[1].Note != "failed" {
		t.Fatalf("unexpected report: %+v", ra)
	}

	merged := Merge(ra, b.Report())
	if len(merged.Phases) != 2 || merged.Phases[0].Name != "narrow" {
		t.Fatalf("unexpected merge: %+v", merged)
	}
	if !strings.Contains(merged.Summary(), "coloring") || !strings.Contains(merged.Summary(), "total") {
		t.Fatalf("summary: %s", merged.Summary())
	}
}
