package session

import (
	"math"
	"testing"
	"time"
)

func TestTranscriptOffsets(t *testing.T) {
	tr := NewTranscript(0.4)
	at := time.Unix(100, 0)

	tests := []struct {
		text       string
		start, end float64
	}{
		{"hello world", 0, 0.8},
		{"ok", 0.8, 1.3}, // one word is below the per-segment minimum
		{"the quick brown fox jumps", 1.3, 3.3},
	}
	for _, tt := range tests {
		seg := tr.AppendFinal(tt.text, 0.9, at)
		if math.Abs(seg.Start-tt.start) > 1e-9 || math.Abs(seg.End-tt.end) > 1e-9 {
			t.Errorf("%q: got [%.2f, %.2f], want [%.2f, %.2f]", tt.text, seg.Start, seg.End, tt.start, tt.end)
		}
	}

	segs := tr.Segments()
	for i := 1; i < len(segs); i++ {
		if segs[i].Start != segs[i-1].End {
			t.Errorf("segment %d starts at %.2f, previous ends at %.2f", i, segs[i].Start, segs[i-1].End)
		}
	}
	if got := tr.Text(); got != "hello world ok the quick brown fox jumps" {
		t.Errorf("Text = %q", got)
	}
}

func TestTranscriptFinalClearsInterim(t *testing.T) {
	tr := NewTranscript(0)
	tr.SetInterim("hel")
	if tr.Interim() != "hel" {
		t.Fatalf("interim = %q", tr.Interim())
	}
	tr.AppendFinal("hello", 1, time.Now())
	if tr.Interim() != "" {
		t.Errorf("interim not cleared: %q", tr.Interim())
	}
	if w := tr.wire(); len(w) != 1 || w[0].Text != "hello" || w[0].End != 0.5 {
		t.Errorf("wire = %+v", w)
	}
}

func TestLatencyTracker(t *testing.T) {
	l := NewLatencyTracker(3)
	if l.Average() != 0 || l.Count() != 0 {
		t.Fatalf("empty tracker: avg %v count %d", l.Average(), l.Count())
	}
	for _, ms := range []int{100, 200, 300} {
		l.Add(time.Duration(ms) * time.Millisecond)
	}
	if got := l.Average(); got != 200*time.Millisecond {
		t.Errorf("avg = %v, want 200ms", got)
	}
	l.Add(700 * time.Millisecond) // evicts 100ms
	if got := l.Average(); got != 400*time.Millisecond {
		t.Errorf("avg after wrap = %v, want 400ms", got)
	}
	if l.Last() != 700*time.Millisecond || l.Count() != 3 {
		t.Errorf("last %v count %d", l.Last(), l.Count())
	}
}
