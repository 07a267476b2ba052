package session

import (
	"strings"
	"time"

	"livescribe/api"
)

const (
	DefaultSecondsPerWord = 0.4
	minSegmentSeconds     = 0.5
)

// TranscriptSegment is one final transcript with offsets in seconds from
// session start. Offsets are estimated from word count, not measured.
type TranscriptSegment struct {
	Text       string
	Start      float64
	End        float64
	Confidence float64
	ReceivedAt time.Time
}

// Transcript is the ordered list of final segments plus the current
// interim text. Only the controller loop touches it.
type Transcript struct {
	secondsPerWord float64
	segments       []TranscriptSegment
	interim        string
}

func NewTranscript(secondsPerWord float64) *Transcript {
	if secondsPerWord <= 0 {
		secondsPerWord = DefaultSecondsPerWord
	}
	return &Transcript{secondsPerWord: secondsPerWord}
}

// AppendFinal adds a segment starting where the previous one ended and
// clears the interim text.
func (t *Transcript) AppendFinal(text string, confidence float64, at time.Time) TranscriptSegment {
	start := 0.0
	if n := len(t.segments); n > 0 {
		start = t.segments[n-1].End
	}
	seg := TranscriptSegment{
		Text:       text,
		Start:      start,
		End:        start + t.estimate(text),
		Confidence: confidence,
		ReceivedAt: at,
	}
	t.segments = append(t.segments, seg)
	t.interim = ""
	return seg
}

func (t *Transcript) estimate(text string) float64 {
	words := len(strings.Fields(text))
	return max(float64(words)*t.secondsPerWord, minSegmentSeconds)
}

func (t *Transcript) SetInterim(text string) { t.interim = text }

func (t *Transcript) Interim() string { return t.interim }

func (t *Transcript) Len() int { return len(t.segments) }

func (t *Transcript) Segments() []TranscriptSegment {
	return append([]TranscriptSegment(nil), t.segments...)
}

// Text joins final segments with spaces.
func (t *Transcript) Text() string {
	parts := make([]string, len(t.segments))
	for i, s := range t.segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

func (t *Transcript) wire() []api.Segment {
	out := make([]api.Segment, len(t.segments))
	for i, s := range t.segments {
		out[i] = api.Segment{Text: s.Text, Start: s.Start, End: s.End, Confidence: s.Confidence}
	}
	return out
}

// LatencyTracker keeps the last send-to-final latency and a rolling
// average over the most recent window arrivals.
type LatencyTracker struct {
	window []time.Duration
	next   int
	filled bool
	last   time.Duration
}

func NewLatencyTracker(size int) *LatencyTracker {
	if size < 1 {
		size = 1
	}
	return &LatencyTracker{window: make([]time.Duration, size)}
}

func (l *LatencyTracker) Add(d time.Duration) {
	l.last = d
	l.window[l.next] = d
	l.next++
	if l.next == len(l.window) {
		l.next = 0
		l.filled = true
	}
}

func (l *LatencyTracker) Last() time.Duration { return l.last }

func (l *LatencyTracker) Count() int {
	if l.filled {
		return len(l.window)
	}
	return l.next
}

func (l *LatencyTracker) Average() time.Duration {
	n := l.Count()
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range l.window[:n] {
		sum += d
	}
	return sum / time.Duration(n)
}
