package main

import "time"

const (
	levelPollInterval = 100 * time.Millisecond
	silenceWarnAfter  = 8 * time.Second
	speechMinRatio    = 0.10
	speechClearRatio  = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected
	SilenceWarnClear              // speech resumed after warning
	SilenceRepeat                 // still silent, remind again
)

// silenceMonitor watches voice activity while recording and warns when
// the microphone seems to pick up nothing. It never stops a recording.
type silenceMonitor struct {
	windowSz int

	ticks    int
	window   []bool
	warned   bool
	lastWarn int
}

func newSilenceMonitor() *silenceMonitor {
	n := int(silenceWarnAfter / levelPollInterval)
	return &silenceMonitor{windowSz: n, window: make([]bool, n)}
}

func (m *silenceMonitor) Reset() {
	*m = *newSilenceMonitor()
}

func (m *silenceMonitor) ratio() float64 {
	n := min(m.ticks, m.windowSz)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

// Tick feeds one poll's speech verdict and reports what changed.
func (m *silenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	m.window[m.ticks%m.windowSz] = hasSpeech
	m.ticks++

	r := m.ratio()
	switch {
	case m.ticks >= m.windowSz && r < speechMinRatio && !m.warned:
		m.warned = true
		m.lastWarn = m.ticks
		return SilenceWarn
	case m.warned && r >= speechClearRatio:
		m.warned = false
		return SilenceWarnClear
	case m.warned && m.ticks-m.lastWarn >= m.windowSz:
		m.lastWarn = m.ticks
		return SilenceRepeat
	}
	return SilenceNone
}

func (m *silenceMonitor) Warned() bool { return m.warned }
