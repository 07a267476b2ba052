package main

import "testing"

const (
	quiet = false
	loud  = true
)

func feedN(m *silenceMonitor, speech bool, n int) SilenceEvent {
	var last SilenceEvent
	for i := 0; i < n; i++ {
		last = m.Tick(speech)
	}
	return last
}

func TestSilenceWarnAfter8s(t *testing.T) {
	m := newSilenceMonitor()
	for i := 0; i < 79; i++ {
		if ev := m.Tick(quiet); ev != SilenceNone {
			t.Fatalf("unexpected event at poll %d: %d", i, ev)
		}
	}
	if ev := m.Tick(quiet); ev != SilenceWarn {
		t.Fatalf("expected SilenceWarn at poll 80, got %d", ev)
	}
	if !m.Warned() {
		t.Error("Warned() = false after warning")
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := newSilenceMonitor()
	feedN(m, quiet, 80)

	for i := 0; i < 80; i++ {
		if m.Tick(loud) == SilenceWarnClear {
			if i+1 != 20 {
				t.Errorf("cleared after %d loud polls, want 20", i+1)
			}
			return
		}
	}
	t.Fatal("expected SilenceWarnClear after speech")
}

func TestNoWarnDuringSpeech(t *testing.T) {
	m := newSilenceMonitor()
	for i := 0; i < 200; i++ {
		if ev := m.Tick(loud); ev == SilenceWarn {
			t.Fatalf("unexpected warn during speech at poll %d", i)
		}
	}
}

func TestSparseSpeechStillWarns(t *testing.T) {
	m := newSilenceMonitor()
	var warned bool
	for i := 0; i < 160; i++ {
		speech := i%20 == 0 // 5% speech
		if m.Tick(speech) == SilenceWarn {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected warning with 5% speech")
	}
}

func TestSilenceRepeat(t *testing.T) {
	m := newSilenceMonitor()
	feedN(m, quiet, 80)
	for i := 0; i < 79; i++ {
		if ev := m.Tick(quiet); ev != SilenceNone {
			t.Fatalf("unexpected event %d at poll %d", ev, i)
		}
	}
	if ev := m.Tick(quiet); ev != SilenceRepeat {
		t.Fatalf("expected SilenceRepeat, got %d", ev)
	}
}

func TestSilenceReset(t *testing.T) {
	m := newSilenceMonitor()
	feedN(m, quiet, 80)
	m.Reset()
	if m.Warned() {
		t.Fatal("still warned after Reset")
	}
	if ev := feedN(m, quiet, 79); ev != SilenceNone {
		t.Errorf("event %d before window refilled", ev)
	}
}
