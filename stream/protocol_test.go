package stream

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeConfigure(t *testing.T) {
	var first map[string]any
	if err := json.Unmarshal(EncodeConfigure("rec-1", "Standup"), &first); err != nil {
		t.Fatal(err)
	}
	if first["type"] != "configure" || first["recording_id"] != "rec-1" || first["title"] != "Standup" {
		t.Errorf("unexpected configure: %v", first)
	}

	var again map[string]any
	if err := json.Unmarshal(EncodeConfigure("rec-1", ""), &again); err != nil {
		t.Fatal(err)
	}
	if _, ok := again["title"]; ok {
		t.Errorf("re-configure should omit title, got %v", again)
	}
}

func TestEncodeStop(t *testing.T) {
	if got := string(EncodeStop()); got != `{"type":"stop_recording"}` {
		t.Errorf("stop = %s", got)
	}
}

func TestDecode(t *testing.T) {
	now := time.Unix(100, 0)
	tests := []struct {
		name   string
		in     string
		wantOK bool
		want   Event
	}{
		{
			name:   "final transcript",
			in:     `{"transcript":"hello world","is_final":true,"confidence":0.92}`,
			wantOK: true,
			want:   TranscriptEvent{Text: "hello world", IsFinal: true, Confidence: 0.92, At: now},
		},
		{
			name:   "interim transcript",
			in:     `{"transcript":"hel","is_final":false,"confidence":0.4}`,
			wantOK: true,
			want:   TranscriptEvent{Text: "hel", Confidence: 0.4, At: now},
		},
		{
			name:   "missing confidence defaults to 1",
			in:     `{"transcript":"ok","is_final":true}`,
			wantOK: true,
			want:   TranscriptEvent{Text: "ok", IsFinal: true, Confidence: 1, At: now},
		},
		{
			name:   "limit reached",
			in:     `{"type":"limit_reached"}`,
			wantOK: true,
			want:   LimitEvent{Source: LimitFromMessage},
		},
		{
			name:   "plain text fallback",
			in:     "  good morning  ",
			wantOK: true,
			want:   TranscriptEvent{Text: "good morning", IsFinal: true, Confidence: 1, At: now, Plain: true},
		},
		{name: "empty", in: "   ", wantOK: false},
		{name: "error marker", in: "Error: upstream unavailable", wantOK: false},
		{name: "json error", in: `{"type":"error","error":"bad audio"}`, wantOK: false},
		{name: "json error field only", in: `{"error":"bad audio"}`, wantOK: false},
		{name: "unknown json", in: `{"type":"heartbeat"}`, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode([]byte(tt.in), now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (event %#v)", ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Errorf("event = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestConnStateString(t *testing.T) {
	for s, want := range map[ConnState]string{
		Idle: "idle", Connecting: "connecting", Open: "open", Reconnecting: "reconnecting", Closed: "closed",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
