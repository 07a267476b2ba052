package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"livescribe/api"
	"livescribe/audio"
	"livescribe/stream"
)

// transcribeServer expects configure followed by n audio frames, then
// answers with one final transcript and reads until the client closes.
func transcribeServer(t *testing.T, frames int, reply string) (*httptest.Server, <-chan string) {
	t.Helper()
	configured := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "handler exit")
		ctx := r.Context()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg struct {
			Type        string `json:"type"`
			RecordingID string `json:"recording_id"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.Type != "configure" {
			t.Errorf("first message = %s, want configure", data)
			return
		}
		configured <- msg.RecordingID

		for got := 0; got < frames; {
			typ, _, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				got++
			}
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
			return
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, configured
}

func TestRecordTranscribeSave(t *testing.T) {
	ws, configured := transcribeServer(t, 3, `{"transcript":"hello world","is_final":true,"confidence":0.92}`)
	fake := api.NewFakeServer("tok")
	defer fake.Close()
	fake.SetSaveID("srv-42")

	src := newManualSource()
	ticks := make(chan time.Time)
	ctrl := New(DefaultConfig(), Deps{
		Backend:   fake.Client(""),
		NewSource: func() audio.Source { return src },
		NewStream: func() Streamer {
			return stream.New(stream.Options{
				URL:     "ws" + strings.TrimPrefix(ws.URL, "http"),
				Token:   "tok",
				Backoff: 20 * time.Millisecond,
			})
		},
		NewTicker: func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} },
	})
	defer ctrl.Close()
	events := record(ctrl)

	if err := ctrl.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	id, err := ctrl.Start(context.Background(), "Demo")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-configured:
		if got != id {
			t.Errorf("configured %q, want %q", got, id)
		}
	case <-time.After(waitTimeout):
		t.Fatal("stream never configured")
	}
	events.wait(t, "connection open", func(ev Event) bool {
		cc, ok := ev.(ConnectionChanged)
		return ok && cc.State == stream.Open
	})

	for i := 0; i < 3; i++ {
		src.frames <- audio.FakeFrame(0.05)
	}
	seg := events.wait(t, "segment", func(ev Event) bool {
		_, ok := ev.(SegmentAdded)
		return ok
	}).(SegmentAdded)
	if seg.Segment.Text != "hello world" || seg.Segment.Confidence != 0.92 || seg.Segment.Start != 0 {
		t.Errorf("segment = %+v", seg.Segment)
	}
	if seg.Latency < 0 || seg.Latency > waitTimeout {
		t.Errorf("latency = %v", seg.Latency)
	}

	ticks <- time.Now()
	ticks <- time.Now()
	if err := ctrl.Stop(ReasonUser); err != nil {
		t.Fatal(err)
	}
	savedID, err := ctrl.Save(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if savedID != "srv-42" {
		t.Errorf("saved id = %q, want srv-42", savedID)
	}
	saved := events.wait(t, "saved", func(ev Event) bool {
		_, ok := ev.(RecordingSaved)
		return ok
	}).(RecordingSaved)
	if saved.ID != "srv-42" {
		t.Errorf("Saved event id = %q", saved.ID)
	}

	ups := fake.Uploads()
	if len(ups) != 1 {
		t.Fatalf("uploads = %d, want 1", len(ups))
	}
	up := ups[0]
	if up.ID != id || up.Title != "Demo" {
		t.Errorf("upload id/title = %q/%q", up.ID, up.Title)
	}
	if len(up.Transcript) != 1 || up.Transcript[0].Text != "hello world" {
		t.Errorf("transcript = %+v", up.Transcript)
	}
	if up.Duration < 1 {
		t.Errorf("duration = %v, want >= 1s", up.Duration)
	}
	if len(up.Audio) <= audio.WAVHeaderSize || up.AudioType != "audio/wav" {
		t.Errorf("audio %d bytes of %q", len(up.Audio), up.AudioType)
	}
	if ctrl.State() != Saved {
		t.Errorf("state = %v, want saved", ctrl.State())
	}
}
