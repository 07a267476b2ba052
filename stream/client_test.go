package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

const testBackoff = 20 * time.Millisecond

type received struct {
	conn int
	typ  websocket.MessageType
	data []byte
}

// wsServer accepts websocket connections, numbers them from 1 and records
// every message the client sends.
type wsServer struct {
	*httptest.Server
	conns atomic.Int32

	mu   sync.Mutex
	msgs []received
}

func newWSServer(t *testing.T, handle func(ctx context.Context, n int, s *wsServer, conn *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "handler exit")
		n := int(s.conns.Add(1))
		handle(r.Context(), n, s, conn)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// read reads one message and records it.
func (s *wsServer) read(ctx context.Context, n int, conn *websocket.Conn) (websocket.MessageType, []byte, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return typ, nil, err
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, received{conn: n, typ: typ, data: data})
	s.mu.Unlock()
	return typ, data, nil
}

func (s *wsServer) drain(ctx context.Context, n int, conn *websocket.Conn) {
	for {
		if _, _, err := s.read(ctx, n, conn); err != nil {
			return
		}
	}
}

func (s *wsServer) messages(conn int) []received {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []received
	for _, m := range s.msgs {
		if m.conn == conn {
			out = append(out, m)
		}
	}
	return out
}

func newTestClient(url string) *Client {
	return New(Options{URL: url, Token: "tok", Backoff: testBackoff, DialTimeout: time.Second})
}

func always() bool { return true }

func waitFor(t *testing.T, c *Client, what string, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
			return nil
		}
	}
}

func isOpen(attempt int) func(Event) bool {
	return func(ev Event) bool {
		ce, ok := ev.(ConnectionEvent)
		return ok && ce.State == Open && ce.Attempt == attempt
	}
}

func decodeConfigure(t *testing.T, m received) configureMessage {
	t.Helper()
	if m.typ != websocket.MessageText {
		t.Fatalf("expected text configure, got message type %v", m.typ)
	}
	var cfg configureMessage
	if err := json.Unmarshal(m.data, &cfg); err != nil {
		t.Fatalf("decode configure: %v", err)
	}
	if cfg.Type != "configure" {
		t.Fatalf("first message type = %q, want configure", cfg.Type)
	}
	return cfg
}

func TestConfigureThenFrames(t *testing.T) {
	srv := newWSServer(t, func(ctx context.Context, n int, s *wsServer, conn *websocket.Conn) {
		s.drain(ctx, n, conn)
	})

	c := newTestClient(srv.wsURL())
	if err := c.Open(context.Background(), "rec-1", "Standup", always); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	waitFor(t, c, "open", isOpen(0))

	if !c.Send([]byte{1, 0, 2, 0}) {
		t.Fatal("Send on open connection returned false")
	}
	c.Stop()

	msgs := srv.messages(1)
	if len(msgs) < 3 {
		t.Fatalf("got %d messages, want configure, frame, stop", len(msgs))
	}
	cfg := decodeConfigure(t, msgs[0])
	if cfg.RecordingID != "rec-1" || cfg.Title != "Standup" {
		t.Errorf("configure = %+v", cfg)
	}
	if msgs[1].typ != websocket.MessageBinary || len(msgs[1].data) != 4 {
		t.Errorf("frame = %v %v", msgs[1].typ, msgs[1].data)
	}
	if string(msgs[2].data) != `{"type":"stop_recording"}` {
		t.Errorf("last message = %s, want stop_recording", msgs[2].data)
	}
	if st := c.Stats(); st.SentFrames != 1 || st.SentBytes != 4 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReconnectResendsConfigureOnce(t *testing.T) {
	srv := newWSServer(t, func(ctx context.Context, n int, s *wsServer, conn *websocket.Conn) {
		if n == 1 {
			// configure plus two frames, then drop with a non-limit code.
			for i := 0; i < 3; i++ {
				if _, _, err := s.read(ctx, n, conn); err != nil {
					return
				}
			}
			conn.Close(websocket.StatusInternalError, "upstream restart")
			return
		}
		s.drain(ctx, n, conn)
	})

	c := newTestClient(srv.wsURL())
	if err := c.Open(context.Background(), "rec-42", "Title", always); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	waitFor(t, c, "first open", isOpen(0))
	c.Send([]byte{1, 0})
	c.Send([]byte{2, 0})

	// Keep feeding frames through the drop and reconnect.
	stopFeed := make(chan struct{})
	var fed sync.WaitGroup
	fed.Add(1)
	go func() {
		defer fed.Done()
		for {
			select {
			case <-stopFeed:
				return
			case <-time.After(2 * time.Millisecond):
				c.Send([]byte{9, 0})
			}
		}
	}()

	ev := waitFor(t, c, "reconnecting", func(ev Event) bool {
		ce, ok := ev.(ConnectionEvent)
		return ok && ce.State == Reconnecting
	}).(ConnectionEvent)
	if ev.Code != int(websocket.StatusInternalError) || ev.Attempt != 1 {
		t.Errorf("reconnecting event = %+v", ev)
	}
	waitFor(t, c, "second open", isOpen(1))
	time.Sleep(30 * time.Millisecond)
	close(stopFeed)
	fed.Wait()
	c.Stop()

	second := srv.messages(2)
	if len(second) == 0 {
		t.Fatal("no messages on reconnected connection")
	}
	cfg := decodeConfigure(t, second[0])
	if cfg.RecordingID != "rec-42" {
		t.Errorf("recording id = %q, want rec-42", cfg.RecordingID)
	}
	if cfg.Title != "" {
		t.Errorf("title resent on reconnect: %q", cfg.Title)
	}
	configures := 0
	for _, m := range second {
		if m.typ == websocket.MessageText && strings.Contains(string(m.data), `"configure"`) {
			configures++
		}
	}
	if configures != 1 {
		t.Errorf("configure sent %d times on reconnect, want 1", configures)
	}
	if c.Stats().Reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", c.Stats().Reconnects)
	}
}

func TestSendDroppedUntilOpen(t *testing.T) {
	release := make(chan struct{})
	c := New(Options{
		Backoff: testBackoff,
		Dial: func(ctx context.Context) (rawConn, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, errors.New("no service")
		},
	})
	if err := c.Open(context.Background(), "rec", "", always); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if c.Send([]byte{0, 0}) {
			t.Fatal("frame sent while connecting")
		}
	}
	if got := c.Stats().DroppedFrames; got != 5 {
		t.Errorf("dropped = %d, want 5", got)
	}
	close(release)
	c.Stop()
	if c.State() != Closed {
		t.Errorf("state after stop = %v", c.State())
	}
}

func TestLimitCloseCodeStopsWithoutReconnect(t *testing.T) {
	srv := newWSServer(t, func(ctx context.Context, n int, s *wsServer, conn *websocket.Conn) {
		s.read(ctx, n, conn)
		conn.Close(websocket.StatusCode(DefaultLimitCloseCode), "limit")
	})

	c := newTestClient(srv.wsURL())
	if err := c.Open(context.Background(), "rec", "", always); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	ev := waitFor(t, c, "limit", func(ev Event) bool {
		_, ok := ev.(LimitEvent)
		return ok
	}).(LimitEvent)
	if ev.Source != LimitFromCloseCode {
		t.Errorf("source = %q", ev.Source)
	}
	waitFor(t, c, "closed", func(ev Event) bool {
		ce, ok := ev.(ConnectionEvent)
		return ok && ce.State == Closed
	})
	time.Sleep(5 * testBackoff)
	if got := srv.conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1 (no reconnect after limit)", got)
	}
}

func TestLimitReachedMessage(t *testing.T) {
	srv := newWSServer(t, func(ctx context.Context, n int, s *wsServer, conn *websocket.Conn) {
		s.read(ctx, n, conn)
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"limit_reached"}`))
		s.drain(ctx, n, conn)
	})

	c := newTestClient(srv.wsURL())
	if err := c.Open(context.Background(), "rec", "", always); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	ev := waitFor(t, c, "limit", func(ev Event) bool {
		_, ok := ev.(LimitEvent)
		return ok
	}).(LimitEvent)
	if ev.Source != LimitFromMessage {
		t.Errorf("source = %q", ev.Source)
	}
}

func TestTranscriptEventsInOrder(t *testing.T) {
	srv := newWSServer(t, func(ctx context.Context, n int, s *wsServer, conn *websocket.Conn) {
		s.read(ctx, n, conn)
		for _, msg := range []string{
			`{"transcript":"hel","is_final":false,"confidence":0.3}`,
			`{"transcript":"hello world","is_final":true,"confidence":0.92}`,
			`Error: transient`,
			`second line`,
		} {
			conn.Write(ctx, websocket.MessageText, []byte(msg))
		}
		s.drain(ctx, n, conn)
	})

	c := newTestClient(srv.wsURL())
	if err := c.Open(context.Background(), "rec", "", always); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	var got []TranscriptEvent
	for len(got) < 3 {
		ev := waitFor(t, c, "transcript", func(ev Event) bool {
			_, ok := ev.(TranscriptEvent)
			return ok
		})
		got = append(got, ev.(TranscriptEvent))
	}
	if got[0].IsFinal || got[0].Text != "hel" {
		t.Errorf("interim = %+v", got[0])
	}
	if !got[1].IsFinal || got[1].Text != "hello world" || got[1].Confidence != 0.92 {
		t.Errorf("final = %+v", got[1])
	}
	if !got[2].Plain || got[2].Text != "second line" {
		t.Errorf("plain fallback = %+v", got[2])
	}
}

func TestNoReconnectWhenNotRecording(t *testing.T) {
	drop := make(chan struct{})
	srv := newWSServer(t, func(ctx context.Context, n int, s *wsServer, conn *websocket.Conn) {
		s.read(ctx, n, conn)
		<-drop
		conn.Close(websocket.StatusGoingAway, "bye")
	})

	var recording atomic.Bool
	recording.Store(true)
	c := newTestClient(srv.wsURL())
	if err := c.Open(context.Background(), "rec", "", recording.Load); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	waitFor(t, c, "open", isOpen(0))
	recording.Store(false)
	close(drop)

	waitFor(t, c, "closed", func(ev Event) bool {
		ce, ok := ev.(ConnectionEvent)
		return ok && ce.State == Closed
	})
	time.Sleep(5 * testBackoff)
	if got := srv.conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}

func TestUnauthorizedIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}))
	defer srv.Close()

	c := New(Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Token: "bad", Backoff: testBackoff})
	if err := c.Open(context.Background(), "rec", "", always); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	ev := waitFor(t, c, "closed", func(ev Event) bool {
		ce, ok := ev.(ConnectionEvent)
		return ok && ce.State == Closed
	}).(ConnectionEvent)
	if !errors.Is(ev.Err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", ev.Err)
	}
	time.Sleep(5 * testBackoff)
	if hits.Load() != 1 {
		t.Errorf("dial attempts = %d, want 1", hits.Load())
	}
}

func TestStopIdempotentAndBeforeOpen(t *testing.T) {
	c := newTestClient("ws://127.0.0.1:1")
	c.Stop()
	c.Stop()
	if err := c.Open(context.Background(), "", "", always); err == nil {
		t.Error("expected error for empty recording id")
	}

	srv := newWSServer(t, func(ctx context.Context, n int, s *wsServer, conn *websocket.Conn) {
		s.drain(ctx, n, conn)
	})
	c2 := newTestClient(srv.wsURL())
	if err := c2.Open(context.Background(), "rec", "", always); err != nil {
		t.Fatal(err)
	}
	if err := c2.Open(context.Background(), "rec", "", always); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open err = %v", err)
	}
	waitFor(t, c2, "open", isOpen(0))
	c2.Stop()
	c2.Stop()

	stops := 0
	for _, m := range srv.messages(1) {
		if strings.Contains(string(m.data), "stop_recording") {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("stop_recording sent %d times, want 1", stops)
	}
	if c2.Send([]byte{0, 0}) {
		t.Error("Send after Stop returned true")
	}
}
