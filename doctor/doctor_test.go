package doctor

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"livescribe/api"
	"livescribe/audio"
	"livescribe/config"
	"livescribe/keepalive"
	"livescribe/stream"
)

func TestCheckConfigWarnsWithoutToken(t *testing.T) {
	var out bytes.Buffer
	err := checkConfig(context.Background(), Options{Config: config.Default()}, &out)
	if !errors.Is(err, ErrWarn) {
		t.Fatalf("err = %v, want warning", err)
	}

	cfg := config.Default()
	cfg.Service.Token = "tok"
	if err := checkConfig(context.Background(), Options{Config: cfg}, &out); err != nil {
		t.Fatalf("err = %v", err)
	}

	bad := errors.New("bad yaml")
	err = checkConfig(context.Background(), Options{Config: cfg, Validate: func() error { return bad }}, &out)
	if !errors.Is(err, bad) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCheckSignIn(t *testing.T) {
	fake := api.NewFakeServer("tok")
	defer fake.Close()
	fake.SetUsage(api.Usage{Tier: "pro", LimitSeconds: 100, RemainingSeconds: 40, UsedSeconds: 60})

	var out bytes.Buffer
	if err := checkSignIn(context.Background(), Options{Backend: fake.Client("")}, &out); err != nil {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out.String(), "pro") {
		t.Errorf("output %q does not name the tier", out.String())
	}

	fake.SetUsage(api.Usage{Tier: "free", LimitSeconds: 600, UsedSeconds: 600})
	if err := checkSignIn(context.Background(), Options{Backend: fake.Client("")}, &out); !errors.Is(err, ErrWarn) {
		t.Errorf("exhausted quota: err = %v, want warning", err)
	}

	wrong := api.NewClient(api.Options{BaseURL: fake.URL, Tokens: api.StaticToken("nope")})
	err := checkSignIn(context.Background(), Options{Backend: wrong}, &out)
	if err == nil || errors.Is(err, ErrWarn) {
		t.Errorf("wrong token: err = %v, want failure", err)
	}
}

func TestCheckMicrophone(t *testing.T) {
	var out bytes.Buffer
	denied := Options{Source: func() audio.Source { return &audio.FakeSource{Err: audio.ErrPermissionDenied} }}
	if err := checkMicrophone(context.Background(), denied, &out); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denied", err)
	}

	frames := []audio.Frame{audio.FakeFrame(0.2), audio.FakeFrame(0.2)}
	ok := Options{Source: func() audio.Source { return audio.NewFakeSource(frames, 0) }}
	out.Reset()
	if err := checkMicrophone(context.Background(), ok, &out); err != nil {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out.String(), "captured 2 frames") {
		t.Errorf("output = %q", out.String())
	}
}

func TestCheckStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	opts := Options{Stream: stream.Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), DialTimeout: time.Second}}
	if err := checkStream(context.Background(), opts, &out); err != nil {
		t.Fatalf("err = %v", err)
	}

	srv.Close()
	if err := checkStream(context.Background(), opts, &out); err == nil {
		t.Fatal("expected failure after server shutdown")
	}
}

type stubCap struct {
	name string
	err  error
}

func (s stubCap) Name() string                  { return s.name }
func (s stubCap) Acquire(context.Context) error { return s.err }
func (s stubCap) Release() error                { return nil }

func TestCheckKeepAlive(t *testing.T) {
	var out bytes.Buffer
	all := keepalive.NewSet(stubCap{name: "a"}, stubCap{name: "b"})
	if err := checkKeepAlive(context.Background(), Options{KeepAlive: all}, &out); err != nil {
		t.Fatalf("err = %v", err)
	}

	some := keepalive.NewSet(stubCap{name: "a"}, stubCap{name: "b", err: keepalive.ErrUnsupported})
	err := checkKeepAlive(context.Background(), Options{KeepAlive: some}, &out)
	if !errors.Is(err, ErrWarn) || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("err = %v, want 1 of 2 warning", err)
	}
	if !strings.Contains(out.String(), "b: unavailable") {
		t.Errorf("output = %q", out.String())
	}
}
