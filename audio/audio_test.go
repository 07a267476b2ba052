package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSilenceGate(t *testing.T) {
	g := NewSilenceGate(DefaultSilenceThreshold)
	for _, tt := range []struct {
		name      string
		amplitude float64
		want      bool
	}{
		{"below threshold", 0.0005, false},
		{"above threshold", 0.01, true},
		{"digital silence", 0, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := FakeFrame(tt.amplitude)
			if got := g.Allow(f); got != tt.want {
				t.Errorf("Allow(meanAbs=%.5f) = %v, want %v", f.MeanAbs(), got, tt.want)
			}
		})
	}
}

func TestSilenceGateDisabled(t *testing.T) {
	g := NewSilenceGate(0)
	if !g.Allow(Frame{Samples: make([]int16, FrameSamples)}) {
		t.Error("zero threshold should forward every frame")
	}
}

func TestFrameMeanAbs(t *testing.T) {
	f := Frame{Samples: []int16{100, -100, 300, -300}}
	want := 200.0 / 32768.0
	if got := f.MeanAbs(); math.Abs(got-want) > 1e-9 {
		t.Errorf("MeanAbs = %v, want %v", got, want)
	}
	if got := (Frame{}).MeanAbs(); got != 0 {
		t.Errorf("empty MeanAbs = %v, want 0", got)
	}
}

func TestFrameBytesLittleEndian(t *testing.T) {
	f := Frame{Samples: []int16{1, -2, 0x1234}}
	b := f.Bytes()
	if len(b) != 6 {
		t.Fatalf("len = %d, want 6", len(b))
	}
	if b[0] != 0x01 || b[1] != 0x00 {
		t.Errorf("sample 0 = % x, want 01 00", b[0:2])
	}
	if b[4] != 0x34 || b[5] != 0x12 {
		t.Errorf("sample 2 = % x, want 34 12", b[4:6])
	}
	back := FrameFromBytes(b)
	for i := range f.Samples {
		if back.Samples[i] != f.Samples[i] {
			t.Errorf("sample %d = %d, want %d", i, back.Samples[i], f.Samples[i])
		}
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{Samples: make([]int16, FrameSamples)}
	if got := f.Duration(); got != 256*time.Millisecond {
		t.Errorf("Duration = %v, want 256ms", got)
	}
}

func TestFramerSplitsCallbacks(t *testing.T) {
	fr := newFramer(4)
	chunk := make([]byte, 1000*2)
	for i := 0; i < 10; i++ {
		fr.write(chunk)
	}
	// 10000 samples -> 2 full frames, 1808 samples pending
	if got := len(fr.frames); got != 2 {
		t.Fatalf("frames = %d, want 2", got)
	}
	f := <-fr.frames
	if len(f.Samples) != FrameSamples {
		t.Errorf("frame len = %d, want %d", len(f.Samples), FrameSamples)
	}
}

func TestFramerCloseFlushesPartialFrame(t *testing.T) {
	fr := newFramer(4)
	fr.writeSamples(make([]int16, FrameSamples+100))
	fr.close()

	var got []int
	for f := range fr.frames {
		got = append(got, len(f.Samples))
	}
	if len(got) != 2 || got[0] != FrameSamples || got[1] != 100 {
		t.Errorf("frame sizes = %v, want [%d 100]", got, FrameSamples)
	}
}

func TestFramerNeverBlocks(t *testing.T) {
	fr := newFramer(1)
	samples := make([]int16, FrameSamples)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			fr.writeSamples(samples)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write blocked with a full queue")
	}
	if got := fr.Dropped(); got != 4 {
		t.Errorf("Dropped = %d, want 4", got)
	}
}

func TestFramerLevel(t *testing.T) {
	fr := newFramer(2)
	fr.writeSamples(FakeFrame(0.5).Samples)
	if got := fr.Level(); math.Abs(got-0.5) > 0.01 {
		t.Errorf("Level = %v, want ~0.5", got)
	}
	fr.close()
	fr.close() // idempotent
	if got := fr.Level(); got != 0 {
		t.Errorf("Level after close = %v, want 0", got)
	}
	fr.writeSamples(FakeFrame(0.5).Samples) // dropped silently
}

func TestFakeSourceDeliversAndStops(t *testing.T) {
	src := NewFakeSource([]Frame{FakeFrame(0.1), FakeFrame(0.2), FakeFrame(0.3)}, 0)
	frames, err := src.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-frames:
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not delivered", i)
		}
	}
	<-src.AudioDone()
	src.Stop()
	src.Stop()
	if _, ok := <-frames; ok {
		t.Error("frame channel still open after Stop")
	}
	if _, err := src.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("restart err = %v, want ErrAlreadyStarted", err)
	}
}

func TestFakeSourceStartError(t *testing.T) {
	src := &FakeSource{Err: ErrPermissionDenied}
	if _, err := src.Start(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	src.Stop() // stopping a never-started source is a no-op
}

func TestFakeSourceContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := NewFakeSource(nil, time.Millisecond)
	frames, err := src.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case _, ok := <-frames:
		if ok {
			for range frames {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames not closed after context cancel")
	}
}

func TestFakeSourceFromWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	n := FrameSamples + FrameSamples/2
	data := make([]byte, WAVHeaderSize+n*2)
	copy(data[0:4], "RIFF")
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[WAVHeaderSize+i*2:], uint16(int16(i%1000)))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	src, err := NewFakeSourceFromWAV(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(src.Frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(src.Frames))
	}
	if got := len(src.Frames[1].Samples); got != FrameSamples/2 {
		t.Errorf("tail frame = %d samples, want %d", got, FrameSamples/2)
	}
}

func TestBuffer(t *testing.T) {
	var b Buffer
	b.Append(FakeFrame(0.1))
	b.Append(FakeFrame(0.1))
	if got := b.Len(); got != 2*FrameSamples {
		t.Errorf("Len = %d, want %d", got, 2*FrameSamples)
	}
	if got := b.Duration(); got != 512*time.Millisecond {
		t.Errorf("Duration = %v, want 512ms", got)
	}
	s := b.Samples()
	s[0] = 42
	if b.Samples()[0] == 42 {
		t.Error("Samples must return a copy")
	}
	b.Reset()
	if b.Len() != 0 {
		t.Error("Reset did not clear buffer")
	}
}

func TestClassify(t *testing.T) {
	for _, tt := range []struct {
		msg  string
		want error
	}{
		{"Access denied", ErrPermissionDenied},
		{"operation not permitted", ErrPermissionDenied},
		{"no backend available", ErrDeviceUnsupported},
		{"connection refused", ErrDeviceUnavailable},
	} {
		t.Run(tt.msg, func(t *testing.T) {
			if err := classify("op", errors.New(tt.msg)); !errors.Is(err, tt.want) {
				t.Errorf("classify(%q) = %v, want %v", tt.msg, err, tt.want)
			}
		})
	}
	if classify("op", nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func TestIsBluetooth(t *testing.T) {
	if !IsBluetooth("AirPods Pro") {
		t.Error("AirPods should be bluetooth")
	}
	if IsBluetooth("Built-in Microphone") {
		t.Error("built-in mic is not bluetooth")
	}
}

func TestDecodeKey(t *testing.T) {
	tests := []struct {
		in   []byte
		want pickerKey
	}{
		{[]byte{0x1b, '[', 'A'}, keyUp},
		{[]byte{0x1b, '[', 'B'}, keyDown},
		{[]byte{0x1b, '[', 'C'}, keyNone},
		{[]byte("k"), keyUp},
		{[]byte("j"), keyDown},
		{[]byte{'\r'}, keyConfirm},
		{[]byte{3}, keyCancel},
		{[]byte("q"), keyCancel},
		{[]byte("x"), keyNone},
	}
	for _, tt := range tests {
		if got := decodeKey(tt.in); got != tt.want {
			t.Errorf("decodeKey(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRenderDevicesMarksCursor(t *testing.T) {
	var out bytes.Buffer
	renderDevices(&out, []DeviceInfo{{Name: "Built-in"}, {Name: "AirPods Pro"}}, 1)
	s := out.String()
	if !strings.Contains(s, "▶ AirPods Pro") {
		t.Errorf("cursor not on second device:\n%q", s)
	}
	if !strings.Contains(s, "Lower audio quality") {
		t.Errorf("bluetooth device not tagged:\n%q", s)
	}
}
