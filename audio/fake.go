package audio

import (
	"context"
	"os"
	"sync"
	"time"
)

// FakeSource replays scripted frames. After the script it keeps emitting
// silent frames when Silence is set, otherwise it idles until stopped.
type FakeSource struct {
	Frames   []Frame
	Interval time.Duration // 0 emits as fast as the consumer reads
	Silence  bool
	Err      error // returned by Start

	mu        sync.Mutex
	fr        *framer
	stopCh    chan struct{}
	feedDone  chan struct{}
	audioDone chan struct{}
	started   bool
	stopped   bool
	stopCalls int
}

func NewFakeSource(frames []Frame, interval time.Duration) *FakeSource {
	return &FakeSource{Frames: frames, Interval: interval}
}

// NewFakeSourceFromWAV splits a 16kHz mono PCM16 WAV file into frames.
func NewFakeSourceFromWAV(path string, interval time.Duration) (*FakeSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	all := FrameFromBytes(data).Samples
	var frames []Frame
	for i := 0; i < len(all); i += FrameSamples {
		end := min(i+FrameSamples, len(all))
		frames = append(frames, Frame{Samples: all[i:end]})
	}
	return &FakeSource{Frames: frames, Interval: interval, Silence: true}, nil
}

// FakeFrame returns a full frame whose samples alternate in sign at the
// given normalized amplitude, so MeanAbs ≈ amplitude.
func FakeFrame(amplitude float64) Frame {
	v := int16(amplitude * 32768)
	samples := make([]int16, FrameSamples)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = v
		} else {
			samples[i] = -v
		}
	}
	return Frame{Samples: samples}
}

func (f *FakeSource) Start(ctx context.Context) (<-chan Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.started || f.stopped {
		return nil, ErrAlreadyStarted
	}
	f.started = true
	f.fr = newFramer(len(f.Frames) + frameQueueDepth)
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	if f.audioDone == nil {
		f.audioDone = make(chan struct{})
	}

	go f.feed(ctx, f.fr, f.stopCh)
	return f.fr.frames, nil
}

func (f *FakeSource) feed(ctx context.Context, fr *framer, stop <-chan struct{}) {
	defer close(f.feedDone)
	defer func() {
		if ctx.Err() != nil {
			go f.Stop()
		}
	}()
	wait := func() bool {
		if f.Interval <= 0 {
			select {
			case <-stop:
				return false
			case <-ctx.Done():
				return false
			default:
				return true
			}
		}
		select {
		case <-stop:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(f.Interval):
			return true
		}
	}

	for _, frame := range f.Frames {
		if !wait() {
			return
		}
		fr.mu.Lock()
		if !fr.closed {
			fr.emitLocked(frame)
		}
		fr.mu.Unlock()
	}
	close(f.AudioDone())

	if !f.Silence {
		select {
		case <-stop:
		case <-ctx.Done():
		}
		return
	}
	interval := max(f.Interval, time.Millisecond)
	silence := make([]int16, FrameSamples)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		fr.writeSamples(silence)
	}
}

// AudioDone is closed once every scripted frame has been delivered.
func (f *FakeSource) AudioDone() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.audioDone == nil {
		f.audioDone = make(chan struct{})
	}
	return f.audioDone
}

func (f *FakeSource) Stop() {
	f.mu.Lock()
	f.stopCalls++
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	started := f.started
	f.mu.Unlock()
	if !started {
		return
	}
	close(f.stopCh)
	<-f.feedDone
	f.fr.close()
}

func (f *FakeSource) Level() float64 {
	f.mu.Lock()
	fr := f.fr
	f.mu.Unlock()
	if fr == nil {
		return 0
	}
	return fr.Level()
}

// StopCalls reports how many times Stop was invoked.
func (f *FakeSource) StopCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}
