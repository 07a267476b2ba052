package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
)

// framer turns arbitrarily sized device callbacks into fixed-size frames.
// write runs on the platform audio thread and never blocks: when the
// consumer falls behind, frames are dropped.
type framer struct {
	mu     sync.Mutex
	buf    []int16
	frames chan Frame
	closed bool

	level   atomic.Uint64 // math.Float64bits
	dropped atomic.Uint64
}

func newFramer(depth int) *framer {
	return &framer{
		buf:    make([]int16, 0, FrameSamples*2),
		frames: make(chan Frame, depth),
	}
}

func (f *framer) write(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		f.buf = append(f.buf, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	f.flushLocked()
}

func (f *framer) writeSamples(samples []int16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.buf = append(f.buf, samples...)
	f.flushLocked()
}

func (f *framer) flushLocked() {
	for len(f.buf) >= FrameSamples {
		samples := make([]int16, FrameSamples)
		copy(samples, f.buf[:FrameSamples])
		f.buf = append(f.buf[:0], f.buf[FrameSamples:]...)
		f.emitLocked(Frame{Samples: samples})
	}
}

func (f *framer) emitLocked(fr Frame) {
	f.level.Store(math.Float64bits(fr.RMS()))
	select {
	case f.frames <- fr:
	default:
		f.dropped.Add(1)
	}
}

// close emits any trailing partial frame and ends the stream.
func (f *framer) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if len(f.buf) > 0 {
		f.emitLocked(Frame{Samples: append([]int16(nil), f.buf...)})
	}
	f.buf = nil
	f.level.Store(0)
	close(f.frames)
}

func (f *framer) Level() float64 {
	return math.Float64frombits(f.level.Load())
}

func (f *framer) Dropped() uint64 {
	return f.dropped.Load()
}
