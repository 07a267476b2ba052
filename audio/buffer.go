package audio

import (
	"sync"
	"time"
)

// Buffer accumulates the raw, ungated session audio for playback and upload.
type Buffer struct {
	mu      sync.Mutex
	samples []int16
}

func (b *Buffer) Append(f Frame) {
	b.mu.Lock()
	b.samples = append(b.samples, f.Samples...)
	b.mu.Unlock()
}

// Samples returns a copy of everything recorded so far.
func (b *Buffer) Samples() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int16, len(b.samples))
	copy(out, b.samples)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.Len()) * time.Second / SampleRate
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	b.samples = nil
	b.mu.Unlock()
}
