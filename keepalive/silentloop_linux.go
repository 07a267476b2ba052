//go:build linux

package keepalive

import (
	"context"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// SilentLoop keeps a zero-volume playback stream open so the sound server
// does not suspend the audio session while recording.
type SilentLoop struct {
	mu     sync.Mutex
	client *pulse.Client
	stream *pulse.PlaybackStream
}

func NewSilentLoop() *SilentLoop { return &SilentLoop{} }

func (s *SilentLoop) Name() string { return "silent_loop" }

func (s *SilentLoop) Acquire(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}

	c, err := pulse.NewClient(pulse.ClientApplicationName("livescribe"))
	if err != nil {
		return fmt.Errorf("pulse: %w", err)
	}
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		clear(buf)
		return len(buf), nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(silentLoopRate),
		pulse.PlaybackLatency(0.5),
		pulse.PlaybackMediaName("livescribe keep-alive"),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeMuted)}
		}),
	)
	if err != nil {
		c.Close()
		return fmt.Errorf("pulse playback: %w", err)
	}
	stream.Start()
	s.client = c
	s.stream = stream
	return nil
}

func (s *SilentLoop) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	s.stream.Stop()
	s.stream.Close()
	s.client.Close()
	s.stream = nil
	s.client = nil
	return nil
}
