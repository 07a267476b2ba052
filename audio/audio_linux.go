//go:build linux

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

// Devices lists PulseAudio capture sources.
func Devices() ([]DeviceInfo, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, classify("pulse", err)
	}
	defer c.Close()

	sources, err := c.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{
			ID:   s.ID(),
			Name: s.Name(),
		})
	}
	return devices, nil
}

// NewSource returns a PulseAudio capture source. A nil device selects the
// server default.
func NewSource(device *DeviceInfo) Source {
	return &pulseSource{device: device}
}

type pulseSource struct {
	device *DeviceInfo

	mu      sync.Mutex
	client  *pulse.Client
	stream  *pulse.RecordStream
	fr      *framer
	stop    chan struct{}
	stopped bool
}

func (s *pulseSource) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fr != nil || s.stopped {
		return nil, ErrAlreadyStarted
	}

	c, err := pulse.NewClient()
	if err != nil {
		return nil, classify("pulse connect", err)
	}

	fr := newFramer(frameQueueDepth)
	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		fr.writeSamples(buf)
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordLatency(0.05),
	}
	if s.device != nil {
		source, err := c.SourceByID(s.device.ID)
		if err != nil || source == nil {
			c.Close()
			return nil, fmt.Errorf("pulse source %q: %w", s.device.Name, ErrDeviceUnavailable)
		}
		opts = append(opts, pulse.RecordSource(source))
	}

	stream, err := c.NewRecord(writer, opts...)
	if err != nil {
		c.Close()
		return nil, classify("pulse record", err)
	}
	stream.Start()

	s.client = c
	s.stream = stream
	s.fr = fr
	s.stop = make(chan struct{})

	go func(stop <-chan struct{}) {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stop:
		}
	}(s.stop)

	return fr.frames, nil
}

func (s *pulseSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.stream == nil {
		return
	}
	close(s.stop)
	s.stream.Stop()
	s.stream.Close()
	s.client.Close()
	s.fr.close()
}

func (s *pulseSource) Level() float64 {
	s.mu.Lock()
	fr := s.fr
	s.mu.Unlock()
	if fr == nil {
		return 0
	}
	return fr.Level()
}
