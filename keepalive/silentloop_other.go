//go:build !linux

package keepalive

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// SilentLoop keeps a playback device running on silence so the OS does not
// suspend the audio session while recording.
type SilentLoop struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func NewSilentLoop() *SilentLoop { return &SilentLoop{} }

func (s *SilentLoop) Name() string { return "silent_loop" }

func (s *SilentLoop) Acquire(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo context: %w", err)
	}
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = silentLoopRate

	device, err := malgo.InitDevice(mctx.Context, config, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) { clear(out) },
	})
	if err != nil {
		freeContext(mctx)
		return fmt.Errorf("malgo playback: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return fmt.Errorf("malgo start: %w", err)
	}
	s.ctx = mctx
	s.device = device
	return nil
}

func (s *SilentLoop) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	s.device.Uninit()
	freeContext(s.ctx)
	s.device = nil
	s.ctx = nil
	return nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}
