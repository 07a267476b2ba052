//go:build !linux

package audio

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

func Devices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classify("malgo context", err)
	}
	defer func() {
		ctx.Uninit()
		ctx.Free()
	}()

	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

// NewSource returns a miniaudio capture source. A nil device selects the
// system default.
func NewSource(device *DeviceInfo) Source {
	return &malgoSource{device: device}
}

type malgoSource struct {
	device *DeviceInfo

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	dev     *malgo.Device
	fr      *framer
	stop    chan struct{}
	stopped bool
}

func (s *malgoSource) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fr != nil || s.stopped {
		return nil, ErrAlreadyStarted
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classify("malgo context", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = Channels
	deviceConfig.SampleRate = SampleRate

	if s.device != nil {
		idBytes, err := hex.DecodeString(s.device.ID)
		if err != nil {
			freeContext(mctx)
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	fr := newFramer(frameQueueDepth)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			fr.write(data)
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(mctx)
		return nil, classify("malgo device", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return nil, classify("malgo start", err)
	}

	s.ctx = mctx
	s.dev = dev
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

func (s *malgoSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.dev == nil {
		return
	}
	close(s.stop)
	s.dev.Stop()
	s.dev.Uninit()
	freeContext(s.ctx)
	s.fr.close()
}

func (s *malgoSource) Level() float64 {
	s.mu.Lock()
	fr := s.fr
	s.mu.Unlock()
	if fr == nil {
		return 0
	}
	return fr.Level()
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}
