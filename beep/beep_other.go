//go:build !linux

package beep

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	initOnce sync.Once
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	// Playback state, read from the device callback.
	current atomic.Pointer[[]byte]
	pos     atomic.Uint32
	playMu  sync.Mutex
)

func initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	var err error
	device, err = malgo.InitDevice(malgoCtx.Context, config, malgo.DeviceCallbacks{Data: dataCallback})
	return err
}

func initSound() {
	var err error
	malgoCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return
	}
	if err := initDevice(); err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		malgoCtx = nil
	}
}

func dataCallback(out, _ []byte, frameCount uint32) {
	want := frameCount * 2
	written := uint32(0)
	if samples := current.Load(); samples != nil {
		p := pos.Load()
		remaining := uint32(len(*samples)) - p
		written = min(want, remaining)
		copy(out[:written], (*samples)[p:p+written])
		pos.Store(p + written)
		if remaining == written {
			current.Store(nil)
		}
	}
	clear(out[written:want])
}

func playCue(c Cue) {
	initOnce.Do(initSound)
	if malgoCtx == nil || len(c) == 0 {
		fallback(c)
		return
	}
	samples := c.Bytes()

	playMu.Lock()
	defer playMu.Unlock()

	_ = device.Stop()
	pos.Store(0)
	current.Store(&samples)

	if err := device.Start(); err != nil {
		// Recreate after sleep/wake.
		device.Uninit()
		if err := initDevice(); err != nil {
			current.Store(nil)
			fallback(c)
			return
		}
		if err := device.Start(); err != nil {
			current.Store(nil)
			fallback(c)
		}
	}
}
