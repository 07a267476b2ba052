package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	FrameSamples  = 4096 // 256ms at 16kHz
	WAVHeaderSize = 44

	frameQueueDepth = 8
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no input device available")
	ErrDeviceUnsupported = errors.New("audio capture not supported on this platform")
	ErrAlreadyStarted    = errors.New("capture source already started")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Frame is a block of 16-bit signed mono PCM at SampleRate.
type Frame struct {
	Samples []int16
}

func FrameFromBytes(pcm []byte) Frame {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return Frame{Samples: samples}
}

// Bytes packs the samples as little-endian PCM16, the streaming wire format.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func (f Frame) Duration() time.Duration {
	return time.Duration(len(f.Samples)) * time.Second / SampleRate
}

// MeanAbs returns the mean absolute amplitude normalized to [0,1].
func (f Frame) MeanAbs() float64 {
	if len(f.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f.Samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(f.Samples)) / 32768.0
}

// RMS returns the root-mean-square amplitude normalized to [0,1].
func (f Frame) RMS() float64 {
	if len(f.Samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range f.Samples {
		normalized := float64(s) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Min(1, math.Sqrt(sumSquares/float64(len(f.Samples))))
}

// Source is a platform microphone. Start acquires the device and returns a
// frame sequence that ends when Stop is called or ctx is done. A Source
// cannot be restarted; Stop is idempotent.
type Source interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop()
}

// Leveler is implemented by sources that track a live amplitude level.
type Leveler interface {
	Level() float64
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "denied"), strings.Contains(msg, "permission"), strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%s: %w: %v", op, ErrPermissionDenied, err)
	case strings.Contains(msg, "no backend"), strings.Contains(msg, "not implemented"):
		return fmt.Errorf("%s: %w: %v", op, ErrDeviceUnsupported, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrDeviceUnavailable, err)
	}
}
