package encoder

import (
	"fmt"
	"strings"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Format is the container used for the uploaded session audio.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatWAV, FormatFLAC:
		return f, nil
	default:
		return "", fmt.Errorf("unknown audio format %q (use wav or flac)", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatFLAC {
		return "audio/flac"
	}
	return "audio/wav"
}

func (f Format) Ext() string {
	return "." + string(f)
}

// Encode renders PCM16 mono samples at SampleRate into the given format.
func Encode(f Format, samples []int16) ([]byte, error) {
	switch f {
	case FormatWAV:
		return EncodeWAV(samples, SampleRate)
	case FormatFLAC:
		return EncodeFLAC(samples)
	default:
		return nil, fmt.Errorf("unknown audio format %q", f)
	}
}
