package encoder

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	data, err := EncodeWAV(samples, SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(data) != wavHeaderSize+len(samples)*2 {
		t.Fatalf("size = %d, want %d", len(data), wavHeaderSize+len(samples)*2)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Error("malformed RIFF markers")
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != SampleRate {
		t.Errorf("sample rate = %d, want %d", got, SampleRate)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := int16(binary.LittleEndian.Uint16(data[wavHeaderSize+6:])); got != 32767 {
		t.Errorf("sample 3 = %d, want 32767", got)
	}
}

func TestEncodeWAVRejectsBadRate(t *testing.T) {
	if _, err := EncodeWAV([]int16{1}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestParseFormat(t *testing.T) {
	for _, tt := range []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"wav", FormatWAV, false},
		{"FLAC", FormatFLAC, false},
		{" flac ", FormatFLAC, false},
		{"mp3", "", true},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatMetadata(t *testing.T) {
	if FormatFLAC.ContentType() != "audio/flac" || FormatWAV.ContentType() != "audio/wav" {
		t.Error("unexpected content types")
	}
	if FormatWAV.Ext() != ".wav" {
		t.Errorf("Ext = %q", FormatWAV.Ext())
	}
	if _, err := Encode(Format("ogg"), nil); err == nil {
		t.Error("expected error for unknown format")
	}
}
