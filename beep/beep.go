// Package beep plays short audible cues for recording start, stop, limit
// and error. Cues are fire-and-forget; playback failures are ignored.
package beep

import (
	"math"
	"sync/atomic"
)

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

const (
	sampleRate = 44100

	// Start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// Stop: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Limit: two rising ticks
	limitFreq   = 660
	limitVolume = 0.55
	limitDecay  = 35

	// Error: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

// Cue is a precomputed mono PCM16 tone at sampleRate.
type Cue []int16

var (
	startCue = tick(startFreq, 0.05, startVolume, startDecay)
	endCue   = tick(endFreq, 0.08, endVolume, endDecay)
	limitCue = doubleBeep(limitFreq, limitFreq*1.5, 0.09, 0.06, limitVolume, limitDecay)
	errorCue = doubleBeep(errorFreq, errorFreq, 0.08, 0.05, errorVolume, errorDecay)
)

func tick(freq, duration, volume, decay float64) Cue {
	n := int(sampleRate * duration)
	samples := make(Cue, n)
	for i := range samples {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func doubleBeep(first, second, beepDur, gapDur, volume, decay float64) Cue {
	a := tick(first, beepDur, volume, decay)
	b := tick(second, beepDur, volume, decay)
	gap := make(Cue, int(sampleRate*gapDur))
	out := make(Cue, 0, len(a)+len(gap)+len(b))
	out = append(out, a...)
	out = append(out, gap...)
	return append(out, b...)
}

// Bytes packs the cue as little-endian PCM16.
func (c Cue) Bytes() []byte {
	buf := make([]byte, len(c)*2)
	for i, s := range c {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

func PlayStart() { play(startCue) }
func PlayEnd()   { play(endCue) }
func PlayLimit() { play(limitCue) }
func PlayError() { play(errorCue) }

func play(c Cue) {
	if !Enabled() {
		return
	}
	go playCue(c)
}
