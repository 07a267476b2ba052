package beep

import (
	"time"

	"github.com/gen2brain/beeep"
)

// fallback rings the system bell when no playback device is usable.
func fallback(c Cue) {
	ms := int(time.Duration(len(c)) * time.Second / sampleRate / time.Millisecond)
	_ = beeep.Beep(beeep.DefaultFreq, max(ms, 50))
}
