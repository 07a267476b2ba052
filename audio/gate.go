package audio

// DefaultSilenceThreshold is the mean absolute amplitude below which a frame
// is not worth sending.
const DefaultSilenceThreshold = 0.001

// SilenceGate drops near-silent frames from network egress. It does not
// affect the level meter or the recorded audio.
type SilenceGate struct {
	Threshold float64
}

func NewSilenceGate(threshold float64) SilenceGate {
	return SilenceGate{Threshold: threshold}
}

// Allow reports whether f should be forwarded.
func (g SilenceGate) Allow(f Frame) bool {
	if g.Threshold <= 0 {
		return true
	}
	return f.MeanAbs() >= g.Threshold
}
