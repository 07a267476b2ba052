package session

import (
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"livescribe/audio"
)

const (
	vadMode       = 3
	vadFrameMs    = 20
	vadFrameBytes = audio.SampleRate * vadFrameMs / 1000 * 2 // 640 bytes
	vadDebounce   = 3                                        // consecutive speech frames to confirm voice
	speechRatio   = 0.10                                     // share of frames that counts as speaking
)

// voiceDetector classifies captured PCM in 20ms windows. Frames from the
// capture pump rarely align with the window, so leftovers are carried over.
type voiceDetector struct {
	vad *webrtcvad.VAD

	mu           sync.Mutex
	buf          []byte
	voice        bool
	speechRun    int
	totalFrames  int
	speechFrames int
	pollTotal    int
	pollSpeech   int
	pollResult   bool
}

func newVoiceDetector() (*voiceDetector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return &voiceDetector{vad: v}, nil
}

func (d *voiceDetector) Process(pcm []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, pcm...)
	for len(d.buf) >= vadFrameBytes {
		frame := d.buf[:vadFrameBytes]
		active, err := d.vad.Process(audio.SampleRate, frame)
		d.buf = d.buf[vadFrameBytes:]
		if err != nil {
			continue
		}
		d.totalFrames++
		if !active {
			d.speechRun = 0
			continue
		}
		d.speechFrames++
		d.speechRun++
		if d.speechRun >= vadDebounce {
			d.voice = true
		}
	}
}

// VoiceDetected reports whether sustained speech was seen at any point.
func (d *voiceDetector) VoiceDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voice
}

// SpeechSincePoll reports whether enough of the audio classified since the
// previous call was speech. With nothing new classified the previous
// answer stands.
func (d *voiceDetector) SpeechSincePoll() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.totalFrames - d.pollTotal
	s := d.speechFrames - d.pollSpeech
	if t == 0 {
		return d.pollResult
	}
	d.pollTotal, d.pollSpeech = d.totalFrames, d.speechFrames
	d.pollResult = float64(s)/float64(t) >= speechRatio
	return d.pollResult
}

func (d *voiceDetector) Stats() (total, speech int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalFrames, d.speechFrames
}
