package stream

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	typeConfigure     = "configure"
	typeStopRecording = "stop_recording"
	typeLimitReached  = "limit_reached"
	typeError         = "error"
)

type configureMessage struct {
	Type        string `json:"type"`
	RecordingID string `json:"recording_id"`
	Title       string `json:"title,omitempty"`
}

type controlMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type       string   `json:"type"`
	Transcript *string  `json:"transcript"`
	IsFinal    bool     `json:"is_final"`
	Confidence *float64 `json:"confidence"`
	Error      string   `json:"error"`
}

// EncodeConfigure builds the configure control frame. Title is omitted when
// empty, which is how re-configures after a reconnect are sent.
func EncodeConfigure(recordingID, title string) []byte {
	b, _ := json.Marshal(configureMessage{Type: typeConfigure, RecordingID: recordingID, Title: title})
	return b
}

func EncodeStop() []byte {
	b, _ := json.Marshal(controlMessage{Type: typeStopRecording})
	return b
}

// Decode turns one inbound text payload into an event. It returns false for
// payloads that carry nothing for the session: empty text, error reports,
// and unrecognised JSON.
func Decode(data []byte, now time.Time) (Event, bool) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, false
	}

	var msg serverMessage
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		if isErrorMarker(text) {
			return nil, false
		}
		return TranscriptEvent{Text: text, IsFinal: true, Confidence: 1, At: now, Plain: true}, true
	}

	switch {
	case msg.Type == typeLimitReached:
		return LimitEvent{Source: LimitFromMessage}, true
	case msg.Type == typeError || msg.Error != "":
		return nil, false
	case msg.Transcript != nil:
		conf := 1.0
		if msg.Confidence != nil {
			conf = *msg.Confidence
		}
		return TranscriptEvent{
			Text:       strings.TrimSpace(*msg.Transcript),
			IsFinal:    msg.IsFinal,
			Confidence: conf,
			At:         now,
		}, true
	}
	return nil, false
}

// Non-JSON payloads beginning with "error" are server error reports.
func isErrorMarker(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "error") || strings.HasPrefix(lower, "{\"error")
}
