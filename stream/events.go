package stream

import "time"

// ConnState is the lifecycle of the transcription connection. Only the
// Client changes it; everything else observes it through ConnectionEvent.
type ConnState int32

const (
	Idle ConnState = iota
	Connecting
	Open
	Reconnecting
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Event is the closed set of things the client reports upward:
// TranscriptEvent, ConnectionEvent and LimitEvent.
type Event interface {
	isEvent()
}

type TranscriptEvent struct {
	Text       string
	IsFinal    bool
	Confidence float64
	At         time.Time
	// Plain is set when the payload was not JSON and was taken verbatim.
	Plain bool
}

type ConnectionEvent struct {
	State   ConnState
	Attempt int // reconnect attempt, 0 for the first connection
	Code    int // close code that ended the previous connection, -1 if none
	Err     error
}

type LimitSource string

const (
	LimitFromMessage   LimitSource = "message"
	LimitFromCloseCode LimitSource = "close_code"
)

// LimitEvent asks the owner to force-stop the session.
type LimitEvent struct {
	Source LimitSource
}

func (TranscriptEvent) isEvent() {}
func (ConnectionEvent) isEvent() {}
func (LimitEvent) isEvent()      {}
