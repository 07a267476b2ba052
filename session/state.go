package session

import "errors"

var (
	ErrAuthRequired = errors.New("session: sign-in required")
	ErrInvalidState = errors.New("session: operation not allowed in current state")
	ErrLimitReached = errors.New("session: recording limit reached")
	ErrSaveFailed   = errors.New("session: save failed")
	ErrShareFailed  = errors.New("session: share failed")
	ErrClosed       = errors.New("session: controller closed")
)

type State int32

const (
	Idle State = iota
	Initializing
	AuthFailed
	Ready
	Recording
	Stopping
	Stopped
	Saving
	Saved
	Sharing
	Shared
)

var stateNames = [...]string{
	Idle:         "idle",
	Initializing: "initializing",
	AuthFailed:   "auth_failed",
	Ready:        "ready",
	Recording:    "recording",
	Stopping:     "stopping",
	Stopped:      "stopped",
	Saving:       "saving",
	Saved:        "saved",
	Sharing:      "sharing",
	Shared:       "shared",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// HasRecording reports whether finished session data is held locally.
func (s State) HasRecording() bool {
	switch s {
	case Stopped, Saving, Saved, Sharing, Shared:
		return true
	}
	return false
}

// Reason says why a recording stopped.
type Reason string

const (
	ReasonUser         Reason = "user"
	ReasonLimit        Reason = "limit"
	ReasonMedia        Reason = "media_control"
	ReasonCaptureEnded Reason = "capture_ended"
	ReasonConnection   Reason = "connection"
	ReasonShutdown     Reason = "shutdown"
)
