package session

import (
	"time"

	"livescribe/quota"
	"livescribe/stream"
)

// Event is what the controller reports to the UI shell.
type Event interface {
	isEvent()
}

type StateChanged struct {
	From, To State
	Reason   Reason
}

type Interim struct {
	Text string
}

type SegmentAdded struct {
	Segment TranscriptSegment
	Latency time.Duration
}

type ConnectionChanged struct {
	State   stream.ConnState
	Attempt int
	Err     error
}

// Tick reports elapsed recording seconds; Remaining is quota.Unlimited
// for unlimited plans.
type Tick struct {
	Elapsed   int
	Remaining int
}

// LimitReached is shown as a blocking notice. Upgrade is set for the entry
// tier, with UpgradeURL pointing at the upgrade flow.
type LimitReached struct {
	Tier         quota.Tier
	LimitSeconds int
	Source       string
	Upgrade      bool
	UpgradeURL   string
}

type Failure struct {
	Op  string
	Err error
}

type RecordingSaved struct {
	ID string
}

type RecordingShared struct {
	Link ShareLink
}

func (StateChanged) isEvent()      {}
func (Interim) isEvent()           {}
func (SegmentAdded) isEvent()      {}
func (ConnectionChanged) isEvent() {}
func (Tick) isEvent()              {}
func (LimitReached) isEvent()      {}
func (Failure) isEvent()           {}
func (RecordingSaved) isEvent()    {}
func (RecordingShared) isEvent()   {}
