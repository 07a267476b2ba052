package session

import (
	"context"
	"sync/atomic"
	"time"

	"livescribe/api"
	"livescribe/audio"
	"livescribe/encoder"
	"livescribe/keepalive"
	"livescribe/metrics"
	"livescribe/quota"
	"livescribe/stream"
)

// Backend is the remote recording service. *api.Client satisfies it.
type Backend interface {
	Authenticate(ctx context.Context) (api.Usage, error)
	Init(ctx context.Context, id, title string) (string, error)
	Save(ctx context.Context, r api.SaveRequest) (string, error)
	Share(ctx context.Context, id string, expiryHours int) (string, error)
	ShareURL(token string) string
}

// Streamer is one recording's transcription connection. *stream.Client
// satisfies it.
type Streamer interface {
	Open(ctx context.Context, recordingID, title string, isRecording func() bool) error
	Send(pcm []byte) bool
	Stop()
	Events() <-chan stream.Event
	Stats() stream.Stats
}

type Config struct {
	Tick             time.Duration
	TierLimits       map[quota.Tier]int
	SilenceThreshold float64
	SecondsPerWord   float64
	LatencyWindow    int
	UploadFormat     encoder.Format
	ShareExpiryHours int
	UpgradeURL       string
}

func DefaultConfig() Config {
	return Config{
		Tick:             time.Second,
		TierLimits:       quota.DefaultLimits,
		SilenceThreshold: audio.DefaultSilenceThreshold,
		SecondsPerWord:   DefaultSecondsPerWord,
		LatencyWindow:    20,
		UploadFormat:     encoder.FormatWAV,
		ShareExpiryHours: api.DefaultShareExpiryHours,
	}
}

// Deps are the collaborators a Controller drives. NewSource and NewStream
// are called once per recording; sources and stream clients are single-use.
type Deps struct {
	Backend   Backend
	NewSource func() audio.Source
	NewStream func() Streamer
	KeepAlive *keepalive.Set
	Metrics   *metrics.Metrics
	// NewTicker returns the elapsed-time tick channel and its stop func.
	NewTicker func(d time.Duration) (<-chan time.Time, func())
	Now       func() time.Time
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// ShareLink is created at most once per recording.
type ShareLink struct {
	Token string
	URL   string
}

// Snapshot is a consistent copy of controller state for rendering.
type Snapshot struct {
	State       State
	ID          string
	Title       string
	StartedAt   time.Time
	Elapsed     int
	Quota       quota.Quota
	Segments    []TranscriptSegment
	Interim     string
	Connection  stream.ConnState
	LastLatency time.Duration
	AvgLatency  time.Duration
	AudioLength time.Duration
	SavedID     string
	Share       *ShareLink
	LastError   string
}

// recording is everything that belongs to one recording attempt.
type recording struct {
	id         string
	title      string
	startedAt  time.Time
	ticks      int
	elapsed    int
	source     audio.Source
	stream     Streamer
	buffer     *audio.Buffer
	transcript *Transcript
	latency    *LatencyTracker
	enforcer   *quota.Enforcer
	voice      *voiceDetector
	pumpDone   chan struct{}
	sendQ      chan []byte
	sendDone   chan struct{}
	stopTicker func()
	duration   time.Duration
	savedID    string
	share      *ShareLink
	inited     bool
	sharing    bool
	gated      atomic.Int64
	queueDrops atomic.Int64
}
