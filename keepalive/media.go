package keepalive

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// Metadata describes the current recording to notification and media
// surfaces.
type Metadata struct {
	RecordingID string
	Title       string
	Started     time.Time
}

// Describer is implemented by capabilities that show recording metadata.
type Describer interface {
	SetMetadata(Metadata)
}

// SetMetadata forwards md to every capability that displays it. Call it
// before Engage.
func (s *Set) SetMetadata(md Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.caps {
		if d, ok := c.(Describer); ok {
			d.SetMetadata(md)
		}
	}
}

// MediaSession publishes the recording as a media player entry whose
// stop (and pause) action ends the recording.
type MediaSession struct {
	mu     sync.Mutex
	meta   Metadata
	onStop func()
	pub    *mediaPublisher
}

func NewMediaSession() *MediaSession { return &MediaSession{} }

// OnStop sets the action run when the user presses stop on the media
// surface. It runs on its own goroutine.
func (m *MediaSession) OnStop(fn func()) {
	m.mu.Lock()
	m.onStop = fn
	m.mu.Unlock()
}

func (m *MediaSession) SetMetadata(md Metadata) {
	m.mu.Lock()
	m.meta = md
	m.mu.Unlock()
}

func (m *MediaSession) Name() string { return "media_session" }

func (m *MediaSession) Acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pub != nil {
		return nil
	}
	pub, err := publishMedia(ctx, m.meta, mediaActions{session: m})
	if err != nil {
		return err
	}
	m.pub = pub
	return nil
}

func (m *MediaSession) Release() error {
	m.mu.Lock()
	pub := m.pub
	m.pub = nil
	m.mu.Unlock()
	if pub == nil {
		return nil
	}
	return pub.close()
}

func (m *MediaSession) requestStop() {
	m.mu.Lock()
	fn := m.onStop
	m.mu.Unlock()
	if fn != nil {
		go fn()
	}
}

// mediaActions is exported on the bus as org.mpris.MediaPlayer2.Player.
// Only stop-like actions do anything; a recording cannot be resumed.
type mediaActions struct {
	session *MediaSession
}

func (a mediaActions) Stop() *dbus.Error {
	a.session.requestStop()
	return nil
}

func (a mediaActions) Pause() *dbus.Error {
	a.session.requestStop()
	return nil
}

func (a mediaActions) PlayPause() *dbus.Error {
	a.session.requestStop()
	return nil
}

func (a mediaActions) Play() *dbus.Error { return nil }
