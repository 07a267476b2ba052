// Package keepalive holds the best-effort measures that keep capture
// running while the app is in the background: a sleep inhibitor, a silent
// playback loop, a recording notification and a media-session entry with
// a stop action. Each is acquired and released independently; a failure is
// logged and never stops a recording.
package keepalive

import (
	"context"
	"errors"
	"sync"

	"livescribe/log"
)

const silentLoopRate = 8000

// ErrUnsupported is returned by Acquire on platforms without the facility.
var ErrUnsupported = errors.New("keepalive: not supported on this platform")

type Capability interface {
	Name() string
	Acquire(ctx context.Context) error
	Release() error
}

// Set engages its capabilities for the duration of a recording.
type Set struct {
	caps      []Capability
	onFailure func(name string, err error)

	mu      sync.Mutex
	held    []Capability
	engaged bool
}

func NewSet(caps ...Capability) *Set {
	return &Set{caps: caps}
}

// OnFailure registers a hook called for every acquire or release error,
// e.g. to count it.
func (s *Set) OnFailure(fn func(name string, err error)) {
	s.mu.Lock()
	s.onFailure = fn
	s.mu.Unlock()
}

// Engage acquires every capability, skipping those that fail, and returns
// how many are held. Engaging an engaged set is a no-op.
func (s *Set) Engage(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engaged {
		return len(s.held)
	}
	s.engaged = true
	for _, c := range s.caps {
		if err := c.Acquire(ctx); err != nil {
			s.fail(c.Name(), "acquire", err)
			continue
		}
		s.held = append(s.held, c)
	}
	return len(s.held)
}

// Disengage releases held capabilities in reverse order. Safe to call
// repeatedly and without a prior Engage.
func (s *Set) Disengage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.held) - 1; i >= 0; i-- {
		c := s.held[i]
		if err := c.Release(); err != nil {
			s.fail(c.Name(), "release", err)
		}
	}
	s.held = nil
	s.engaged = false
}

// Held lists the names of currently held capabilities.
func (s *Set) Held() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.held))
	for i, c := range s.held {
		names[i] = c.Name()
	}
	return names
}

func (s *Set) fail(name, op string, err error) {
	if errors.Is(err, ErrUnsupported) {
		log.Debugf("keepalive %s: %s skipped: %v", name, op, err)
	} else {
		log.Warnf("keepalive %s: %s failed: %v", name, op, err)
	}
	if s.onFailure != nil {
		s.onFailure(name, err)
	}
}
