package keepalive

import (
	"context"
	"sync"

	"github.com/gen2brain/beeep"
)

const appName = "livescribe"

// Notification posts a desktop notification when recording starts and
// another when it ends.
type Notification struct {
	mu     sync.Mutex
	meta   Metadata
	active bool
	notify func(title, message string) error
}

func NewNotification() *Notification {
	beeep.AppName = appName
	return &Notification{
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

func (n *Notification) Name() string { return "notification" }

func (n *Notification) SetMetadata(md Metadata) {
	n.mu.Lock()
	n.meta = md
	n.mu.Unlock()
}

func (n *Notification) Acquire(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	msg := "Recording in progress"
	if n.meta.Title != "" {
		msg += ": " + n.meta.Title
	}
	if err := n.notify(appName, msg); err != nil {
		return err
	}
	n.active = true
	return nil
}

func (n *Notification) Release() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.active {
		return nil
	}
	n.active = false
	return n.notify(appName, "Recording stopped")
}
