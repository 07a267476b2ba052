//go:build linux

package keepalive

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	logindDest = "org.freedesktop.login1"
	logindPath = dbus.ObjectPath("/org/freedesktop/login1")
)

// WakeLock holds a logind "sleep:idle" inhibitor while recording. The
// inhibitor lives as long as the returned file descriptor stays open.
type WakeLock struct {
	Why string

	mu   sync.Mutex
	conn *dbus.Conn
	fd   *os.File
}

func NewWakeLock(why string) *WakeLock { return &WakeLock{Why: why} }

func (w *WakeLock) Name() string { return "wake_lock" }

func (w *WakeLock) Acquire(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fd != nil {
		return nil
	}

	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("system bus: %w", err)
	}
	var fd dbus.UnixFD
	obj := conn.Object(logindDest, logindPath)
	call := obj.CallWithContext(ctx, logindDest+".Manager.Inhibit", 0,
		"sleep:idle", "livescribe", w.Why, "block")
	if err := call.Store(&fd); err != nil {
		conn.Close()
		return fmt.Errorf("inhibit: %w", err)
	}
	w.conn = conn
	w.fd = os.NewFile(uintptr(fd), "logind-inhibit")
	return nil
}

func (w *WakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fd == nil {
		return nil
	}
	err := w.fd.Close()
	w.fd = nil
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	return err
}
