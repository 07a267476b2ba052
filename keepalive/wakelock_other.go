//go:build !linux && !darwin

package keepalive

import "context"

type WakeLock struct {
	Why string
}

func NewWakeLock(why string) *WakeLock { return &WakeLock{Why: why} }

func (w *WakeLock) Name() string { return "wake_lock" }

func (w *WakeLock) Acquire(context.Context) error { return ErrUnsupported }

func (w *WakeLock) Release() error { return nil }
