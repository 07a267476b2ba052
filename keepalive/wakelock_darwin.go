//go:build darwin

package keepalive

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// WakeLock runs caffeinate bound to this process while recording.
type WakeLock struct {
	Why string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewWakeLock(why string) *WakeLock { return &WakeLock{Why: why} }

func (w *WakeLock) Name() string { return "wake_lock" }

func (w *WakeLock) Acquire(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd != nil {
		return nil
	}
	cmd := exec.Command("caffeinate", "-i", "-w", strconv.Itoa(os.Getpid()))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("caffeinate: %w", err)
	}
	w.cmd = cmd
	return nil
}

func (w *WakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd == nil {
		return nil
	}
	err := w.cmd.Process.Kill()
	w.cmd.Wait()
	w.cmd = nil
	return err
}
