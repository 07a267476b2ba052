package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"livescribe/api"
	"livescribe/audio"
	"livescribe/clipboard"
	"livescribe/config"
	"livescribe/keepalive"
	"livescribe/stream"
)

const (
	captureFor     = 3 * time.Second
	clipboardWait  = 3 * time.Second
	quietMicLevel  = 0.002
	keepAliveLabel = "livescribe doctor"
)

// ErrWarn marks a check that completed with a non-fatal problem.
var ErrWarn = errors.New("warning")

// Authenticator is the part of the service client the sign-in check needs.
type Authenticator interface {
	Authenticate(ctx context.Context) (api.Usage, error)
}

type Options struct {
	Config   *config.Config
	Backend  Authenticator
	Device   string
	WAV      string // replaces the microphone when set
	Stream   stream.Options
	Validate func() error

	// Source overrides device capture; used by tests.
	Source func() audio.Source
	// KeepAlive overrides the capability set built from Config.
	KeepAlive *keepalive.Set
	Out       io.Writer
}

type check struct {
	name string
	run  func(ctx context.Context, o Options, w io.Writer) error
}

var checks = []check{
	{"Configuration", checkConfig},
	{"Sign-in and usage", checkSignIn},
	{"Microphone capture", checkMicrophone},
	{"Transcription stream", checkStream},
	{"Keep-alive capabilities", checkKeepAlive},
	{"Clipboard", checkClipboard},
}

// Run executes all diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(o Options) int {
	resetTerminal()
	setupInterruptHandler()
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if run(context.Background(), o) {
		return 0
	}
	return 1
}

func run(ctx context.Context, o Options) bool {
	w := o.Out
	fmt.Fprintln(w, "livescribe doctor - system diagnostics")
	fmt.Fprintln(w, "======================================")

	allPass := true
	for i, c := range checks {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(checks), c.name)
		err := c.run(ctx, o, w)
		switch {
		case err == nil:
		case errors.Is(err, ErrWarn):
			fmt.Fprintf(w, "  WARN: %v\n", err)
		default:
			fmt.Fprintf(w, "  FAIL: %v\n", err)
			allPass = false
		}
	}

	fmt.Fprintln(w)
	if allPass {
		fmt.Fprintln(w, "All checks passed!")
	} else {
		fmt.Fprintln(w, "Some checks failed. See details above.")
	}
	return allPass
}

func checkConfig(_ context.Context, o Options, w io.Writer) error {
	if o.Validate != nil {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	if o.Config == nil {
		return fmt.Errorf("no configuration loaded")
	}
	fmt.Fprintf(w, "  api: %s\n  stream: %s\n", o.Config.Service.APIURL, o.Config.Service.StreamURL)
	if o.Config.Service.Token == "" {
		return fmt.Errorf("%w: no token set (%s)", ErrWarn, config.EnvToken)
	}
	fmt.Fprintln(w, "  PASS: configuration valid")
	return nil
}

func checkSignIn(ctx context.Context, o Options, w io.Writer) error {
	if o.Backend == nil {
		return fmt.Errorf("no service client")
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	u, err := o.Backend.Authenticate(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return fmt.Errorf("token rejected by the service")
		}
		return err
	}
	q := u.Quota()
	fmt.Fprintf(w, "  PASS: signed in (%s)\n", q)
	if q.Exhausted() {
		return fmt.Errorf("%w: no recording time left on this plan", ErrWarn)
	}
	return nil
}

func (o Options) source() (audio.Source, error) {
	if o.Source != nil {
		return o.Source(), nil
	}
	if o.WAV != "" {
		return audio.NewFakeSourceFromWAV(o.WAV, 0)
	}
	if o.Device == "" {
		return audio.NewSource(nil), nil
	}
	devices, err := audio.Devices()
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Name == o.Device {
			return audio.NewSource(&devices[i]), nil
		}
	}
	return nil, fmt.Errorf("device %q not found", o.Device)
}

func checkMicrophone(ctx context.Context, o Options, w io.Writer) error {
	src, err := o.source()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, captureFor)
	defer cancel()
	frames, err := src.Start(ctx)
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return fmt.Errorf("microphone access denied: %w", err)
		}
		return err
	}
	defer src.Stop()

	fmt.Fprintf(w, "  Speak for %s...\n", captureFor)
	var n int
	var peak float64
	var captured time.Duration
loop:
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				break loop
			}
			n++
			peak = max(peak, f.RMS())
			captured += f.Duration()
		case <-ctx.Done():
			break loop
		}
	}
	if n == 0 {
		return fmt.Errorf("no audio captured")
	}
	fmt.Fprintf(w, "  captured %d frames (%.1fs), peak level %.4f\n", n, captured.Seconds(), peak)
	if peak < quietMicLevel {
		return fmt.Errorf("%w: input is nearly silent; check the selected device", ErrWarn)
	}
	fmt.Fprintln(w, "  PASS: microphone delivers audio")
	return nil
}

func checkStream(ctx context.Context, o Options, w io.Writer) error {
	c := stream.New(o.Stream)
	defer c.Stop()
	if err := c.Open(ctx, uuid.NewString(), "doctor", func() bool { return false }); err != nil {
		return err
	}
	timeout := o.Stream.DialTimeout
	if timeout <= 0 {
		timeout = stream.DefaultDialTimeout
	}
	deadline := time.After(timeout + time.Second)
	for {
		select {
		case ev := <-c.Events():
			cc, ok := ev.(stream.ConnectionEvent)
			if !ok {
				continue
			}
			switch cc.State {
			case stream.Open:
				fmt.Fprintf(w, "  PASS: connected in %dms\n", c.Stats().ConnectDur.Milliseconds())
				return nil
			case stream.Closed:
				if cc.Err != nil {
					return fmt.Errorf("connection closed: %w", cc.Err)
				}
				return fmt.Errorf("connection closed (code %d)", cc.Code)
			}
		case <-deadline:
			return fmt.Errorf("timed out connecting after %s", timeout)
		}
	}
}

func checkKeepAlive(ctx context.Context, o Options, w io.Writer) error {
	set := o.KeepAlive
	if set == nil {
		set = keepalive.NewSet(
			keepalive.NewWakeLock(keepAliveLabel),
			keepalive.NewSilentLoop(),
			keepalive.NewNotification(),
			keepalive.NewMediaSession(),
		)
	}
	var failed []string
	set.OnFailure(func(name string, err error) {
		fmt.Fprintf(w, "  %s: unavailable (%v)\n", name, err)
		failed = append(failed, name)
	})
	held := set.Engage(ctx)
	for _, name := range set.Held() {
		fmt.Fprintf(w, "  %s: ok\n", name)
	}
	unavailable := len(failed)
	set.Disengage()
	if held == 0 {
		return fmt.Errorf("%w: no keep-alive capability available; recording may pause when idle", ErrWarn)
	}
	if unavailable > 0 {
		return fmt.Errorf("%w: %d of %d capabilities unavailable", ErrWarn, unavailable, unavailable+held)
	}
	fmt.Fprintln(w, "  PASS: all capabilities held")
	return nil
}

func checkClipboard(_ context.Context, _ Options, w io.Writer) error {
	if !clipboard.Available() {
		return fmt.Errorf("%w: %v; share links will only be shown", ErrWarn, clipboard.ErrUnavailable)
	}
	testStr := fmt.Sprintf("livescribe-doctor-%d", time.Now().UnixNano())

	type cbResult struct {
		readback string
		err      error
		phase    string
	}
	ch := make(chan cbResult, 1)
	go func() {
		prev, _ := clipboard.Read()
		defer clipboard.Copy(prev)
		if err := clipboard.Copy(testStr); err != nil {
			ch <- cbResult{err: err, phase: "write"}
			return
		}
		got, err := clipboard.Read()
		if err != nil {
			ch <- cbResult{err: err, phase: "read"}
			return
		}
		ch <- cbResult{readback: got}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("clipboard %s failed: %w", res.phase, res.err)
		}
		if res.readback != testStr {
			return fmt.Errorf("clipboard mismatch: wrote %q, got %q", testStr, res.readback)
		}
		fmt.Fprintln(w, "  PASS: clipboard write/read verified")
		return nil
	case <-time.After(clipboardWait):
		return fmt.Errorf("clipboard timed out (clipboard tool hung?)")
	}
}
