package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livescribe/api"
	"livescribe/audio"
	"livescribe/beep"
	"livescribe/config"
	"livescribe/doctor"
	"livescribe/encoder"
	"livescribe/keepalive"
	"livescribe/log"
	"livescribe/metrics"
	"livescribe/quota"
	"livescribe/session"
	"livescribe/shutdown"
	"livescribe/stream"
)

var version = "dev"

const finishTimeout = 30 * time.Second

type options struct {
	configPath string
	envFile    string
	device     string
	setup      bool
	logPath    string
	logLevel   string
	title      string
	headless   bool
	wav        string
	duration   time.Duration
	share      bool
	format     string
	metrics    string
	profile    string
	quiet      bool
	doctor     bool
	version    bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "", "YAML config file (defaults are used when empty)")
	flag.StringVar(&o.envFile, "env", ".env", "dotenv file loaded before the environment is read")
	flag.StringVar(&o.device, "device", "", "Use named microphone device")
	flag.BoolVar(&o.setup, "setup", false, "Select microphone device (otherwise uses system default)")
	flag.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.StringVar(&o.logLevel, "loglevel", "", "log level: debug, info, warn or error (overrides config)")
	flag.StringVar(&o.title, "title", "", "Recording title (default: date and time)")
	flag.BoolVar(&o.headless, "headless", false, "Record immediately and print the transcript to stdout")
	flag.StringVar(&o.wav, "wav", "", "Replay a 16kHz mono WAV file instead of the microphone")
	flag.DurationVar(&o.duration, "for", 0, "Headless only: stop after this long (e.g. 90s)")
	flag.BoolVar(&o.share, "share", false, "Headless only: create a share link after saving")
	flag.StringVar(&o.format, "format", "", "Upload format: wav or flac (overrides config)")
	flag.StringVar(&o.metrics, "metrics", "", "Serve Prometheus metrics on this address (overrides config)")
	flag.StringVar(&o.profile, "profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.BoolVar(&o.quiet, "quiet", false, "Disable audible cues")
	flag.BoolVar(&o.doctor, "doctor", false, "Run system diagnostics and exit")
	flag.BoolVar(&o.version, "version", false, "Print version and exit")
	flag.Parse()
	return o
}

func main() {
	o := parseFlags()

	if o.version {
		fmt.Printf("livescribe %s\n", version)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(o.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if o.format != "" {
		cfg.Session.UploadFormat = o.format
	}
	if o.metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = o.metrics
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logPath == "" {
		o.logPath = cfg.Logging.Dir
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(o.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	if err := log.SetLevel(cfg.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if o.profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", o.profile)
			if err := http.ListenAndServe(o.profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if o.quiet {
		beep.Disable()
	}

	backend := newBackend(cfg)

	if o.doctor {
		log.Close()
		os.Exit(doctor.Run(doctor.Options{
			Config:   cfg,
			Backend:  backend,
			Device:   o.device,
			WAV:      o.wav,
			Stream:   streamOptions(cfg, metrics.Discard()),
			Validate: func() error { _, err := config.Load(o.configPath); return err },
		}))
	}

	device, err := resolveDevice(o.device, o.setup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	m := newMetrics(cfg)
	scfg, err := sessionConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	ka, media := keepAliveSet(cfg)
	sopts := streamOptions(cfg, m)

	ctrl := session.New(scfg, session.Deps{
		Backend:   backend,
		NewSource: sourceFactory(device, o.wav),
		NewStream: func() session.Streamer { return stream.New(sopts) },
		KeepAlive: ka,
		Metrics:   m,
	})
	if media != nil {
		media.OnStop(func() {
			if err := ctrl.Stop(session.ReasonMedia); err != nil {
				log.Warnf("media stop: %v", err)
			}
		})
	}

	log.Infof("livescribe %s starting (device=%s, format=%s)", version, deviceName(device), scfg.UploadFormat)

	var code int
	if o.headless {
		code = runHeadless(ctrl, o)
	} else {
		code = runTUI(ctrl, o, device)
	}
	log.Close()
	os.Exit(code)
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func newBackend(cfg *config.Config) *api.Client {
	return api.NewClient(api.Options{
		BaseURL:          cfg.Service.APIURL,
		Tokens:           api.StaticToken(cfg.Service.Token),
		Timeout:          cfg.Service.Timeout,
		ShareURLTemplate: cfg.Share.URLTemplate,
	})
}

func streamOptions(cfg *config.Config, m *metrics.Metrics) stream.Options {
	return stream.Options{
		URL:            cfg.Service.StreamURL,
		Token:          cfg.Service.Token,
		Backoff:        cfg.Stream.ReconnectBackoff,
		DialTimeout:    cfg.Stream.DialTimeout,
		LimitCloseCode: cfg.Stream.LimitCloseCode,
		Metrics:        m,
	}
}

// newMetrics serves a private registry when enabled; otherwise all
// instruments are registered on a throwaway registry.
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Discard()
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.Infof("metrics listening on http://%s/metrics", cfg.Metrics.Address)
		if err := http.ListenAndServe(cfg.Metrics.Address, mux); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	}()
	return m
}

func sessionConfig(cfg *config.Config) (session.Config, error) {
	format, err := encoder.ParseFormat(cfg.Session.UploadFormat)
	if err != nil {
		return session.Config{}, err
	}
	limits := make(map[quota.Tier]int, len(cfg.Limits.Tiers))
	for name, secs := range cfg.Limits.Tiers {
		limits[quota.ParseTier(name)] = secs
	}
	return session.Config{
		Tick:             cfg.Session.Tick,
		TierLimits:       limits,
		SilenceThreshold: cfg.Audio.SilenceThreshold,
		SecondsPerWord:   cfg.Session.SecondsPerWord,
		LatencyWindow:    cfg.Session.LatencyWindow,
		UploadFormat:     format,
		ShareExpiryHours: cfg.Share.ExpiryHours,
		UpgradeURL:       cfg.Limits.UpgradeURL,
	}, nil
}

// keepAliveSet builds the enabled capabilities. The media session is also
// returned so its stop action can be routed to the controller.
func keepAliveSet(cfg *config.Config) (*keepalive.Set, *keepalive.MediaSession) {
	var caps []keepalive.Capability
	var media *keepalive.MediaSession
	k := cfg.KeepAlive
	if k.WakeLock {
		caps = append(caps, keepalive.NewWakeLock("livescribe recording"))
	}
	if k.SilentLoop {
		caps = append(caps, keepalive.NewSilentLoop())
	}
	if k.Notification {
		caps = append(caps, keepalive.NewNotification())
	}
	if k.MediaSession {
		media = keepalive.NewMediaSession()
		caps = append(caps, media)
	}
	return keepalive.NewSet(caps...), media
}

func resolveDevice(name string, setup bool) (*audio.DeviceInfo, error) {
	if setup && name == "" {
		return audio.SelectDevice()
	}
	if name == "" {
		return nil, nil
	}
	devices, err := audio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("device %q not found", name)
}

func deviceName(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "system default"
	}
	return dev.Name
}

func deviceLineText(dev *audio.DeviceInfo, wav string) string {
	if wav != "" {
		return "input: " + filepath.Base(wav)
	}
	suffix := ""
	if dev != nil && audio.IsBluetooth(dev.Name) {
		suffix = " (BT!)"
	}
	return "mic: " + deviceName(dev) + suffix
}

// sourceFactory returns a fresh capture source per recording. A WAV file
// replays in real time, then keeps the stream alive with silence.
func sourceFactory(dev *audio.DeviceInfo, wav string) func() audio.Source {
	if wav == "" {
		return func() audio.Source { return audio.NewSource(dev) }
	}
	interval := time.Duration(audio.FrameSamples) * time.Second / audio.SampleRate
	return func() audio.Source {
		src, err := audio.NewFakeSourceFromWAV(wav, interval)
		if err != nil {
			return &audio.FakeSource{Err: err}
		}
		return src
	}
}

// finish saves a recording that was stopped but not saved, then releases
// the controller.
func finish(ctrl *session.Controller) {
	defer ctrl.Close()
	if ctrl.IsRecording() {
		if err := ctrl.Stop(session.ReasonShutdown); err != nil {
			log.Warnf("stop on exit: %v", err)
		}
	}
	if ctrl.State() != session.Stopped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	if id, err := ctrl.Save(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: recording not saved: %v\n", err)
	} else {
		fmt.Printf("Saved recording %s\n", id)
	}
}

func runTUI(ctrl *session.Controller, o options, dev *audio.DeviceInfo) int {
	p := NewTUIProgram(newTUIModel(ctrl, o.title, deviceLineText(dev, o.wav), version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go forwardEvents(ctx, ctrl.Events(), tuiSink{p: p})

	sigCh := make(chan os.Signal, 1)
	shutdown.Notify(sigCh)
	go func() {
		select {
		case <-sigCh:
			p.Send(tea.Quit())
		case <-ctx.Done():
		}
	}()

	_, err := p.Run()
	cancel()
	finish(ctrl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runHeadless(ctrl *session.Controller, o options) int {
	pr := newPrinter(os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go forwardEvents(ctx, ctrl.Events(), pr)

	opCtx, opCancel := context.WithTimeout(ctx, finishTimeout)
	defer opCancel()
	if err := ctrl.Initialize(opCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: sign-in failed: %v\n", err)
		ctrl.Close()
		return 1
	}
	id, err := ctrl.Start(opCtx, o.title)
	if err != nil {
		if errors.Is(err, session.ErrLimitReached) {
			fmt.Fprintln(os.Stderr, "Error: recording limit reached for this plan")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		ctrl.Close()
		return 1
	}
	fmt.Fprintf(os.Stderr, "Recording %s (Ctrl+C to stop)\n", id)

	sigCh := make(chan os.Signal, 1)
	shutdown.Notify(sigCh)
	var deadline <-chan time.Time
	if o.duration > 0 {
		deadline = time.After(o.duration)
	}
	select {
	case <-sigCh:
		ctrl.Stop(session.ReasonUser)
	case <-deadline:
		ctrl.Stop(session.ReasonUser)
	case <-pr.done:
	}

	if o.share && ctrl.State() == session.Stopped {
		saveCtx, saveCancel := context.WithTimeout(ctx, finishTimeout)
		defer saveCancel()
		if _, err := ctrl.Save(saveCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: save failed: %v\n", err)
			ctrl.Close()
			return 1
		}
		if _, err := ctrl.Share(saveCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: share failed: %v\n", err)
			ctrl.Close()
			return 1
		}
	}
	finish(ctrl)
	return 0
}
