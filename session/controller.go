// Package session drives one recording at a time: authentication, capture,
// live transcription, limit enforcement, keep-alive, save and share.
//
// All state lives in a single loop goroutine. Public methods hand work to
// the loop and, for network round trips, wait in the caller's goroutine
// so the loop never blocks on the service.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"livescribe/api"
	"livescribe/audio"
	"livescribe/encoder"
	"livescribe/keepalive"
	"livescribe/log"
	"livescribe/metrics"
	"livescribe/quota"
	"livescribe/stream"
)

const (
	eventBuffer      = 256
	sendQueue        = 32 // frames, about 8s of audio
	speechLevel      = 0.02
	pumpDrainTimeout = 2 * time.Second
	sendDrainTimeout = time.Second
	releaseTimeout   = 10 * time.Second
	keepAliveTimeout = 5 * time.Second
)

type Controller struct {
	cfg       Config
	backend   Backend
	newSource func() audio.Source
	newStream func() Streamer
	ka        *keepalive.Set
	m         *metrics.Metrics
	newTicker func(time.Duration) (<-chan time.Time, func())
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	inbox     chan func()
	events    chan Event
	loopDone  chan struct{}
	kaOps     chan func()
	kaDone    chan struct{}
	closeOnce sync.Once
	releases  sync.WaitGroup

	state    atomic.Int32
	level    atomic.Uint64
	lastSend atomic.Int64
	voice    atomic.Pointer[voiceDetector]

	// Owned by the loop goroutine.
	cur      State
	quota    quota.Quota
	rec      *recording
	streamEv <-chan stream.Event
	tickC    <-chan time.Time
	conn     stream.ConnState
	starting bool
	lastErr  string
	quit     bool
}

func New(cfg Config, deps Deps) *Controller {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.TierLimits == nil {
		cfg.TierLimits = def.TierLimits
	}
	if cfg.SecondsPerWord <= 0 {
		cfg.SecondsPerWord = def.SecondsPerWord
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = def.LatencyWindow
	}
	if cfg.UploadFormat == "" {
		cfg.UploadFormat = def.UploadFormat
	}
	if cfg.ShareExpiryHours <= 0 {
		cfg.ShareExpiryHours = def.ShareExpiryHours
	}

	c := &Controller{
		cfg:       cfg,
		backend:   deps.Backend,
		newSource: deps.NewSource,
		newStream: deps.NewStream,
		ka:        deps.KeepAlive,
		m:         deps.Metrics,
		newTicker: deps.NewTicker,
		now:       deps.Now,
		inbox:     make(chan func()),
		events:    make(chan Event, eventBuffer),
		loopDone:  make(chan struct{}),
		kaOps:     make(chan func(), 16),
		kaDone:    make(chan struct{}),
		quota:     quota.ForTier(quota.Lowest, cfg.TierLimits),
	}
	if c.ka == nil {
		c.ka = keepalive.NewSet()
	}
	if c.m == nil {
		c.m = metrics.Discard()
	}
	if c.newTicker == nil {
		c.newTicker = realTicker
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.ka.OnFailure(func(name string, _ error) {
		c.m.KeepAliveErrors.WithLabelValues(name).Inc()
	})
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.loop()
	go c.keepAliveWorker()
	return c
}

// Events delivers UI events. Events are dropped, not queued, when the
// reader falls behind by more than a small buffer.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) IsRecording() bool { return c.State() == Recording }

// Level is the RMS of the most recent captured frame, 0 when not recording.
func (c *Controller) Level() float64 {
	return math.Float64frombits(c.level.Load())
}

// HasSpeech reports whether the audio captured since the previous call
// contained speech. Without a voice detector it falls back to the level.
func (c *Controller) HasSpeech() bool {
	if d := c.voice.Load(); d != nil {
		return d.SpeechSincePoll()
	}
	return c.Level() >= speechLevel
}

// Initialize authenticates and fetches the usage quota. An unauthorized
// response leaves the controller in AuthFailed; any other usage failure
// falls back to the lowest tier's limits.
func (c *Controller) Initialize(ctx context.Context) error {
	err := c.call(func() error {
		if c.starting || (c.cur != Idle && c.cur != AuthFailed && c.cur != Ready) {
			return ErrInvalidState
		}
		c.setState(Initializing, "")
		return nil
	})
	if err != nil {
		return err
	}

	usage, authErr := c.backend.Authenticate(ctx)

	var result error
	err = c.call(func() error {
		if c.cur != Initializing {
			return ErrInvalidState
		}
		switch {
		case authErr == nil:
			c.quota = usage.Quota()
			log.Infof("signed in: %s", c.quota)
			c.setState(Ready, "")
		case errors.Is(authErr, api.ErrUnauthorized):
			result = fmt.Errorf("%w: %v", ErrAuthRequired, authErr)
			c.fail("initialize", result)
			c.setState(AuthFailed, "")
		default:
			log.Warnf("usage unavailable, using %s limits: %v", quota.Lowest, authErr)
			c.quota = quota.ForTier(quota.Lowest, c.cfg.TierLimits)
			c.setState(Ready, "")
		}
		return nil
	})
	if err != nil {
		return err
	}
	return result
}

// Start begins a new recording and returns its id. It is allowed from
// Ready, and from Saved or Shared where the persisted recording is cleared
// first. Unsaved audio must be saved or discarded before starting again.
func (c *Controller) Start(ctx context.Context, title string) (string, error) {
	err := c.call(func() error {
		switch {
		case c.starting:
			return ErrInvalidState
		case c.cur == AuthFailed || c.cur == Idle:
			return ErrAuthRequired
		case c.cur != Ready && c.cur != Saved && c.cur != Shared:
			return ErrInvalidState
		}
		c.starting = true
		return nil
	})
	if err != nil {
		return "", err
	}

	usage, usageErr := c.backend.Authenticate(ctx)
	var src audio.Source
	var frames <-chan audio.Frame
	var srcErr error
	if !errors.Is(usageErr, api.ErrUnauthorized) {
		src = c.newSource()
		frames, srcErr = src.Start(c.ctx)
	}

	var id string
	err = c.call(func() error {
		c.starting = false
		if c.cur != Ready && c.cur != Saved && c.cur != Shared {
			if src != nil {
				src.Stop()
			}
			return ErrInvalidState
		}
		switch {
		case errors.Is(usageErr, api.ErrUnauthorized):
			err := fmt.Errorf("%w: %v", ErrAuthRequired, usageErr)
			c.fail("start", err)
			c.rec = nil
			c.setState(AuthFailed, "")
			return err
		case usageErr != nil:
			log.Warnf("usage refresh failed, keeping %s: %v", c.quota, usageErr)
		default:
			c.quota = usage.Quota()
		}
		if srcErr != nil {
			src.Stop()
			err := fmt.Errorf("start capture: %w", srcErr)
			c.fail("start", err)
			return err
		}
		if c.quota.Exhausted() {
			src.Stop()
			c.fail("start", ErrLimitReached)
			return ErrLimitReached
		}
		id = c.begin(title, src, frames)
		return nil
	})
	if errors.Is(err, ErrClosed) && src != nil {
		src.Stop()
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// begin wires a freshly started source into a new recording.
func (c *Controller) begin(title string, src audio.Source, frames <-chan audio.Frame) string {
	now := c.now()
	if strings.TrimSpace(title) == "" {
		title = "Recording " + now.Format("Jan 2 15:04")
	}
	rec := &recording{
		id:         uuid.NewString(),
		title:      title,
		startedAt:  now,
		source:     src,
		stream:     c.newStream(),
		buffer:     &audio.Buffer{},
		transcript: NewTranscript(c.cfg.SecondsPerWord),
		latency:    NewLatencyTracker(c.cfg.LatencyWindow),
		enforcer:   quota.NewEnforcer(c.quota),
		pumpDone:   make(chan struct{}),
		sendQ:      make(chan []byte, sendQueue),
		sendDone:   make(chan struct{}),
	}
	if d, err := newVoiceDetector(); err != nil {
		log.Warnf("voice detection unavailable: %v", err)
	} else {
		rec.voice = d
	}
	c.voice.Store(rec.voice)
	c.rec = rec
	c.lastErr = ""
	c.lastSend.Store(0)
	c.conn = stream.Connecting
	c.setState(Recording, "")

	if err := rec.stream.Open(c.ctx, rec.id, rec.title, c.IsRecording); err != nil {
		log.Errorf("open transcription stream: %v", err)
	}
	c.streamEv = rec.stream.Events()
	c.tickC, rec.stopTicker = c.newTicker(c.cfg.Tick)
	go c.send(rec)
	go c.pump(rec, frames)

	c.m.SessionsStarted.Inc()
	log.SessionStart(rec.id, string(c.quota.Tier), c.quota.Budget())

	md := keepalive.Metadata{RecordingID: rec.id, Title: rec.title, Started: rec.startedAt}
	c.keepAlive(func() {
		c.ka.SetMetadata(md)
		c.ka.Engage(c.ctx)
	})
	return rec.id
}

// pump moves frames from the source into the buffer and, past the
// silence gate, onto the send queue. It never waits on the network: when
// the queue is full the frame is recorded but not streamed.
func (c *Controller) pump(rec *recording, frames <-chan audio.Frame) {
	defer close(rec.pumpDone)
	defer close(rec.sendQ)
	gate := audio.NewSilenceGate(c.cfg.SilenceThreshold)
	for f := range frames {
		c.level.Store(math.Float64bits(f.RMS()))
		rec.buffer.Append(f)
		c.m.FramesCaptured.Inc()
		pcm := f.Bytes()
		if rec.voice != nil {
			rec.voice.Process(pcm)
		}
		if !gate.Allow(f) {
			rec.gated.Add(1)
			c.m.FramesGated.Inc()
			continue
		}
		select {
		case rec.sendQ <- pcm:
		default:
			rec.queueDrops.Add(1)
			c.m.FramesDropped.Inc()
		}
	}
	c.level.Store(0)
	go c.post(func() {
		if c.rec == rec && c.cur == Recording {
			log.Warnf("capture ended for %s", rec.id)
			c.stopLocked(ReasonCaptureEnded)
		}
	})
}

// send writes queued frames to the stream until the pump closes the queue.
func (c *Controller) send(rec *recording) {
	defer close(rec.sendDone)
	for pcm := range rec.sendQ {
		if rec.stream.Send(pcm) {
			c.lastSend.Store(c.now().UnixNano())
		}
	}
}

// Stop ends the current recording. Calling it when nothing is recording,
// including before any recording was started, does nothing.
func (c *Controller) Stop(reason Reason) error {
	if reason == "" {
		reason = ReasonUser
	}
	return c.call(func() error {
		if c.cur == Recording {
			c.stopLocked(reason)
		}
		return nil
	})
}

func (c *Controller) stopLocked(reason Reason) {
	rec := c.rec
	c.setState(Stopping, reason)

	c.tickC = nil
	if rec.stopTicker != nil {
		rec.stopTicker()
	}
	rec.source.Stop()
	select {
	case <-rec.pumpDone:
	case <-time.After(pumpDrainTimeout):
		log.Warnf("capture pump for %s did not drain", rec.id)
	}
	c.streamEv = nil
	c.conn = stream.Closed
	c.level.Store(0)
	c.voice.Store(nil)
	c.keepAlive(c.ka.Disengage)
	c.releases.Add(1)
	go c.release(rec)

	rec.duration = max(
		time.Duration(rec.ticks)*c.cfg.Tick,
		rec.buffer.Duration(),
		c.now().Sub(rec.startedAt),
	)

	c.m.SessionsStopped.WithLabelValues(string(reason)).Inc()
	log.SessionEnd(rec.id, string(reason), rec.elapsed, rec.transcript.Len())
	c.setState(Stopped, reason)
}

// release closes a stopped recording's stream off the loop. Queued frames
// get a short grace period before Stop, which also unblocks a stalled write.
func (c *Controller) release(rec *recording) {
	defer c.releases.Done()
	select {
	case <-rec.sendDone:
	case <-time.After(sendDrainTimeout):
	}
	rec.stream.Stop()
	select {
	case <-rec.sendDone:
	case <-time.After(pumpDrainTimeout):
		log.Warnf("stream sender for %s did not drain", rec.id)
	}

	s := rec.stream.Stats()
	data := log.StreamMetricsData{
		ConnectMs:     float64(s.ConnectDur.Microseconds()) / 1000,
		Connects:      s.Connects,
		SentFrames:    s.SentFrames,
		SentKB:        float64(s.SentBytes) / 1024,
		DroppedFrames: s.DroppedFrames + int(rec.queueDrops.Load()),
		GatedFrames:   int(rec.gated.Load()),
		RecvMessages:  s.RecvMessages,
		RecvFinal:     s.RecvFinal,
		RecvInterim:   s.RecvInterim,
	}
	if rec.voice != nil {
		data.VADFrames, data.SpeechFrames = rec.voice.Stats()
	}
	log.StreamMetrics(rec.id, data)
}

// Save uploads the stopped recording and returns the id the service
// assigned to it. Saving an already saved recording returns that id again.
// On failure the recording stays local and Save may be retried.
func (c *Controller) Save(ctx context.Context) (string, error) {
	var (
		rec     *recording
		req     api.SaveRequest
		samples []int16
		savedID string
	)
	err := c.call(func() error {
		if (c.cur == Saved || c.cur == Shared) && c.rec != nil {
			savedID = c.rec.savedID
			return nil
		}
		if c.cur != Stopped {
			return ErrInvalidState
		}
		rec = c.rec
		samples = rec.buffer.Samples()
		req = api.SaveRequest{
			ID:          rec.id,
			Title:       rec.title,
			Duration:    rec.duration,
			AudioFormat: c.cfg.UploadFormat,
			Segments:    rec.transcript.wire(),
		}
		c.setState(Saving, "")
		return nil
	})
	if err != nil {
		return "", err
	}
	if rec == nil {
		return savedID, nil
	}

	data, saveErr := encoder.Encode(req.AudioFormat, samples)
	var id string
	if saveErr == nil {
		req.Audio = data
		id, saveErr = c.backend.Save(ctx, req)
	}

	var result error
	err = c.call(func() error {
		c.m.Saves.WithLabelValues(metrics.Result(saveErr)).Inc()
		if saveErr != nil {
			result = fmt.Errorf("%w: %v", ErrSaveFailed, saveErr)
			c.fail("save", result)
			c.setState(Stopped, "")
			return nil
		}
		if id == "" {
			id = rec.id
		}
		rec.savedID = id
		rec.inited = true
		log.Infof("saved recording %s as %s (%d bytes, %s)", rec.id, id, len(data), req.Duration.Round(time.Millisecond))
		c.setState(Saved, "")
		c.emit(RecordingSaved{ID: id})
		return nil
	})
	if err != nil {
		return "", err
	}
	if result != nil {
		return "", result
	}
	return id, nil
}

// Share creates the recording's public link. While recording, the
// recording row is created first so the link can be issued before any
// audio is uploaded. A recording has at most one link; later calls return it.
func (c *Controller) Share(ctx context.Context) (ShareLink, error) {
	var (
		rec           *recording
		existing      *ShareLink
		target        string
		fromRecording bool
		needInit      bool
	)
	err := c.call(func() error {
		if c.rec == nil {
			return ErrInvalidState
		}
		if c.rec.share != nil {
			if c.cur == Saved {
				c.setState(Shared, "")
			}
			existing = c.rec.share
			return nil
		}
		switch c.cur {
		case Recording:
			if c.rec.sharing {
				return ErrInvalidState
			}
			c.rec.sharing = true
			fromRecording = true
		case Saved:
			c.setState(Sharing, "")
		default:
			return ErrInvalidState
		}
		rec = c.rec
		needInit = !rec.inited
		// The service's id replaces the local one once saved.
		target = rec.id
		if rec.savedID != "" {
			target = rec.savedID
		}
		return nil
	})
	if err != nil {
		return ShareLink{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	var shareErr error
	if needInit {
		_, shareErr = c.backend.Init(ctx, rec.id, rec.title)
	}
	var token string
	if shareErr == nil {
		token, shareErr = c.backend.Share(ctx, target, c.cfg.ShareExpiryHours)
	}

	var link ShareLink
	var result error
	err = c.call(func() error {
		c.m.Shares.WithLabelValues(metrics.Result(shareErr)).Inc()
		if fromRecording {
			rec.sharing = false
		}
		if needInit && shareErr == nil {
			rec.inited = true
		}
		if shareErr != nil {
			result = fmt.Errorf("%w: %v", ErrShareFailed, shareErr)
			c.fail("share", result)
			if c.cur == Sharing {
				c.setState(Saved, "")
			}
			return nil
		}
		link = ShareLink{Token: token, URL: c.backend.ShareURL(token)}
		rec.share = &link
		log.Infof("shared recording %s", target)
		if c.cur == Sharing && c.rec == rec {
			c.setState(Shared, "")
		}
		c.emit(RecordingShared{Link: link})
		return nil
	})
	if err != nil {
		return ShareLink{}, err
	}
	if result != nil {
		return ShareLink{}, result
	}
	return link, nil
}

// Discard drops the local recording and returns to Ready.
func (c *Controller) Discard() error {
	return c.call(func() error {
		switch c.cur {
		case Ready:
			return nil
		case Stopped, Saved, Shared:
			if c.rec != nil {
				log.Infof("discarded recording %s", c.rec.id)
			}
			c.rec = nil
			c.setState(Ready, "")
			return nil
		}
		return ErrInvalidState
	})
}

func (c *Controller) Snapshot() Snapshot {
	var snap Snapshot
	err := c.call(func() error {
		snap = Snapshot{
			State:      c.cur,
			Quota:      c.quota,
			Connection: c.conn,
			LastError:  c.lastErr,
		}
		rec := c.rec
		if rec == nil {
			snap.Connection = stream.Idle
			return nil
		}
		snap.ID = rec.id
		snap.Title = rec.title
		snap.StartedAt = rec.startedAt
		snap.Elapsed = rec.elapsed
		snap.Quota = rec.enforcer.Quota()
		snap.Segments = rec.transcript.Segments()
		snap.Interim = rec.transcript.Interim()
		snap.LastLatency = rec.latency.Last()
		snap.AvgLatency = rec.latency.Average()
		snap.AudioLength = rec.buffer.Duration()
		snap.SavedID = rec.savedID
		if rec.share != nil {
			link := *rec.share
			snap.Share = &link
		}
		return nil
	})
	if err != nil {
		return Snapshot{State: c.State()}
	}
	return snap
}

// Close stops any active recording, waits for stream connections to be
// released, drops keep-alive measures and ends the controller loop.
// Further calls return ErrClosed.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		_ = c.call(func() error {
			if c.cur == Recording {
				c.stopLocked(ReasonShutdown)
			}
			c.quit = true
			return nil
		})
		<-c.loopDone
		released := make(chan struct{})
		go func() {
			c.releases.Wait()
			close(released)
		}()
		select {
		case <-released:
		case <-time.After(releaseTimeout):
			log.Warn("stream release timed out")
		}
		close(c.kaOps)
		select {
		case <-c.kaDone:
		case <-time.After(keepAliveTimeout):
			log.Warn("keep-alive release timed out")
		}
		c.cancel()
	})
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.inbox:
			fn()
			if c.quit {
				return
			}
		case ev := <-c.streamEv:
			c.handleStream(ev)
		case <-c.tickC:
			c.handleTick()
		}
	}
}

func (c *Controller) handleTick() {
	rec := c.rec
	if c.cur != Recording || rec == nil {
		return
	}
	rec.ticks++
	rec.elapsed = int(time.Duration(rec.ticks) * c.cfg.Tick / time.Second)
	c.m.RecordingSecs.Add(c.cfg.Tick.Seconds())

	remaining := quota.Unlimited
	if budget := rec.enforcer.Quota().Budget(); budget != quota.Unlimited {
		remaining = max(budget-rec.elapsed, 0)
	}
	c.emit(Tick{Elapsed: rec.elapsed, Remaining: remaining})

	if rec.enforcer.Check(rec.elapsed) {
		c.limitReached("timer")
	}
}

func (c *Controller) handleStream(ev stream.Event) {
	rec := c.rec
	if rec == nil {
		return
	}
	switch ev := ev.(type) {
	case stream.TranscriptEvent:
		if !ev.IsFinal {
			rec.transcript.SetInterim(ev.Text)
			c.emit(Interim{Text: ev.Text})
			return
		}
		if strings.TrimSpace(ev.Text) == "" {
			return
		}
		at := ev.At
		if at.IsZero() {
			at = c.now()
		}
		seg := rec.transcript.AppendFinal(ev.Text, ev.Confidence, at)
		var latency time.Duration
		if ns := c.lastSend.Load(); ns > 0 {
			latency = max(at.Sub(time.Unix(0, ns)), 0)
			rec.latency.Add(latency)
			c.m.TranscriptLatency.Observe(latency.Seconds())
		}
		log.TranscriptText(rec.id, ev.Text)
		c.emit(SegmentAdded{Segment: seg, Latency: latency})

	case stream.ConnectionEvent:
		c.conn = ev.State
		c.emit(ConnectionChanged{State: ev.State, Attempt: ev.Attempt, Err: ev.Err})
		if ev.State == stream.Closed && errors.Is(ev.Err, stream.ErrUnauthorized) && c.cur == Recording {
			c.fail("stream", fmt.Errorf("%w: %v", ErrAuthRequired, ev.Err))
			c.stopLocked(ReasonConnection)
		}

	case stream.LimitEvent:
		if c.cur == Recording && rec.enforcer.Trip() {
			c.limitReached(string(ev.Source))
		}
	}
}

// limitReached stops the recording once the enforcer has tripped and
// raises the blocking notice.
func (c *Controller) limitReached(source string) {
	rec := c.rec
	q := rec.enforcer.Quota()
	log.LimitReached(rec.id, string(q.Tier), source, rec.elapsed)
	c.stopLocked(ReasonLimit)

	ev := LimitReached{Tier: q.Tier, LimitSeconds: q.LimitSeconds, Source: source}
	if rec.enforcer.OffersUpgrade() {
		ev.Upgrade = true
		ev.UpgradeURL = c.cfg.UpgradeURL
	}
	c.emit(ev)
}

func (c *Controller) setState(to State, reason Reason) {
	from := c.cur
	if from == to {
		return
	}
	c.cur = to
	c.state.Store(int32(to))
	id := ""
	if c.rec != nil {
		id = c.rec.id
	}
	log.StateChange(id, from.String(), to.String())
	c.emit(StateChanged{From: from, To: to, Reason: reason})
}

func (c *Controller) fail(op string, err error) {
	c.lastErr = err.Error()
	log.Errorf("%s: %v", op, err)
	c.emit(Failure{Op: op, Err: err})
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Debugf("session event dropped: %T", ev)
	}
}

// call runs fn on the loop and waits for its result.
func (c *Controller) call(fn func() error) error {
	done := make(chan error, 1)
	select {
	case c.inbox <- func() { done <- fn() }:
	case <-c.loopDone:
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-c.loopDone:
		select {
		case err := <-done:
			return err
		default:
			return ErrClosed
		}
	}
}

// post runs fn on the loop without waiting.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.loopDone:
	}
}

// keepAlive queues work for the keep-alive worker so engage and release
// run in order without blocking the loop.
func (c *Controller) keepAlive(fn func()) {
	select {
	case c.kaOps <- fn:
	default:
		log.Warn("keep-alive queue full")
	}
}

func (c *Controller) keepAliveWorker() {
	defer close(c.kaDone)
	for fn := range c.kaOps {
		fn()
	}
}
