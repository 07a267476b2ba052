// Package stream maintains the live transcription connection for one
// recording: it sends PCM frames, decodes transcript and control messages,
// and reconnects on unexpected drops while the owner is still recording.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"livescribe/log"
	"livescribe/metrics"
)

const (
	DefaultBackoff        = 2 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultLimitCloseCode = 4001

	statusNormalClosure = 1000
	statusInternalError = 1011

	writeTimeout = 5 * time.Second
	stopTimeout  = 3 * time.Second
	eventBuffer  = 64
)

var ErrAlreadyOpen = errors.New("stream: client already opened")

type Options struct {
	URL            string
	Token          string
	Backoff        time.Duration
	DialTimeout    time.Duration
	LimitCloseCode int
	Metrics        *metrics.Metrics
	// Dial replaces the websocket dialer; URL and Token are then unused.
	Dial Dialer
}

// Stats summarises one client's lifetime for the session-end log line.
type Stats struct {
	ConnectDur    time.Duration
	Connects      int
	Reconnects    int
	SentFrames    int
	SentBytes     uint64
	DroppedFrames int
	RecvMessages  int
	RecvFinal     int
	RecvInterim   int
}

// Client is single-use: Open once, Stop once (further Stops are no-ops).
type Client struct {
	opts    Options
	dial    Dialer
	metrics *metrics.Metrics

	events   chan Event
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	recordingID string
	title       string
	isRecording func() bool

	mu        sync.Mutex
	state     ConnState
	conn      rawConn
	cancel    context.CancelFunc
	opened    bool
	titleSent bool
	stats     Stats
}

func New(opts Options) *Client {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.LimitCloseCode == 0 {
		opts.LimitCloseCode = DefaultLimitCloseCode
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Discard()
	}
	dial := opts.Dial
	if dial == nil {
		dial = websocketDialer(opts.URL, opts.Token)
	}
	return &Client{
		opts:    opts,
		dial:    dial,
		metrics: m,
		events:  make(chan Event, eventBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Events delivers TranscriptEvent, ConnectionEvent and LimitEvent values in
// arrival order. It is never closed; stop reading after Stop.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Open starts connecting in the background and returns immediately.
// isRecording is consulted after every drop; reconnects continue only while
// it reports true.
func (c *Client) Open(ctx context.Context, recordingID, title string, isRecording func() bool) error {
	if recordingID == "" {
		return fmt.Errorf("stream: empty recording id")
	}
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	c.recordingID = recordingID
	c.title = title
	c.isRecording = isRecording
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Send writes one PCM frame if the connection is open. Frames arriving
// while connecting or reconnecting are dropped, never queued.
func (c *Client) Send(pcm []byte) bool {
	c.mu.Lock()
	conn := c.conn
	if c.state != Open || conn == nil {
		c.stats.DroppedFrames++
		c.mu.Unlock()
		c.metrics.FramesDropped.Inc()
		return false
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.WriteBinary(ctx, pcm); err != nil {
		c.mu.Lock()
		c.stats.DroppedFrames++
		c.mu.Unlock()
		c.metrics.FramesDropped.Inc()
		log.Debugf("stream send failed: %v", err)
		return false
	}

	c.mu.Lock()
	c.stats.SentFrames++
	c.stats.SentBytes += uint64(len(pcm))
	c.mu.Unlock()
	c.metrics.FramesSent.Inc()
	c.metrics.BytesSent.Add(float64(len(pcm)))
	return true
}

// Stop sends stop_recording if the connection is open, closes it and
// cancels any pending reconnect. Safe to call at any time, any number of
// times, including before Open.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		open := c.state == Open && conn != nil
		started := c.opened
		cancel := c.cancel
		c.conn = nil
		c.state = Closed
		c.mu.Unlock()

		close(c.stop)
		c.metrics.ConnectionState.Set(float64(Closed))

		if open {
			ctx, cancelWrite := context.WithTimeout(context.Background(), writeTimeout)
			if err := conn.WriteText(ctx, EncodeStop()); err != nil {
				log.Debugf("stop_recording not delivered: %v", err)
			}
			cancelWrite()
			conn.Close(statusNormalClosure, "recording stopped")
		}
		if cancel != nil {
			cancel()
		}
		if started {
			select {
			case <-c.done:
			case <-time.After(stopTimeout):
				log.Warn("stream client shutdown timeout")
			}
		}
	})
}

func (c *Client) run(ctx context.Context) {
	code := -1
	var lastErr error
	defer close(c.done)
	defer func() { c.transition(Closed, 0, code, lastErr) }()

	c.transition(Connecting, 0, -1, nil)
	attempt := 0
	for {
		conn, err := c.connect(ctx, attempt == 0)
		if err == nil {
			code, err = c.serve(ctx, conn, attempt)
			if code == c.opts.LimitCloseCode {
				c.metrics.MessagesReceived.WithLabelValues("limit").Inc()
				c.emit(LimitEvent{Source: LimitFromCloseCode})
				return
			}
		} else {
			code = -1
			if errors.Is(err, ErrUnauthorized) {
				lastErr = err
				return
			}
		}
		lastErr = err

		if c.stopped() || c.isRecording == nil || !c.isRecording() {
			return
		}

		attempt++
		c.mu.Lock()
		c.stats.Reconnects++
		c.mu.Unlock()
		c.metrics.Reconnects.Inc()
		log.Reconnect(c.recordingID, attempt, code, err)
		c.transition(Reconnecting, attempt, code, err)

		select {
		case <-time.After(c.opts.Backoff):
		case <-c.stop:
			return
		}
	}
}

func (c *Client) connect(ctx context.Context, first bool) (rawConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	start := time.Now()
	conn, err := c.dial(dialCtx)
	if err != nil {
		return nil, err
	}
	if first {
		c.mu.Lock()
		c.stats.ConnectDur = time.Since(start)
		c.mu.Unlock()
	}
	return conn, nil
}

// serve configures a fresh connection, publishes it for Send, and reads
// until it ends. It returns the close code (-1 if none) and the read error.
func (c *Client) serve(ctx context.Context, conn rawConn, attempt int) (int, error) {
	c.mu.Lock()
	title := ""
	if !c.titleSent {
		title = c.title
	}
	c.mu.Unlock()

	// configure goes out before the connection is visible to Send, so it is
	// always the first message the service sees.
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	err := conn.WriteText(wctx, EncodeConfigure(c.recordingID, title))
	cancel()
	if err != nil {
		conn.Close(statusInternalError, "configure failed")
		return -1, err
	}

	c.mu.Lock()
	if c.stopped() {
		c.mu.Unlock()
		conn.Close(statusNormalClosure, "")
		return -1, nil
	}
	c.titleSent = true
	c.conn = conn
	c.state = Open
	c.stats.Connects++
	c.mu.Unlock()
	c.metrics.Connects.Inc()
	c.metrics.ConnectionState.Set(float64(Open))
	c.emit(ConnectionEvent{State: Open, Attempt: attempt, Code: -1})

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.detach(conn)
			return closeCode(err), err
		}
		ev, ok := Decode(data, time.Now())
		c.count(ev, ok)
		if ok {
			c.emit(ev)
		}
	}
}

// detach makes a dropped connection invisible to Send before any reconnect
// starts, so no frame reaches the service between drop and re-configure.
func (c *Client) detach(conn rawConn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.state == Open {
			c.state = Closed
		}
	}
	c.mu.Unlock()
}

func (c *Client) count(ev Event, ok bool) {
	kind := "ignored"
	c.mu.Lock()
	c.stats.RecvMessages++
	if t, isTranscript := ev.(TranscriptEvent); ok && isTranscript {
		if t.IsFinal {
			c.stats.RecvFinal++
			kind = "final"
		} else {
			c.stats.RecvInterim++
			kind = "interim"
		}
	} else if _, isLimit := ev.(LimitEvent); ok && isLimit {
		kind = "limit"
	}
	c.mu.Unlock()
	c.metrics.MessagesReceived.WithLabelValues(kind).Inc()
}

func (c *Client) transition(state ConnState, attempt, code int, err error) {
	c.mu.Lock()
	if c.state == Closed && state != Closed && c.stopped() {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.metrics.ConnectionState.Set(float64(state))
	c.emit(ConnectionEvent{State: state, Attempt: attempt, Code: code, Err: err})
}

func (c *Client) emit(ev Event) {
	select {
	case <-c.stop:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.stop:
	}
}

func (c *Client) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}
