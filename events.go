package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"livescribe/beep"
	"livescribe/session"
	"livescribe/stream"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI and the
// headless printer receive the same controller events.
type EventSink interface {
	Handle(ev session.Event)
}

// forwardEvents delivers controller events to sink until ctx is done,
// playing the matching audible cue for each.
func forwardEvents(ctx context.Context, events <-chan session.Event, sink EventSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			cue(ev)
			sink.Handle(ev)
		}
	}
}

func cue(ev session.Event) {
	switch ev := ev.(type) {
	case session.StateChanged:
		switch {
		case ev.To == session.Recording:
			beep.PlayStart()
		case ev.To == session.Stopped && ev.Reason == session.ReasonLimit:
			beep.PlayLimit()
		case ev.To == session.Stopped && ev.Reason != "":
			beep.PlayEnd()
		}
	case session.Failure:
		beep.PlayError()
	}
}

// printer is the headless sink: one line per event worth reading.
type printer struct {
	w    io.Writer
	done chan struct{} // closed when a recording stops
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, done: make(chan struct{})}
}

func (p *printer) Handle(ev session.Event) {
	switch ev := ev.(type) {
	case session.StateChanged:
		if ev.Reason != "" {
			fmt.Fprintf(p.w, "[%s] (%s)\n", ev.To, ev.Reason)
		} else {
			fmt.Fprintf(p.w, "[%s]\n", ev.To)
		}
		if ev.To == session.Stopped && ev.From == session.Stopping {
			select {
			case <-p.done:
			default:
				close(p.done)
			}
		}
	case session.SegmentAdded:
		fmt.Fprintf(p.w, "%s  %s\n", formatOffset(ev.Segment.Start), ev.Segment.Text)
	case session.ConnectionChanged:
		if ev.State == stream.Reconnecting || ev.State == stream.Closed {
			fmt.Fprintf(p.w, "connection %s%s\n", ev.State, errSuffix(ev.Err))
		}
	case session.LimitReached:
		fmt.Fprintln(p.w, limitNotice(ev))
	case session.Failure:
		fmt.Fprintf(p.w, "error: %s: %v\n", ev.Op, ev.Err)
	case session.RecordingSaved:
		fmt.Fprintf(p.w, "saved as %s\n", ev.ID)
	case session.RecordingShared:
		fmt.Fprintf(p.w, "share link: %s\n", ev.Link.URL)
	}
}

func limitNotice(ev session.LimitReached) string {
	msg := fmt.Sprintf("Recording limit reached: %s plan allows %s per recording.", ev.Tier, formatDuration(ev.LimitSeconds))
	if ev.Upgrade && ev.UpgradeURL != "" {
		msg += " Upgrade for longer recordings: " + ev.UpgradeURL
	}
	return msg
}

func formatOffset(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	return fmt.Sprintf("%02d:%04.1f", int(d.Minutes()), (d % time.Minute).Seconds())
}

func formatDuration(seconds int) string {
	if seconds < 0 {
		return "unlimited time"
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func errSuffix(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}
	return ": " + err.Error()
}
