package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client-side pipeline instrumentation.
type Metrics struct {
	// Capture and egress
	FramesCaptured prometheus.Counter
	FramesGated    prometheus.Counter
	FramesSent     prometheus.Counter
	FramesDropped  prometheus.Counter
	BytesSent      prometheus.Counter

	// Connection
	Connects          prometheus.Counter
	Reconnects        prometheus.Counter
	ConnectionState   prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	TranscriptLatency prometheus.Histogram

	// Sessions
	SessionsStarted prometheus.Counter
	SessionsStopped *prometheus.CounterVec
	RecordingSecs   prometheus.Counter
	Saves           *prometheus.CounterVec
	Shares          *prometheus.CounterVec
	KeepAliveErrors *prometheus.CounterVec
}

// New registers all metrics with reg. Pass prometheus.NewRegistry() in
// tests so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_frames_captured_total",
			Help: "Audio frames delivered by the capture source",
		}),
		FramesGated: f.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_frames_gated_total",
			Help: "Frames withheld from the network by the silence gate",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_frames_sent_total",
			Help: "Frames written to the transcription connection",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_frames_dropped_total",
			Help: "Frames discarded because the connection was not open",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_bytes_sent_total",
			Help: "PCM bytes written to the transcription connection",
		}),

		Connects: f.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_stream_connects_total",
			Help: "Successful transcription connection opens",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_stream_reconnects_total",
			Help: "Reconnect attempts after an unexpected close",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "livescribe_stream_state",
			Help: "Current connection state (0 idle, 1 connecting, 2 open, 3 reconnecting, 4 closed)",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_stream_messages_total",
			Help: "Inbound messages by kind",
		}, []string{"kind"}),
		TranscriptLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livescribe_transcript_latency_seconds",
			Help:    "Time from last audio send to final transcript arrival",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_sessions_started_total",
			Help: "Recording sessions started",
		}),
		SessionsStopped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_sessions_stopped_total",
			Help: "Recording sessions stopped by reason",
		}, []string{"reason"}),
		RecordingSecs: f.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_recording_seconds_total",
			Help: "Elapsed recording seconds across sessions",
		}),
		Saves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_saves_total",
			Help: "Save attempts by result",
		}, []string{"result"}),
		Shares: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_shares_total",
			Help: "Share link attempts by result",
		}, []string{"result"}),
		KeepAliveErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_keepalive_errors_total",
			Help: "Background keep-alive capability failures",
		}, []string{"capability"}),
	}
}

// Discard returns metrics registered on a throwaway registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
