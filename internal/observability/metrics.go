package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the interview client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TurnTransitions    *prometheus.CounterVec
	ChannelMessages    *prometheus.CounterVec
	ChannelSendDrops   *prometheus.CounterVec
	PlaybackItems      *prometheus.CounterVec
	RecognitionLatency prometheus.Histogram
	ReportPolls        *prometheus.CounterVec
	CompletionOutcomes *prometheus.CounterVec
	UtteranceSeconds   prometheus.Histogram

	stages *latencyWindow
}

// NewMetrics registers the instruments on reg. A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		TurnTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Turn-taking state transitions by source and target state.",
		}, []string{"from", "to"}),
		ChannelMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_total",
			Help:      "Session channel messages by direction and event.",
		}, []string{"direction", "event"}),
		ChannelSendDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_send_drops_total",
			Help:      "Outbound events not delivered because the channel was down or the write failed.",
		}, []string{"event", "reason"}),
		PlaybackItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_items_total",
			Help:      "Played utterances by synthesis path.",
		}, []string{"path"}),
		RecognitionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_latency_ms",
			Help:      "Latency of remote speech recognition in milliseconds.",
			Buckets:   []float64{100, 200, 400, 700, 1000, 1500, 2500, 5000},
		}),
		ReportPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_polls_total",
			Help:      "Report poll attempts by result.",
		}, []string{"result"}),
		CompletionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_outcomes_total",
			Help:      "Interview completion outcomes by status and source.",
		}, []string{"status", "source"}),
		UtteranceSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_seconds",
			Help:      "Duration of encoded user utterances.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 90},
		}),
		stages: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.TurnTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveChannelMessage(direction, event string) {
	if m == nil {
		return
	}
	m.ChannelMessages.WithLabelValues(direction, event).Inc()
}

func (m *Metrics) ObserveSendDrop(event, reason string) {
	if m == nil {
		return
	}
	m.ChannelSendDrops.WithLabelValues(event, reason).Inc()
}

func (m *Metrics) ObservePlayback(path string) {
	if m == nil {
		return
	}
	m.PlaybackItems.WithLabelValues(path).Inc()
}

func (m *Metrics) ObserveRecognition(d time.Duration) {
	if m == nil {
		return
	}
	m.RecognitionLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveReportPoll(result string) {
	if m == nil {
		return
	}
	m.ReportPolls.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCompletion(status, source string) {
	if m == nil {
		return
	}
	m.CompletionOutcomes.WithLabelValues(status, source).Inc()
}

func (m *Metrics) ObserveUtterance(d time.Duration) {
	if m == nil {
		return
	}
	m.UtteranceSeconds.Observe(d.Seconds())
}

// ObserveStage records a latency sample for one interview stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Milliseconds()))
}

// SnapshotStages returns rolling latency percentiles per stage.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

// MetricsHandler serves the given gatherer; nil serves the default registry.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
