package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	OutboundMessages   *prometheus.CounterVec
	CompletionRequests *prometheus.CounterVec
	CompletionLatency  prometheus.Histogram
	SpeechEvents       *prometheus.CounterVec
	DroppedSubmissions prometheus.Counter

	latency *latencyWindow
}

// NewMetrics registers instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live assistant sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		OutboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound event delivery by type and result.",
		}, []string{"type", "result"}),
		CompletionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_requests_total",
			Help:      "Completion requests by outcome.",
		}, []string{"outcome"}),
		CompletionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Time from submission to assistant reply in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 3000, 5000, 8000, 15000},
		}),
		SpeechEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_events_total",
			Help:      "Speech capture and playback events by kind.",
		}, []string{"kind"}),
		DroppedSubmissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_submissions_total",
			Help:      "Submissions ignored because a reply was already pending.",
		}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

// ObserveCompletion records one finished completion. outcome is "ok" or an
// error kind.
func (m *Metrics) ObserveCompletion(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionRequests.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.CompletionLatency.Observe(float64(d.Milliseconds()))
		m.latency.Observe(StageCompletion, d)
		return
	}
	m.latency.Observe(StageCompletionError, d)
	m.latency.Count("completion_" + outcome)
}

func (m *Metrics) SpeechEvent(kind string) {
	if m == nil {
		return
	}
	m.SpeechEvents.WithLabelValues(kind).Inc()
	m.latency.Count("speech_" + kind)
}

func (m *Metrics) ObserveSpeechStart(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(StageSpeechStart, d)
}

func (m *Metrics) DroppedSubmission() {
	if m == nil {
		return
	}
	m.DroppedSubmissions.Inc()
	m.latency.Count("busy_drop")
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("created").Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionEvents.WithLabelValues(reason).Inc()
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return newLatencyWindow(0).Snapshot()
	}
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
