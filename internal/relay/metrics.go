package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the delivery engine. A nil receiver disables recording.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	frameErrors       *prometheus.CounterVec
	frameLatency      *prometheus.HistogramVec
	messagesRouted    *prometheus.CounterVec
	oneTimeEvents     *prometheus.CounterVec
}

// NewMetrics registers the relay collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatroom_connections_active",
			Help: "Current number of live client connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatroom_connections_total",
			Help: "Total client connections handled since start.",
		}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatroom_frame_errors_total",
			Help: "Frame validation or routing errors.",
		}, []string{"code"}),
		frameLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatroom_frame_latency_seconds",
			Help:    "Latency for handling inbound frames.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatroom_messages_routed_total",
			Help: "Messages routed, grouped by delivery path.",
		}, []string{"path"}),
		oneTimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatroom_one_time_events_total",
			Help: "One-time message lifecycle events.",
		}, []string{"event"}),
	}

	reg.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.frameErrors,
		m.frameLatency,
		m.messagesRouted,
		m.oneTimeEvents,
	)
	return m
}

func (m *Metrics) incConnection() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) decConnection() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) recordError(code string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) observeLatency(op string, dur time.Duration) {
	if m == nil || op == "" {
		return
	}
	m.frameLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *Metrics) recordRouted(path string) {
	if m == nil {
		return
	}
	m.messagesRouted.WithLabelValues(path).Inc()
}

func (m *Metrics) recordOneTime(event string) {
	if m == nil {
		return
	}
	m.oneTimeEvents.WithLabelValues(event).Inc()
}
