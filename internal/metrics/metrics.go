// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - realtime connection state and reconnect counts
//   - heartbeat round-trip latency
//   - change events applied and fallback poll cycles
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/launchpointhq/liveboard/internal/realtime"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	connState    *prometheus.GaugeVec
	reconnects   prometheus.Counter
	fallbacks    prometheus.Counter
	heartbeatRTT prometheus.Histogram
	eventsTotal  *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "liveboard",
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "Connection state as one-hot gauge per status label.",
		}, []string{"status"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "liveboard",
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Number of reconnect cycles entered.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "liveboard",
			Subsystem: "realtime",
			Name:      "fallbacks_total",
			Help:      "Number of times the retry budget was exhausted and fallback polling engaged.",
		}),
		heartbeatRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "liveboard",
			Subsystem: "realtime",
			Name:      "heartbeat_rtt_seconds",
			Help:      "Heartbeat round-trip time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liveboard",
			Subsystem: "mirror",
			Name:      "change_events_total",
			Help:      "Change events dispatched per topic.",
		}, []string{"topic"}),
	}

	m.registry.MustRegister(
		m.connState,
		m.reconnects,
		m.fallbacks,
		m.heartbeatRTT,
		m.eventsTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// allStatuses enumerates the gauge's one-hot label values.
var allStatuses = []realtime.Status{
	realtime.StatusDisconnected,
	realtime.StatusConnecting,
	realtime.StatusConnected,
	realtime.StatusError,
	realtime.StatusReconnecting,
	realtime.StatusFallback,
}

// ObserveState records a connection state transition.
func (m *Metrics) ObserveState(s realtime.State) {
	for _, status := range allStatuses {
		v := 0.0
		if status == s.Status {
			v = 1.0
		}
		m.connState.WithLabelValues(string(status)).Set(v)
	}

	switch s.Status {
	case realtime.StatusReconnecting:
		m.reconnects.Inc()
	case realtime.StatusFallback:
		m.fallbacks.Inc()
	}
}

// ObserveHeartbeat records a heartbeat round-trip.
func (m *Metrics) ObserveHeartbeat(rtt time.Duration) {
	m.heartbeatRTT.Observe(rtt.Seconds())
}

// ObserveEvent records a dispatched change event.
func (m *Metrics) ObserveEvent(topic string) {
	m.eventsTotal.WithLabelValues(topic).Inc()
}
