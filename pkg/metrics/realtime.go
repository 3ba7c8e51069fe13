package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics tracks the notification hub's connection and delivery counts.
type RealtimeMetrics struct {
	connections prometheus.Gauge
	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
}

// NewRealtimeMetrics registers hub metrics on the provided registerer.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	if reg == nil {
		return &RealtimeMetrics{}
	}
	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_open_connections",
		Help: "Currently open realtime connections.",
	})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_published",
		Help: "Events handed to the hub for delivery.",
	}, []string{"type"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_dropped",
		Help: "Events dropped because a connection buffer was full or closed.",
	}, []string{"type"})
	reg.MustRegister(connections, published, dropped)
	return &RealtimeMetrics{
		connections: connections,
		published:   published,
		dropped:     dropped,
	}
}

// ConnectionOpened increments the open-connection gauge.
func (m *RealtimeMetrics) ConnectionOpened() {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed decrements the open-connection gauge.
func (m *RealtimeMetrics) ConnectionClosed() {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Dec()
}

// IncPublished counts an event handed to the hub.
func (m *RealtimeMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncDropped counts an event that could not be delivered to a connection.
func (m *RealtimeMetrics) IncDropped(eventType string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(eventType)).Inc()
}
