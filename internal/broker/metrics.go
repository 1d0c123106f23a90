package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes broker state to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Connections is the number of open websocket connections.
	Connections prometheus.Gauge

	// OnlineUsers is the number of users with a live presence entry.
	OnlineUsers prometheus.Gauge

	// Rooms is the number of non-empty conversation rooms.
	Rooms prometheus.Gauge

	// Events counts inbound events.
	// Labels: type, result (handled|dropped)
	Events *prometheus.CounterVec

	// Deliveries counts frames queued to connections.
	// Labels: scope (room|presence|direct)
	Deliveries *prometheus.CounterVec

	// SlowPeers counts connections dropped because their send queue filled.
	SlowPeers prometheus.Counter
}

// NewMetrics registers the broker metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_broker_connections",
			Help: "Number of open websocket connections",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_broker_online_users",
			Help: "Number of users currently online",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_broker_rooms",
			Help: "Number of non-empty conversation rooms",
		}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_broker_events_total",
			Help: "Inbound events by type and result",
		}, []string{"type", "result"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_broker_deliveries_total",
			Help: "Frames queued to connections by scope",
		}, []string{"scope"}),
		SlowPeers: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_broker_slow_peers_total",
			Help: "Connections dropped because their send queue was full",
		}),
	}
}

func (m *Metrics) event(eventType, result string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) delivered(scope string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Deliveries.WithLabelValues(scope).Add(float64(n))
}

func (m *Metrics) slowPeer() {
	if m == nil {
		return
	}
	m.SlowPeers.Inc()
}

func (m *Metrics) observe(conns *ConnectionRegistry, rooms *RoomRegistry) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(conns.Count()))
	m.OnlineUsers.Set(float64(conns.OnlineCount()))
	m.Rooms.Set(float64(rooms.Count()))
}
