package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics defines the relay's Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	rooms          prometheus.Gauge
	endpoints      prometheus.Gauge
	signalsRelayed prometheus.Counter
	signalsDropped *prometheus.CounterVec
	joinsRejected  *prometheus.CounterVec
}

// NewMetrics creates the relay metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mxxc",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Number of rooms with at least one member.",
		}),
		endpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mxxc",
			Subsystem: "relay",
			Name:      "endpoints",
			Help:      "Number of connected endpoints.",
		}),
		signalsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mxxc",
			Subsystem: "relay",
			Name:      "signals_relayed_total",
			Help:      "Signal deliveries to room members.",
		}),
		signalsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mxxc",
			Subsystem: "relay",
			Name:      "signals_dropped_total",
			Help:      "Signals or deliveries that were dropped, by reason.",
		}, []string{"reason"}),
		joinsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mxxc",
			Subsystem: "relay",
			Name:      "joins_rejected_total",
			Help:      "Rejected room joins, by error code.",
		}, []string{"code"}),
	}

	reg.MustRegister(m.rooms, m.endpoints, m.signalsRelayed, m.signalsDropped, m.joinsRejected)
	return m
}

func (m *Metrics) setRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) setEndpoints(n int) {
	if m == nil {
		return
	}
	m.endpoints.Set(float64(n))
}

func (m *Metrics) relayed() {
	if m == nil {
		return
	}
	m.signalsRelayed.Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.signalsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) rejected(code string) {
	if m == nil {
		return
	}
	m.joinsRejected.WithLabelValues(code).Inc()
}
