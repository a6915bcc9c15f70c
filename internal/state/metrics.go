package state

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts synchronization events. A nil *Metrics records nothing.
type Metrics struct {
	writes          *prometheus.CounterVec
	writeFailures   *prometheus.CounterVec
	echoes          prometheus.Counter
	remoteMerges    prometheus.Counter
	invalidPayloads prometheus.Counter
	connected       prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missioncontrol",
			Name:      "state_writes_total",
			Help:      "Documents written, by destination.",
		}, []string{"destination"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "missioncontrol",
			Name:      "state_write_failures_total",
			Help:      "Document writes that failed, by destination.",
		}, []string{"destination"}),
		echoes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "missioncontrol",
			Name:      "state_echoes_suppressed_total",
			Help:      "Remote notifications dropped as echoes of a local write.",
		}),
		remoteMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "missioncontrol",
			Name:      "state_remote_merges_total",
			Help:      "Remote documents adopted into local state.",
		}),
		invalidPayloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "missioncontrol",
			Name:      "state_invalid_payloads_total",
			Help:      "Remote documents discarded by structural validation.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "missioncontrol",
			Name:      "state_connected",
			Help:      "1 while the remote document store is connected.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.writes, m.writeFailures, m.echoes, m.remoteMerges, m.invalidPayloads, m.connected)
	}
	return m
}

func (m *Metrics) wrote(destination string) {
	if m != nil {
		m.writes.WithLabelValues(destination).Inc()
	}
}

func (m *Metrics) writeFailed(destination string) {
	if m != nil {
		m.writeFailures.WithLabelValues(destination).Inc()
	}
}

func (m *Metrics) echoSuppressed() {
	if m != nil {
		m.echoes.Inc()
	}
}

func (m *Metrics) merged() {
	if m != nil {
		m.remoteMerges.Inc()
	}
}

func (m *Metrics) invalidPayload() {
	if m != nil {
		m.invalidPayloads.Inc()
	}
}

func (m *Metrics) setConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
