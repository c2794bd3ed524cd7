package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are shared by every session of a process. A nil *Metrics records
// nothing.
type Metrics struct {
	events     *prometheus.CounterVec
	facts      *prometheus.CounterVec
	cartridges *prometheus.CounterVec
	sessions   prometheus.Gauge
	halts      prometheus.Counter
}

// NewMetrics registers the orchestrator metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "castaway_events_total",
			Help: "Events dispatched, partitioned by type class and outcome.",
		}, []string{"class", "outcome"}),
		facts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "castaway_facts_appended_total",
			Help: "Facts appended to session ledgers, partitioned by type.",
		}, []string{"type"}),
		cartridges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "castaway_cartridges_total",
			Help: "Cartridge lifecycle transitions, partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "castaway_active_sessions",
			Help: "Sessions with a running orchestrator.",
		}),
		halts: f.NewCounter(prometheus.CounterOpts{
			Name: "castaway_orchestrator_halts_total",
			Help: "Orchestrators stopped by a fatal ledger error.",
		}),
	}
}

func (m *Metrics) event(class, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) fact(t string) {
	if m == nil {
		return
	}
	m.facts.WithLabelValues(t).Inc()
}

func (m *Metrics) cartridge(kind, outcome string) {
	if m == nil {
		return
	}
	m.cartridges.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) sessionStopped() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

func (m *Metrics) halted() {
	if m == nil {
		return
	}
	m.halts.Inc()
}
