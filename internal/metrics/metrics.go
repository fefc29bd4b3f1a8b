// Package metrics holds the prometheus collectors shared by the engine and
// its adapters. A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "vouchdesk"

type Metrics struct {
	PendingWaits     prometheus.Gauge
	SignalsPublished *prometheus.CounterVec
	SignalsMatched   *prometheus.CounterVec
	WaitOutcomes     *prometheus.CounterVec
	Reservations     *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PendingWaits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_waits",
			Help:      "Number of workflow waits currently registered on the event bus.",
		}),
		SignalsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_published_total",
			Help:      "Signals offered to the event bus.",
		}, []string{"kind"}),
		SignalsMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_matched_total",
			Help:      "Signals that resolved a pending wait.",
		}, []string{"kind"}),
		WaitOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wait_outcomes_total",
			Help:      "Resolved waits by outcome.",
		}, []string{"outcome"}),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Inventory reservations by result.",
		}, []string{"result"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Workflow state transitions.",
		}, []string{"workflow", "state"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notice_deliveries_total",
			Help:      "Outbound notices by result.",
		}, []string{"kind", "result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PendingWaits,
			m.SignalsPublished,
			m.SignalsMatched,
			m.WaitOutcomes,
			m.Reservations,
			m.Transitions,
			m.Deliveries,
		)
	}
	return m
}

func (m *Metrics) WaitRegistered() {
	if m == nil {
		return
	}
	m.PendingWaits.Inc()
}

func (m *Metrics) WaitRemoved() {
	if m == nil {
		return
	}
	m.PendingWaits.Dec()
}

func (m *Metrics) SignalPublished(kind string, matched bool) {
	if m == nil {
		return
	}
	m.SignalsPublished.WithLabelValues(kind).Inc()
	if matched {
		m.SignalsMatched.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) WaitResolved(outcome string) {
	if m == nil {
		return
	}
	m.WaitOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reservation(result string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(result).Inc()
}

func (m *Metrics) Transition(workflow, state string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(workflow, state).Inc()
}

func (m *Metrics) Delivery(kind, result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(kind, result).Inc()
}
