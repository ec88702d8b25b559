package omq

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/overlaymesh/omq/internal/peer"
)

// metrics is a handful of CounterVec/GaugeVec/HistogramVec instruments
// registered once at construction time.
type metrics struct {
	pending           *prometheus.GaugeVec
	inFlight          *prometheus.GaugeVec
	admissionDenied   *prometheus.CounterVec
	dispatchTotal     *prometheus.CounterVec
	suspendedPeers    prometheus.Gauge
	dispatchDuration  *prometheus.HistogramVec
}

// newMetrics builds and registers the OMQ's instruments against reg. A
// nil reg is replaced with a fresh registry so tests building more than
// one Queue don't collide on the process-global default registerer.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &metrics{
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "omq_pending_messages",
				Help: "Messages currently queued across all links, by node class.",
			},
			[]string{"class"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "omq_in_flight_messages",
				Help: "Messages currently dispatched and awaiting completion, by node class.",
			},
			[]string{"class"},
		),
		admissionDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omq_admission_denied_total",
				Help: "Enqueue attempts denied by the admission check, by node class.",
			},
			[]string{"class"},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omq_dispatch_total",
				Help: "Completed dispatches by node class and outcome (delivered|failed).",
			},
			[]string{"class", "outcome"},
		),
		suspendedPeers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "omq_suspended_peers",
				Help: "Number of (peer, kind) pairs currently under a failure cooldown.",
			},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "omq_dispatch_duration_seconds",
				Help: "Time from dispatch to completion callback.",
			},
			[]string{"class"},
		),
	}

	reg.MustRegister(m.pending, m.inFlight, m.admissionDenied, m.dispatchTotal, m.suspendedPeers, m.dispatchDuration)
	return m
}

func (m *metrics) observeAdmit(class peer.NodeClass, accepted bool) {
	if accepted {
		m.pending.WithLabelValues(string(class)).Inc()
	} else {
		m.admissionDenied.WithLabelValues(string(class)).Inc()
	}
}

func (m *metrics) decPending(class peer.NodeClass, n int) {
	if n > 0 {
		m.pending.WithLabelValues(string(class)).Sub(float64(n))
	}
}

func (m *metrics) observeDispatch(class peer.NodeClass) {
	m.pending.WithLabelValues(string(class)).Dec()
	m.inFlight.WithLabelValues(string(class)).Inc()
}

func (m *metrics) observeCompletion(class peer.NodeClass, delivered bool, suspended int) {
	m.inFlight.WithLabelValues(string(class)).Dec()
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	m.dispatchTotal.WithLabelValues(string(class), outcome).Inc()
	m.suspendedPeers.Set(float64(suspended))
}
