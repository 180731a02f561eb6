// Package metrics exposes the Brain's Prometheus collectors: signal
// throughput, queue depth, breaker state, DEFCON level, and reconciliation
// confidence. Registered against the default registry and served by the
// api package's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brainhouse/capital-brain/pkg/types"
)

var (
	// DecisionsTotal counts processed signals by phase and outcome.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brain_decisions_total",
		Help: "Total signals processed by the admission pipeline, by phase and outcome.",
	}, []string{"phase", "approved"})

	// QueueDepth tracks the current pending-signal backlog.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brain_queue_depth",
		Help: "Current depth of the signal admission priority queue.",
	})

	// DefconLevel tracks the current governance health level (0=NORMAL..3=CRITICAL).
	DefconLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brain_defcon_level",
		Help: "Current DEFCON governance level: 0=NORMAL, 1=ELEVATED, 2=HIGH, 3=CRITICAL.",
	})

	// BreakerState tracks the circuit breaker state as a one-hot gauge vector.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "brain_circuit_breaker_state",
		Help: "1 for the circuit breaker's current state, 0 otherwise.",
	}, []string{"state"})

	// ReconciliationConfidence tracks the Brain's belief that its book matches
	// exchange/database reality, per scope.
	ReconciliationConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "brain_reconciliation_confidence",
		Help: "Current truth-confidence score [0,1] per reconciliation scope.",
	}, []string{"scope"})
)

// ObserveDecision increments the decisions counter for a processed signal.
func ObserveDecision(phase types.PhaseID, approved bool) {
	DecisionsTotal.WithLabelValues(string(phase), approvedLabel(approved)).Inc()
}

// ObserveBreakerState sets the one-hot breaker state gauge.
func ObserveBreakerState(state types.BreakerState) {
	for _, s := range []types.BreakerState{types.BreakerClosed, types.BreakerTripped, types.BreakerCooldown} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		BreakerState.WithLabelValues(string(s)).Set(value)
	}
}

func approvedLabel(approved bool) string {
	if approved {
		return "true"
	}
	return "false"
}
