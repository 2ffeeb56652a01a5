// Package observability exposes the prometheus collectors incremented by the
// state-machine services and external-system clients.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit",
		Name:      "state_transitions_total",
		Help:      "State machine transitions applied, by aggregate and edge.",
	}, []string{"aggregate", "from", "to"})

	TransitionRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit",
		Name:      "state_transition_rejections_total",
		Help:      "Transitions rejected by precondition checks.",
	}, []string{"aggregate", "code"})

	ExternalCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit",
		Name:      "external_calls_total",
		Help:      "Outbound Ahjo/Talpa calls by outcome.",
	}, []string{"system", "outcome"})

	RecoveryCalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "benefit",
		Name:      "recovery_calculations_total",
		Help:      "Recovery calculator invocations by cache outcome.",
	}, []string{"cache"})
)

func RecordTransition(aggregate, from, to string) {
	TransitionsTotal.WithLabelValues(aggregate, from, to).Inc()
}

func RecordRejection(aggregate, code string) {
	TransitionRejectionsTotal.WithLabelValues(aggregate, code).Inc()
}

func RecordExternalCall(system string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ExternalCallsTotal.WithLabelValues(system, outcome).Inc()
}
