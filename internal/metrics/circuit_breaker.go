// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker states as exported in the state label.
var breakerStates = [...]string{"closed", "half-open", "open"}

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ron_circuit_breaker_state",
		Help: "1 for the current state of each breaker, 0 for the others",
	}, []string{"component", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_circuit_breaker_trips_total",
		Help: "Transitions to open by component and cause",
	}, []string{"component", "reason"}) // reason=threshold_exceeded|half_open_failure

	circuitBreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_circuit_breaker_rejections_total",
		Help: "Calls failed fast because the breaker was open",
	}, []string{"component"})
)

// SetCircuitBreakerState marks state as the only active state of component.
func SetCircuitBreakerState(component, state string) {
	for _, s := range breakerStates {
		var v float64
		if s == state {
			v = 1
		}
		circuitBreakerState.WithLabelValues(component, s).Set(v)
	}
}

func RecordCircuitBreakerTrip(component, reason string) {
	circuitBreakerTrips.WithLabelValues(component, reason).Inc()
}

func RecordCircuitBreakerRejection(component string) {
	circuitBreakerRejections.WithLabelValues(component).Inc()
}
