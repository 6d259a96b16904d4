// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_bus_published_total",
		Help: "Total number of session bus messages published by message type",
	}, []string{"type"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_bus_dropped_total",
		Help: "Total number of session bus message drops by transport and reason",
	}, []string{"transport", "reason"})

	BusChannelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ron_bus_channels_active",
		Help: "Number of live session channels held in the registry",
	})

	BusBridgesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ron_bus_bridges_active",
		Help: "Number of open WebSocket bridges onto the session bus by role",
	}, []string{"role"})
)

// IncBusPublished records a published envelope of the given message type.
func IncBusPublished(msgType string) {
	if msgType == "" {
		msgType = "unknown"
	}
	BusPublishedTotal.WithLabelValues(msgType).Inc()
}

// IncBusDropReason records a dropped bus message with a concrete reason.
func IncBusDropReason(transport, reason string) {
	if transport == "" {
		transport = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(transport, reason).Inc()
}
