// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	configReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_config_reloads_total",
		Help: "Configuration reload attempts by result",
	}, []string{"result"}) // result=success|rejected

	configRestartRequired = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ron_config_restart_required",
		Help: "Whether the running configuration has changes that only take effect after a restart (1) or not (0)",
	})
)

// RecordConfigReload counts one reload attempt.
func RecordConfigReload(result string) { configReloadsTotal.WithLabelValues(result).Inc() }

func SetConfigRestartRequired(required bool) {
	if required {
		configRestartRequired.Set(1)
		return
	}
	configRestartRequired.Set(0)
}
