// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LivenessTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_liveness_transitions_total",
		Help: "Connection liveness state changes by observer role and new state",
	}, []string{"role", "state"})

	PlaybackCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_playback_commands_total",
		Help: "Playback commands by side (sent, applied) and action",
	}, []string{"side", "action"})

	PlaybackDriftCorrectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ron_playback_drift_corrections_total",
		Help: "Sync commands that moved the presentation playhead",
	})

	PlaybackAutoplayBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_playback_autoplay_blocked_total",
		Help: "Rejected play() calls by role",
	}, []string{"role"})

	VideoCacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_video_cache_requests_total",
		Help: "Video cache intercept outcomes (hit, miss, range_hit, range_fill, range_passthrough, bypass)",
	}, []string{"outcome"})
)

// RecordLivenessTransition increments the liveness transition counter.
func RecordLivenessTransition(role, state string) {
	LivenessTransitionsTotal.WithLabelValues(role, state).Inc()
}

// RecordPlaybackCommand increments the playback command counter.
func RecordPlaybackCommand(side, action string) {
	PlaybackCommandsTotal.WithLabelValues(side, action).Inc()
}

// RecordVideoCache increments the intercept outcome counter.
func RecordVideoCache(outcome string) {
	VideoCacheRequestsTotal.WithLabelValues(outcome).Inc()
}
