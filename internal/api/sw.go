// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"

	"github.com/sirrus7/ready-or-not-sub011/internal/swcache"
)

func (s *Server) videoCacheDisabled(w http.ResponseWriter, r *http.Request) bool {
	if s.interceptor != nil && s.videoControl != nil {
		return false
	}
	writeProblem(w, r, http.StatusServiceUnavailable, "video_cache_disabled", "video cache is not enabled")
	return true
}

func (s *Server) handleVideoFetch(w http.ResponseWriter, r *http.Request) {
	if s.videoCacheDisabled(w, r) {
		return
	}
	s.interceptor.ServeHTTP(w, r)
}

// handleVideoControl relays a control message to the interceptor loop.
// SKIP_WAITING has no reply and is acknowledged with 202.
func (s *Server) handleVideoControl(w http.ResponseWriter, r *http.Request) {
	if s.videoCacheDisabled(w, r) {
		return
	}
	var msg swcache.ControlMessage
	if !decodeJSON(w, r, &msg) {
		return
	}
	switch msg.Type {
	case swcache.SkipWaiting:
		if err := s.videoControl.SkipWaiting(r.Context()); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", swcache.ErrNoReply, err))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	case swcache.ClearVideoCache, swcache.CacheStatus:
		reply, err := s.videoControl.Request(r.Context(), msg.Type)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	default:
		writeProblem(w, r, http.StatusBadRequest, "unknown_control", fmt.Sprintf("unknown control message %q", msg.Type))
	}
}
