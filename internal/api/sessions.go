// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/settings"
)

type teamAuthRequest struct {
	TeamID   string `json:"teamId"`
	TeamName string `json:"teamName"`
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "sessionID")
}

// withSession tags the request context with the session for logging.
func withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.ContextWithSessionID(r.Context(), sessionID(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleGetVideoSettings(w http.ResponseWriter, r *http.Request) {
	v, err := s.settings.LoadVideoSettings(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handlePutVideoSettings replaces the stored settings. LastTestedAt is kept
// from the stored value when the body omits it.
func (s *Server) handlePutVideoSettings(w http.ResponseWriter, r *http.Request) {
	var body settings.VideoSettings
	if !decodeJSON(w, r, &body) {
		return
	}
	if !body.VideoQuality.Valid() {
		writeError(w, r, settings.ErrInvalidQuality)
		return
	}
	v, err := s.settings.UpdateVideoSettings(r.Context(), sessionID(r), func(cur *settings.VideoSettings) {
		tested := cur.LastTestedAt
		*cur = body
		if cur.LastTestedAt == nil {
			cur.LastTestedAt = tested
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleMarkVideoTested(w http.ResponseWriter, r *http.Request) {
	v, err := s.settings.MarkVideoTested(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSaveTeamAuth(w http.ResponseWriter, r *http.Request) {
	var req teamAuthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TeamID == "" {
		writeProblem(w, r, http.StatusBadRequest, "invalid_team", "teamId is required")
		return
	}
	auth, err := s.settings.SaveTeamAuth(r.Context(), sessionID(r), req.TeamID, req.TeamName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, auth)
}

// handleGetTeamAuth answers 404 for a missing or expired login.
func (s *Server) handleGetTeamAuth(w http.ResponseWriter, r *http.Request) {
	auth, err := s.settings.LoadTeamAuth(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if auth == nil {
		writeProblem(w, r, http.StatusNotFound, "not_logged_in", "no valid team login for this session")
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

func (s *Server) handleClearTeamAuth(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.ClearTeamAuth(r.Context(), sessionID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
