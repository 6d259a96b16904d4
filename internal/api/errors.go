// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirrus7/ready-or-not-sub011/internal/blobstore"
	"github.com/sirrus7/ready-or-not-sub011/internal/broadcast"
	"github.com/sirrus7/ready-or-not-sub011/internal/content"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/media"
	"github.com/sirrus7/ready-or-not-sub011/internal/resilience"
	"github.com/sirrus7/ready-or-not-sub011/internal/settings"
	"github.com/sirrus7/ready-or-not-sub011/internal/swcache"
)

// Problem is the JSON error body of every failed API call.
type Problem struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, code int, errCode, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Problem{
		Error:     errCode,
		Detail:    detail,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// writeError maps domain errors onto HTTP statuses. Anything unknown is a
// logged 500 without internal detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, settings.ErrInvalidSession),
		errors.Is(err, broadcast.ErrInvalidSession):
		writeProblem(w, r, http.StatusBadRequest, "invalid_session", err.Error())
	case errors.Is(err, broadcast.ErrInvalidRole):
		writeProblem(w, r, http.StatusBadRequest, "invalid_role", err.Error())
	case errors.Is(err, blobstore.ErrInvalidKey), errors.Is(err, content.ErrInvalidPath):
		writeProblem(w, r, http.StatusBadRequest, "invalid_path", err.Error())
	case errors.Is(err, settings.ErrInvalidQuality):
		writeProblem(w, r, http.StatusBadRequest, "invalid_quality", err.Error())
	case errors.Is(err, media.ErrBulkInProgress):
		writeProblem(w, r, http.StatusConflict, "bulk_in_progress", err.Error())
	case errors.Is(err, media.ErrUnknownHandle):
		writeProblem(w, r, http.StatusNotFound, "unknown_handle", err.Error())
	case errors.Is(err, content.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, content.ErrNotConfigured), errors.Is(err, media.ErrNoLister),
		errors.Is(err, resilience.ErrCircuitOpen):
		writeProblem(w, r, http.StatusServiceUnavailable, "content_unavailable", err.Error())
	case errors.Is(err, swcache.ErrNoReply):
		writeProblem(w, r, http.StatusGatewayTimeout, "video_cache_timeout", err.Error())
	case errors.Is(err, media.ErrTooLarge):
		writeProblem(w, r, http.StatusBadGateway, "too_large", err.Error())
	case errors.Is(err, media.ErrDownloadFailed), content.IsBackendFailure(err):
		writeProblem(w, r, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str(log.FieldPath, r.URL.Path).Msg("request failed")
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}

// decodeJSON reads a bounded JSON body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}
