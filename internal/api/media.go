// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/media"
)

// BulkRequest starts a bulk download. Without Items the asset list for
// Version and UserType is fetched from the content backend.
type BulkRequest struct {
	Version  string   `json:"version"`
	UserType string   `json:"userType"`
	Items    []string `json:"items,omitempty"`
}

// BulkStatus is returned by GET /api/media/bulk.
type BulkStatus struct {
	Progress   media.BulkProgress `json:"progress"`
	InProgress bool               `json:"inProgress"`
	Complete   bool               `json:"complete"`
}

// BulkAccepted acknowledges a started bulk download.
type BulkAccepted struct {
	Version  string `json:"version"`
	UserType string `json:"userType"`
	Total    int    `json:"total"`
}

// ResolveResponse names the handle of a resolved media path and where the
// bytes can be fetched.
type ResolveResponse struct {
	Handle string `json:"handle"`
	URL    string `json:"url"`
}

type resolveRequest struct {
	Path string `json:"path"`
}

// SetBulkConcurrency changes the worker count of bulk downloads started
// from now on.
func (s *Server) SetBulkConcurrency(n int) {
	s.bulkConcurrency.Store(int64(n))
}

func (s *Server) handleStartBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.bulkRunning.CompareAndSwap(false, true) {
		writeError(w, r, media.ErrBulkInProgress)
		return
	}
	started := false
	defer func() {
		if !started {
			s.bulkRunning.Store(false)
		}
	}()
	if s.media.IsBulkDownloadInProgress() {
		writeError(w, r, media.ErrBulkInProgress)
		return
	}

	items := req.Items
	if items == nil {
		var err error
		if items, err = s.media.ListAssets(r.Context(), req.Version, req.UserType); err != nil {
			writeError(w, r, err)
			return
		}
	}

	opts := media.BulkOptions{
		Concurrency: int(s.bulkConcurrency.Load()),
		Version:     req.Version,
		UserType:    req.UserType,
	}
	logger := log.WithComponentFromContext(r.Context(), "api.media")
	started = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.bulkRunning.Store(false)
		_, err := s.media.BulkDownloadAllMedia(s.rootCtx, items, opts)
		if err != nil && !errors.Is(err, media.ErrBulkCancelled) {
			logger.Warn().Err(err).Str("version", req.Version).Msg("bulk download ended early")
		}
	}()

	writeJSON(w, http.StatusAccepted, BulkAccepted{
		Version:  req.Version,
		UserType: req.UserType,
		Total:    len(items),
	})
}

func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, BulkStatus{
		Progress:   s.media.BulkProgress(),
		InProgress: s.media.IsBulkDownloadInProgress(),
		Complete:   s.media.IsBulkDownloadComplete(q.Get("version"), q.Get("userType")),
	})
}

func (s *Server) handleCancelBulk(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.media.CancelBulkDownload()})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.media.ClearBulkDownloadCache(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeProblem(w, r, http.StatusBadRequest, "invalid_path", "path is required")
		return
	}
	h, err := s.media.GetMedia(r.Context(), req.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResolveResponse{Handle: h.String(), URL: "/media/" + h.Token()})
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if strings.TrimSpace(p) == "" {
		writeProblem(w, r, http.StatusBadRequest, "invalid_path", "path is required")
		return
	}
	u, err := s.media.GetSignedURL(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": u, "cached": s.media.IsCached(r.Context(), p)})
}

// handleServeMedia streams the bytes behind a handle. Range requests are
// answered by http.ServeContent.
func (s *Server) handleServeMedia(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.media.Open(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, no-cache")
	http.ServeContent(w, r, path.Base(name), time.Time{}, bytes.NewReader(data))
}
