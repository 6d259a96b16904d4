// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package swcache

import (
	"io"
	"net/http"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	netpolicy "github.com/sirrus7/ready-or-not-sub011/internal/platform/net"
)

var forwardedHeaders = []string{"Range", "If-Range", "Accept", "Accept-Encoding", "User-Agent"}

// ServeHTTP proxies GET ?url=<absolute media URL> through the cache. Targets
// outside the intercept allowlist are refused.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target, ok := netpolicy.ParseDirectHTTPURL(r.URL.Query().Get("url"))
	if !ok {
		http.Error(w, "url must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}

	out, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		http.Error(w, "bad url", http.StatusBadRequest)
		return
	}
	// Only cacheable media on allowlisted origins is fetched on a caller's
	// behalf; everything else is the browser's own request.
	if !i.ShouldIntercept(out) {
		http.Error(w, "url not allowed", http.StatusForbidden)
		return
	}
	if err := netpolicy.ValidateOutboundURL(r.Context(), target, i.outbound); err != nil {
		logger := log.WithContext(r.Context(), i.logger)
		logger.Warn().Err(err).
			Str(log.FieldURL, netpolicy.SanitizeURL(target.String())).
			Msg("video fetch refused")
		http.Error(w, "url not allowed", http.StatusForbidden)
		return
	}
	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			out.Header.Set(h, v)
		}
	}

	resp, err := i.RoundTrip(out)
	if err != nil {
		logger := log.WithContext(r.Context(), i.logger)
		logger.Warn().Err(err).
			Str(log.FieldURL, netpolicy.SanitizeURL(target.String())).
			Msg("video fetch failed")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(w, resp.Body)
}
