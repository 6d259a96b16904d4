// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler, now time.Time) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(Options{
		BaseURL:    srv.URL + "/storage/v1",
		Bucket:     "media",
		APIKey:     "secret",
		ExpiresIn:  10 * time.Minute,
		HTTPClient: srv.Client(),
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)
	return c
}

func TestHTTPClient_SignedURL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var gotPath, gotAuth string
	var gotBody signRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(signResponse{SignedURL: "/object/sign/media/v2/host/slide%201.mp4?token=abc"})
	}), now)

	su, err := c.SignedURL(context.Background(), "/v2/host/slide 1.mp4")
	require.NoError(t, err)

	assert.Equal(t, "/storage/v1/object/sign/media/v2/host/slide%201.mp4", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, int64(600), gotBody.ExpiresIn)
	assert.Contains(t, su.URL, "/storage/v1/object/sign/media/v2/host/slide%201.mp4?token=abc")
	assert.Equal(t, now.Add(10*time.Minute), su.ExpiresAt)
}

func TestHTTPClient_SignedURL_ResponseExpiryWins(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(signResponse{SignedURL: "https://cdn.example/a.mp4?t=1", ExpiresIn: 60})
	}), now)

	su, err := c.SignedURL(context.Background(), "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.mp4?t=1", su.URL)
	assert.Equal(t, now.Add(time.Minute), su.ExpiresAt)
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusBadGateway, ErrUpstreamError},
		{http.StatusTeapot, ErrBadResponse},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}), time.Now())
			_, err := c.SignedURL(context.Background(), "a.mp4")
			require.ErrorIs(t, err, tt.want)

			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.status, cerr.Status)
		})
	}
}

func TestHTTPClient_RejectsBadPaths(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler(), time.Now())
	for _, p := range []string{"", "  ", "../etc/passwd", "a//b", "a/./b"} {
		_, err := c.SignedURL(context.Background(), p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestHTTPClient_ListAssetsPaginates(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req listRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "2.0/host", req.Prefix)
		calls++

		id := "x"
		var page []listEntry
		if req.Offset == 0 {
			for i := 0; i < listPageSize; i++ {
				page = append(page, listEntry{Name: fmt.Sprintf("s%04d.mp4", i), ID: &id})
			}
		} else {
			page = []listEntry{{Name: "last.jpg", ID: &id}, {Name: "folder", ID: nil}}
		}
		_ = json.NewEncoder(w).Encode(page)
	}), time.Now())

	paths, err := c.ListAssets(context.Background(), "2.0", "host")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, paths, listPageSize+1)
	assert.Equal(t, "2.0/host/s0000.mp4", paths[0])
	assert.Equal(t, "2.0/host/last.jpg", paths[len(paths)-1])
}

func TestNewHTTPClient_Validation(t *testing.T) {
	_, err := NewHTTPClient(Options{BaseURL: "not a url", Bucket: "b"})
	assert.Error(t, err)
	_, err = NewHTTPClient(Options{BaseURL: "http://x"})
	assert.Error(t, err)
}
