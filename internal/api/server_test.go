// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirrus7/ready-or-not-sub011/internal/blobstore"
	"github.com/sirrus7/ready-or-not-sub011/internal/broadcast"
	"github.com/sirrus7/ready-or-not-sub011/internal/config"
	"github.com/sirrus7/ready-or-not-sub011/internal/content"
	"github.com/sirrus7/ready-or-not-sub011/internal/kvstore"
	"github.com/sirrus7/ready-or-not-sub011/internal/media"
	"github.com/sirrus7/ready-or-not-sub011/internal/settings"
	"github.com/sirrus7/ready-or-not-sub011/internal/swcache"
)

type originSigner struct{ base string }

func (s originSigner) SignedURL(_ context.Context, path string) (content.SignedURL, error) {
	return content.SignedURL{URL: s.base + "/" + path, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type staticLister []string

func (l staticLister) ListAssets(context.Context, string, string) ([]string, error) {
	return l, nil
}

type fixture struct {
	srv   *Server
	api   *httptest.Server
	media *media.Manager
}

type fixtureOptions struct {
	origin      http.HandlerFunc
	lister      content.Lister
	videoCache  bool
	pingEvery   time.Duration
	corsOrigins []string
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	if opts.origin == nil {
		opts.origin = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("payload:" + r.URL.Path))
		}
	}
	origin := httptest.NewServer(opts.origin)
	t.Cleanup(origin.Close)

	mgr, err := media.NewManager(media.Options{
		Store:      blobstore.NewMemoryStore(nil),
		Signer:     originSigner{base: origin.URL},
		Lister:     opts.lister,
		HTTPClient: origin.Client(),
	})
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.RateLimit.Enabled = false
	cfg.Telemetry.Enabled = false
	cfg.CORSOrigins = opts.corsOrigins
	if opts.pingEvery > 0 {
		cfg.Bus.PingInterval = opts.pingEvery
	}

	transport := broadcast.NewMemoryTransport()
	t.Cleanup(func() { _ = transport.Close() })

	deps := Deps{
		Config:    cfg,
		Media:     mgr,
		Settings:  settings.NewStore(kvstore.NewMemoryStore()),
		Transport: transport,
	}
	if opts.videoCache {
		ic, err := swcache.New(swcache.Options{Storage: swcache.NewMemoryStorage(), Client: origin.Client()})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ic.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			wg.Wait()
			ic.Close()
		})
		deps.Interceptor = ic
		deps.VideoControl = swcache.NewClient(ic, time.Second)
	}

	srv, err := New(deps)
	require.NoError(t, err)
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		api.Close()
	})
	return &fixture{srv: srv, api: api, media: mgr}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.api.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.api.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func requireProblem(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	p := decode[Problem](t, resp)
	assert.Equal(t, code, p.Error)
	assert.NotEmpty(t, p.RequestID)
}

func (f *fixture) waitBulkIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !f.media.IsBulkDownloadInProgress() && !f.srv.bulkRunning.Load()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBulk_DownloadsThenServesHandles(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp := f.do(t, http.MethodPost, "/api/media/bulk", BulkRequest{
		Version:  "v1",
		UserType: "host",
		Items:    []string{"slides/a.png", "slides/b.jpg"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 2, decode[BulkAccepted](t, resp).Total)
	f.waitBulkIdle(t)

	status := decode[BulkStatus](t, f.do(t, http.MethodGet, "/api/media/bulk?version=v1&userType=host", nil))
	assert.True(t, status.Complete)
	assert.False(t, status.InProgress)
	assert.Equal(t, 2, status.Progress.Downloaded)
	assert.Empty(t, status.Progress.Errors)

	other := decode[BulkStatus](t, f.do(t, http.MethodGet, "/api/media/bulk?version=v1&userType=team", nil))
	assert.False(t, other.Complete, "completion is tracked per version and user type")

	resolved := decode[ResolveResponse](t, f.do(t, http.MethodPost, "/api/media/resolve", map[string]string{"path": "slides/a.png"}))
	assert.True(t, strings.HasPrefix(resolved.Handle, media.HandlePrefix))

	got := f.do(t, http.MethodGet, resolved.URL, nil)
	require.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "image/png", got.Header.Get("Content-Type"))
	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload:/slides/a.png", string(body))
}

func TestServeMedia_Range(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	h, err := f.media.GetMedia(context.Background(), "clip.mp4")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, f.api.URL+"/media/"+h.Token(), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-6")
	resp, err := f.api.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("bytes 0-6/%d", len("payload:/clip.mp4")), resp.Header.Get("Content-Range"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "payload", string(body))
}

func TestBulk_ListsAssetsWithoutItems(t *testing.T) {
	f := newFixture(t, fixtureOptions{lister: staticLister{"one.mp4", "two.mp4", "three.mp4"}})

	resp := f.do(t, http.MethodPost, "/api/media/bulk", BulkRequest{Version: "v2", UserType: "team"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 3, decode[BulkAccepted](t, resp).Total)
	f.waitBulkIdle(t)
	assert.True(t, f.media.IsBulkDownloadComplete("v2", "team"))
}

func TestBulk_NoListerIsUnavailable(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	requireProblem(t, f.do(t, http.MethodPost, "/api/media/bulk", BulkRequest{Version: "v1"}),
		http.StatusServiceUnavailable, "content_unavailable")

	resp := f.do(t, http.MethodPost, "/api/media/bulk", BulkRequest{Version: "v1", Items: []string{"x.mp4"}})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "a failed start must not leave the slot taken")
	f.waitBulkIdle(t)
}

func TestBulk_ConflictAndCancel(t *testing.T) {
	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }

	f := newFixture(t, fixtureOptions{origin: func(w http.ResponseWriter, r *http.Request) {
		<-gate
		_, _ = w.Write([]byte("slow"))
	}})
	t.Cleanup(release)

	items := []string{"a.mp4", "b.mp4", "c.mp4", "d.mp4"}
	resp := f.do(t, http.MethodPost, "/api/media/bulk", BulkRequest{Version: "v1", UserType: "host", Items: items})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	requireProblem(t, f.do(t, http.MethodPost, "/api/media/bulk", BulkRequest{Version: "v1", Items: items}),
		http.StatusConflict, "bulk_in_progress")

	require.Eventually(t, f.media.IsBulkDownloadInProgress, 2*time.Second, 5*time.Millisecond)
	cancelled := decode[map[string]bool](t, f.do(t, http.MethodDelete, "/api/media/bulk", nil))
	assert.True(t, cancelled["cancelled"])

	release()
	f.waitBulkIdle(t)

	status := decode[BulkStatus](t, f.do(t, http.MethodGet, "/api/media/bulk?version=v1&userType=host", nil))
	assert.False(t, status.Complete)
	assert.Less(t, status.Progress.Downloaded, len(items))

	again := decode[map[string]bool](t, f.do(t, http.MethodDelete, "/api/media/bulk", nil))
	assert.False(t, again["cancelled"])
}

func TestClearCache_RevokesHandles(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	h, err := f.media.GetMedia(context.Background(), "clip.mp4")
	require.NoError(t, err)

	resp := f.do(t, http.MethodDelete, "/api/media/cache", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	requireProblem(t, f.do(t, http.MethodGet, "/media/"+h.Token(), nil), http.StatusNotFound, "unknown_handle")
}

func TestSignedURL(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	got := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/media/signed-url?path=deck/1.png", nil))
	assert.True(t, strings.HasSuffix(got["url"].(string), "/deck/1.png"))
	assert.Equal(t, false, got["cached"])

	requireProblem(t, f.do(t, http.MethodGet, "/api/media/signed-url", nil), http.StatusBadRequest, "invalid_path")
}

func TestVideoSettings_GetPut(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	def := decode[settings.VideoSettings](t, f.do(t, http.MethodGet, "/api/sessions/s1/video-settings", nil))
	assert.Equal(t, settings.DefaultVideoSettings(), def)

	put := f.do(t, http.MethodPut, "/api/sessions/s1/video-settings", settings.VideoSettings{
		HostVideoEnabled: false,
		VideoQuality:     settings.QualityHigh,
		UserOverride:     true,
	})
	require.Equal(t, http.StatusOK, put.StatusCode)

	got := decode[settings.VideoSettings](t, f.do(t, http.MethodGet, "/api/sessions/s1/video-settings", nil))
	assert.Equal(t, settings.QualityHigh, got.VideoQuality)
	assert.True(t, got.UserOverride)
	assert.False(t, got.HostVideoEnabled)

	other := decode[settings.VideoSettings](t, f.do(t, http.MethodGet, "/api/sessions/s2/video-settings", nil))
	assert.Equal(t, settings.DefaultVideoSettings(), other)

	requireProblem(t, f.do(t, http.MethodPut, "/api/sessions/s1/video-settings", map[string]any{"videoQuality": "ultra"}),
		http.StatusBadRequest, "invalid_quality")

	tested := decode[settings.VideoSettings](t, f.do(t, http.MethodPost, "/api/sessions/s1/video-settings/tested", nil))
	require.NotNil(t, tested.LastTestedAt)
	assert.Equal(t, settings.QualityHigh, tested.VideoQuality)
}

func TestTeamAuth_Lifecycle(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	path := "/api/sessions/s1/team-auth"

	requireProblem(t, f.do(t, http.MethodGet, path, nil), http.StatusNotFound, "not_logged_in")
	requireProblem(t, f.do(t, http.MethodPost, path, map[string]string{"teamName": "Red"}), http.StatusBadRequest, "invalid_team")

	created := f.do(t, http.MethodPost, path, map[string]string{"teamId": "t1", "teamName": "Red"})
	require.Equal(t, http.StatusCreated, created.StatusCode)

	auth := decode[settings.TeamAuth](t, f.do(t, http.MethodGet, path, nil))
	assert.Equal(t, "t1", auth.TeamID)
	assert.Equal(t, "Red", auth.TeamName)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path, nil).StatusCode)
	requireProblem(t, f.do(t, http.MethodGet, path, nil), http.StatusNotFound, "not_logged_in")
}

func TestInvalidBody(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	requireProblem(t, f.do(t, http.MethodPost, "/api/media/bulk", map[string]any{"bogus": 1}),
		http.StatusBadRequest, "invalid_body")
}

func TestVideoControl_Disabled(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	requireProblem(t, f.do(t, http.MethodPost, "/sw/control", swcache.ControlMessage{Type: swcache.CacheStatus}),
		http.StatusServiceUnavailable, "video_cache_disabled")
	requireProblem(t, f.do(t, http.MethodGet, "/sw/fetch?url=http://example.com/a.mp4", nil),
		http.StatusServiceUnavailable, "video_cache_disabled")
}

func TestVideoControl_Messages(t *testing.T) {
	f := newFixture(t, fixtureOptions{videoCache: true})

	status := decode[swcache.ControlReply](t, f.do(t, http.MethodPost, "/sw/control", swcache.ControlMessage{Type: swcache.CacheStatus}))
	require.NotNil(t, status.Cached)
	assert.Equal(t, 0, *status.Cached)
	assert.Equal(t, []string{}, status.URLs, "an empty cache still lists urls")

	cleared := decode[swcache.ControlReply](t, f.do(t, http.MethodPost, "/sw/control", swcache.ControlMessage{Type: swcache.ClearVideoCache}))
	require.NotNil(t, cleared.Success)
	assert.True(t, *cleared.Success)

	resp := f.do(t, http.MethodPost, "/sw/control", swcache.ControlMessage{Type: swcache.SkipWaiting})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, f.srv.interceptor.Active, 2*time.Second, 5*time.Millisecond)

	requireProblem(t, f.do(t, http.MethodPost, "/sw/control", swcache.ControlMessage{Type: "BOGUS"}),
		http.StatusBadRequest, "unknown_control")
}

func TestProbes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).StatusCode)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil).StatusCode)

	resp := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "ron_http_request_duration_seconds")
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}
