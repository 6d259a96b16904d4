// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirrus7/ready-or-not-sub011/internal/config"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
)

func memoryConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.Version = "test"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DataDir = t.TempDir()
	cfg.Media.Backend = "memory"
	cfg.Settings.Backend = "memory"
	cfg.VideoCache.Storage = "memory"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestOpen_MemoryBackends(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, memoryConfig(t))
	require.NoError(t, err)

	assert.NotNil(t, rt.Media)
	assert.NotNil(t, rt.Settings)
	assert.NotNil(t, rt.Transport)
	assert.NotNil(t, rt.Interceptor)
	assert.NotNil(t, rt.VideoControl)
	assert.Nil(t, rt.Redis)
	assert.Nil(t, rt.Telemetry)

	require.NoError(t, rt.Close(ctx))
	// Closers run once.
	require.NoError(t, rt.Close(ctx))
}

func TestOpen_VideoCacheDisabled(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.VideoCache.Enabled = false

	rt, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = rt.Close(context.Background()) }()

	assert.Nil(t, rt.Interceptor)
	assert.Nil(t, rt.VideoControl)
}

func TestOpen_UnknownBackends(t *testing.T) {
	cases := map[string]func(*config.AppConfig){
		"url cache":   func(c *config.AppConfig) { c.Content.URLCache = "memcached" },
		"bus":         func(c *config.AppConfig) { c.Bus.Transport = "nats" },
		"video cache": func(c *config.AppConfig) { c.VideoCache.Storage = "s3" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := memoryConfig(t)
			mutate(&cfg)
			_, err := Open(context.Background(), cfg)
			require.ErrorIs(t, err, ErrUnknownBackend)
		})
	}
}

func TestApp_RunServesUntilCancelled(t *testing.T) {
	cfg := memoryConfig(t)
	rt, err := Open(context.Background(), cfg)
	require.NoError(t, err)

	srv, err := rt.NewAPIServer()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	mgr, err := NewManager(ServerConfigFrom(cfg), Deps{
		Logger:     log.WithComponent("daemon"),
		APIHandler: srv.Handler(),
		Listener:   ln,
	})
	require.NoError(t, err)

	app := NewApp(log.WithComponent("daemon"), mgr, nil, rt, srv)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return rt.Interceptor.Active() }, 2*time.Second, 10*time.Millisecond)

	client := &http.Client{Timeout: 2 * time.Second}
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := client.Get("http://" + ln.Addr().String() + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestApp_RequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("daemon"), nil, nil, nil, nil)
	err := app.Run(context.Background())
	assert.True(t, errors.Is(err, ErrMissingManager))
}

func TestApp_ApplyConfigChangesLogLevel(t *testing.T) {
	t.Cleanup(func() { _ = log.SetLevel("info") })

	app := NewApp(log.WithComponent("daemon"), nil, nil, nil, nil)
	cfg := config.Defaults()
	cfg.LogLevel = "debug"
	app.applyConfig(cfg)

	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
