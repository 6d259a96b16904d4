// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media resolves slide media to local handles and drives bulk
// pre-fetch into the durable blob store.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sirrus7/ready-or-not-sub011/internal/blobstore"
	"github.com/sirrus7/ready-or-not-sub011/internal/content"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
	"github.com/sirrus7/ready-or-not-sub011/internal/platform/httpx"
	"github.com/sirrus7/ready-or-not-sub011/internal/telemetry"
)

const (
	// DefaultCacheTTL is how long downloaded media stays valid in the blob store.
	DefaultCacheTTL = 7 * 24 * time.Hour
	// DefaultMaxObjectBytes bounds a single download.
	DefaultMaxObjectBytes int64 = 2 << 30
)

var (
	// ErrDownloadFailed wraps non-2xx download responses.
	ErrDownloadFailed = errors.New("media download failed")
	// ErrTooLarge is returned when a payload exceeds the configured limit.
	ErrTooLarge = errors.New("media payload too large")
	// ErrNoLister is returned when a version listing is requested without a Lister.
	ErrNoLister = errors.New("media manager has no asset lister")
)

// StatusError carries the HTTP status of a failed download.
type StatusError struct {
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s (HTTP %d)", ErrDownloadFailed, e.Path, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrDownloadFailed }

// Invalidator is implemented by signers that cache URLs.
type Invalidator interface {
	Invalidate(ctx context.Context, path string)
}

// Options configures a Manager.
type Options struct {
	Store          blobstore.Store
	Signer         content.Signer
	Lister         content.Lister // optional, needed for BulkDownloadVersion
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	MaxObjectBytes int64
	Now            func() time.Time
}

// Manager decides between memory handles, the durable store and the network.
// At most one network fetch per file name is in flight at any time.
type Manager struct {
	store    blobstore.Store
	signer   content.Signer
	lister   content.Lister
	http     *http.Client
	ttl      time.Duration
	maxBytes int64
	now      func() time.Time
	handles  *Registry
	fetches  singleflight.Group
	logger   zerolog.Logger

	// clearMu orders store writes against ClearBulkDownloadCache.
	clearMu sync.RWMutex
	bulk    bulkState
}

// NewManager builds a Manager. Store and Signer are required.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("media: store is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("media: signer is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpx.Traced(httpx.NewStreamingClient(), "media")
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.MaxObjectBytes <= 0 {
		opts.MaxObjectBytes = DefaultMaxObjectBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		store:    opts.Store,
		signer:   opts.Signer,
		lister:   opts.Lister,
		http:     opts.HTTPClient,
		ttl:      opts.CacheTTL,
		maxBytes: opts.MaxObjectBytes,
		now:      opts.Now,
		handles:  NewRegistry(),
		logger:   log.WithComponent("media"),
	}
	m.bulk.completed = make(map[bulkKey]uint64)
	return m, nil
}

// Handles exposes the handle registry for serving.
func (m *Manager) Handles() *Registry { return m.handles }

// Store exposes the durable store for serving persisted handles.
func (m *Manager) Store() blobstore.Store { return m.store }

// GetSignedURL returns a time-limited download URL for path.
func (m *Manager) GetSignedURL(ctx context.Context, path string) (string, error) {
	su, err := m.signer.SignedURL(ctx, path)
	if err != nil {
		return "", err
	}
	return su.URL, nil
}

// GetMedia resolves path to a local handle: live handle, then durable
// store, then network. Storage failures degrade to a memory-only handle.
func (m *Manager) GetMedia(ctx context.Context, path string) (h Handle, err error) {
	key, err := blobstore.NormalizeKey(path)
	if err != nil {
		return "", err
	}
	if h, ok := m.handles.Lookup(key); ok {
		return h, nil
	}

	ctx, finish := telemetry.Start(ctx, "ron.media", "media.get", telemetry.MediaAttributes(key, "")...)
	defer func() { finish(err) }()

	entry, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn().Err(err).Str(log.FieldFileName, key).Msg("blob lookup failed, falling back to network")
	}
	if entry != nil {
		return m.handles.Ensure(key, nil), nil
	}

	res, err := m.fetch(ctx, key)
	if err != nil {
		return "", err
	}
	var inMemory []byte
	if !res.persisted {
		inMemory = res.data
	}
	return m.handles.Ensure(key, inMemory), nil
}

// IsCached reports whether path has a live entry in the durable store.
func (m *Manager) IsCached(ctx context.Context, path string) bool {
	key, err := blobstore.NormalizeKey(path)
	if err != nil {
		return false
	}
	ok, err := m.store.Has(ctx, key)
	return err == nil && ok
}

type fetchResult struct {
	data      []byte
	persisted bool
}

// fetch downloads key once per concurrent burst and persists it. Callers
// that join an in-flight fetch share its result. The download itself is
// detached from the first caller's cancellation.
func (m *Manager) fetch(ctx context.Context, key string) (fetchResult, error) {
	ch := m.fetches.DoChan(key, func() (any, error) {
		return m.download(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return fetchResult{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			metrics.MediaFetchesTotal.WithLabelValues("shared").Inc()
		}
		if r.Err != nil {
			return fetchResult{}, r.Err
		}
		return r.Val.(fetchResult), nil
	}
}

func (m *Manager) download(ctx context.Context, key string) (res fetchResult, err error) {
	ctx, finish := telemetry.Start(ctx, "ron.media", "media.download", telemetry.MediaAttributes(key, "network")...)
	defer func() { finish(err) }()

	gen := m.cacheGeneration()
	start := time.Now()
	data, err := m.downloadSigned(ctx, key)
	if err != nil && isAuthFailure(err) {
		// Signed URL expired mid-flight; re-sign once.
		if inv, ok := m.signer.(Invalidator); ok {
			inv.Invalidate(ctx, key)
		}
		m.logger.Debug().Str(log.FieldFileName, key).Msg("download refused, re-signing")
		data, err = m.downloadSigned(ctx, key)
	}
	if err != nil {
		metrics.MediaFetchesTotal.WithLabelValues("error").Inc()
		return fetchResult{}, err
	}
	metrics.MediaFetchesTotal.WithLabelValues("ok").Inc()
	metrics.MediaFetchBytes.Add(float64(len(data)))
	metrics.MediaFetchDuration.Observe(time.Since(start).Seconds())

	res = fetchResult{data: data}
	res.persisted, err = m.persist(ctx, gen, key, data)
	if err != nil {
		m.logger.Warn().Err(err).Str(log.FieldFileName, key).Msg("could not persist media, serving from memory")
	}
	return res, nil
}

// persist stores data unless the cache was cleared after the download began.
func (m *Manager) persist(ctx context.Context, gen uint64, key string, data []byte) (bool, error) {
	m.clearMu.RLock()
	defer m.clearMu.RUnlock()
	if m.cacheGeneration() != gen {
		m.logger.Debug().Str(log.FieldFileName, key).Msg("cache cleared during download, not persisting")
		return false, nil
	}
	if err := m.store.Set(ctx, key, data, m.now().Add(m.ttl)); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) downloadSigned(ctx context.Context, key string) ([]byte, error) {
	su, err := m.signer.SignedURL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", key, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, su.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Path: key, Status: resp.StatusCode}
	}
	if resp.ContentLength > m.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, key, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if int64(len(data)) > m.maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, key)
	}
	return data, nil
}

func isAuthFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden
	}
	return false
}

// Revoke drops the live handle for path, if any.
func (m *Manager) Revoke(path string) {
	if key, err := blobstore.NormalizeKey(path); err == nil {
		m.handles.Revoke(key)
	}
}

// Open returns the payload behind a handle token.
func (m *Manager) Open(ctx context.Context, token string) (fileName string, data []byte, err error) {
	fileName, data, ok := m.handles.Resolve(token)
	if !ok {
		return "", nil, ErrUnknownHandle
	}
	if data != nil {
		return fileName, data, nil
	}
	entry, err := m.store.Get(ctx, fileName)
	if err != nil {
		return fileName, nil, err
	}
	if entry == nil {
		// Expired or cleared underneath the handle.
		m.handles.Revoke(fileName)
		return fileName, nil, ErrUnknownHandle
	}
	return fileName, entry.Data, nil
}

// ErrUnknownHandle is returned for revoked or never-issued handles.
var ErrUnknownHandle = errors.New("unknown media handle")
