// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package swcache is a caching proxy for slide videos. It stores whole
// objects once and answers byte-range requests from the stored copy, the
// way the browser's service worker does for the game client.
package swcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
	netpolicy "github.com/sirrus7/ready-or-not-sub011/internal/platform/net"
	"github.com/sirrus7/ready-or-not-sub011/internal/platform/httpx"
)

const (
	DefaultPrefix         = "ron-video-cache"
	DefaultVersion        = 1
	DefaultMaxObjectBytes = 512 << 20
	revalidateTimeout     = 5 * time.Minute
)

// DefaultExtensions are the media types worth caching.
var DefaultExtensions = []string{".mp4", ".webm", ".mov", ".m4v", ".ogv"}

// Options configures an Interceptor.
type Options struct {
	Storage Storage
	Prefix  string
	Version int
	Client  *http.Client

	Extensions []string
	// AllowedHosts lists origins whose media may be cached. A leading dot
	// matches every subdomain.
	AllowedHosts []string
	// AllowedPathPrefixes restricts cached paths; empty allows any path.
	AllowedPathPrefixes []string
	// AllowedCIDRs lets ServeHTTP reach allowlisted hosts that resolve to
	// loopback or private addresses.
	AllowedCIDRs   []string
	MaxObjectBytes int64
	Now            func() time.Time
}

// Interceptor serves video requests from a versioned cache. Until
// Activate is called every request goes straight to the network.
type Interceptor struct {
	storage   Storage
	prefix    string
	cacheName string
	client    *http.Client
	exts      map[string]struct{}
	hosts     *netpolicy.HostAllowlist
	outbound  netpolicy.OutboundPolicy
	paths     []string
	maxBytes  int64
	now       func() time.Time
	logger    zerolog.Logger

	active atomic.Bool
	fills  singleflight.Group

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	inbox chan envelope
}

// New validates opts and returns an inactive interceptor.
func New(opts Options) (*Interceptor, error) {
	if opts.Storage == nil {
		return nil, errors.New("swcache: storage is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Version <= 0 {
		opts.Version = DefaultVersion
	}
	if opts.Client == nil {
		opts.Client = httpx.Traced(httpx.NewStreamingClient(), "swcache")
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.MaxObjectBytes <= 0 {
		opts.MaxObjectBytes = DefaultMaxObjectBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	hosts, err := netpolicy.NewHostAllowlist(opts.AllowedHosts)
	if err != nil {
		return nil, fmt.Errorf("swcache: allowed hosts: %w", err)
	}
	cidrs, err := netpolicy.ParseCIDRs(opts.AllowedCIDRs)
	if err != nil {
		return nil, fmt.Errorf("swcache: allowed cidrs: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	return &Interceptor{
		storage:   opts.Storage,
		prefix:    opts.Prefix,
		cacheName: CacheName(opts.Prefix, opts.Version),
		client:    opts.Client,
		exts:      exts,
		hosts:     hosts,
		outbound:  netpolicy.OutboundPolicy{Hosts: hosts, CIDRs: cidrs},
		paths:     opts.AllowedPathPrefixes,
		maxBytes:  opts.MaxObjectBytes,
		now:       opts.Now,
		logger:    log.WithComponent("swcache"),
		bgCtx:     bgCtx,
		bgCancel:  cancel,
		inbox:     make(chan envelope, 16),
	}, nil
}

// CacheName returns the name of the cache this version writes to.
func (i *Interceptor) CacheName() string { return i.cacheName }

// Active reports whether Activate has run.
func (i *Interceptor) Active() bool { return i.active.Load() }

// Activate deletes every other cache version sharing the prefix and starts
// intercepting. It returns the names of the deleted caches.
func (i *Interceptor) Activate(ctx context.Context) ([]string, error) {
	names, err := i.storage.Caches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	var deleted []string
	for _, n := range names {
		if n == i.cacheName || !strings.HasPrefix(n, i.prefix+"-v") {
			continue
		}
		if _, err := i.storage.DeleteCache(ctx, n); err != nil {
			return deleted, fmt.Errorf("delete cache %s: %w", n, err)
		}
		deleted = append(deleted, n)
	}
	if !i.active.Swap(true) {
		i.logger.Info().Str(log.FieldCache, i.cacheName).Strs("deleted", deleted).Msg("video cache activated")
	}
	return deleted, nil
}

// Close stops background revalidation and waits for it to finish.
func (i *Interceptor) Close() {
	i.bgCancel()
	i.bg.Wait()
}

// CanonicalKey is the cache key of a request URL: no query, no fragment.
// Signed media URLs carry rotating tokens in the query, so two requests for
// the same object share one entry.
func CanonicalKey(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	c.RawFragment = ""
	c.Host = strings.ToLower(c.Host)
	return c.String()
}

// ShouldIntercept reports whether req is a cacheable video request.
func (i *Interceptor) ShouldIntercept(req *http.Request) bool {
	if req.Method != http.MethodGet || req.URL == nil {
		return false
	}
	if _, ok := i.exts[strings.ToLower(path.Ext(req.URL.Path))]; !ok {
		return false
	}
	if !i.hosts.Allows(req.URL.Hostname()) {
		return false
	}
	if len(i.paths) == 0 {
		return true
	}
	for _, p := range i.paths {
		if strings.HasPrefix(req.URL.Path, p) {
			return true
		}
	}
	return false
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	if !i.active.Load() || !i.ShouldIntercept(req) {
		metrics.RecordVideoCache("bypass")
		return i.client.Do(req)
	}
	key := CanonicalKey(req.URL)
	if rng := req.Header.Get("Range"); rng != "" {
		return i.serveRange(req, key, rng)
	}
	return i.serveFull(req, key)
}

func (i *Interceptor) serveFull(req *http.Request, key string) (*http.Response, error) {
	ctx := req.Context()
	if cached := i.lookup(ctx, key); cached != nil {
		metrics.RecordVideoCache("hit")
		i.revalidate(req, key)
		return fullResponse(req, cached), nil
	}

	metrics.RecordVideoCache("miss")
	resp, err := i.client.Do(stripRange(req))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	if resp.ContentLength > i.maxBytes {
		return resp, nil
	}
	body, complete, err := readUpTo(resp.Body, i.maxBytes)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if !complete {
		// Too big to cache; hand back what was read plus the rest.
		resp.Body = readCloser{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return resp, nil
	}
	_ = resp.Body.Close()

	entry := i.entryFrom(key, resp, body)
	i.put(ctx, key, entry)
	return fullResponse(req, entry), nil
}

func (i *Interceptor) serveRange(req *http.Request, key, rng string) (*http.Response, error) {
	ctx := req.Context()
	if cached := i.lookup(ctx, key); cached != nil {
		metrics.RecordVideoCache("range_hit")
		return rangeResponse(req, cached, rng), nil
	}

	entry, err := i.fill(req, key)
	if err != nil {
		i.logger.Debug().Err(err).Str(log.FieldURL, key).Msg("range fill failed, forwarding request")
		metrics.RecordVideoCache("range_passthrough")
		return i.client.Do(req)
	}
	metrics.RecordVideoCache("range_fill")
	return rangeResponse(req, entry, rng), nil
}

// fill downloads the whole object once, however many range requests are
// waiting for it.
func (i *Interceptor) fill(req *http.Request, key string) (*CachedResponse, error) {
	ch := i.fills.DoChan(key, func() (any, error) {
		ctx := context.WithoutCancel(req.Context())
		entry, err := i.download(ctx, req, key)
		if err != nil {
			return nil, err
		}
		i.put(ctx, key, entry)
		return entry, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CachedResponse), nil
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
}

// download fetches the full object without a Range header.
func (i *Interceptor) download(ctx context.Context, req *http.Request, key string) (*CachedResponse, error) {
	full := stripRange(req.WithContext(ctx))
	resp, err := i.client.Do(full)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("swcache: fetch %s: HTTP %d", key, resp.StatusCode)
	}
	if resp.ContentLength > i.maxBytes {
		return nil, fmt.Errorf("swcache: %s is %d bytes, limit %d", key, resp.ContentLength, i.maxBytes)
	}
	body, complete, err := readUpTo(resp.Body, i.maxBytes)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("swcache: %s exceeds %d bytes", key, i.maxBytes)
	}
	return i.entryFrom(key, resp, body), nil
}

// revalidate refreshes a cached entry in the background.
func (i *Interceptor) revalidate(req *http.Request, key string) {
	if i.bgCtx.Err() != nil {
		return
	}
	i.bg.Add(1)
	go func() {
		defer i.bg.Done()
		ctx, cancel := context.WithTimeout(i.bgCtx, revalidateTimeout)
		defer cancel()
		_, err, _ := i.fills.Do(key, func() (any, error) {
			entry, err := i.download(ctx, req, key)
			if err != nil {
				return nil, err
			}
			i.put(ctx, key, entry)
			return entry, nil
		})
		if err != nil {
			i.logger.Debug().Err(err).Str(log.FieldURL, key).Msg("background revalidation failed")
		}
	}()
}

func (i *Interceptor) lookup(ctx context.Context, key string) *CachedResponse {
	cached, err := i.storage.Match(ctx, i.cacheName, key)
	if err != nil {
		i.logger.Warn().Err(err).Str(log.FieldURL, key).Msg("cache lookup failed")
		return nil
	}
	return cached
}

func (i *Interceptor) put(ctx context.Context, key string, entry *CachedResponse) {
	if err := i.storage.Put(ctx, i.cacheName, key, entry); err != nil {
		i.logger.Warn().Err(err).Str(log.FieldURL, key).Msg("cache write failed")
		return
	}
	i.logger.Debug().Str(log.FieldURL, key).Int(log.FieldBytes, len(entry.Body)).Msg("cached video")
}

func (i *Interceptor) entryFrom(key string, resp *http.Response, body []byte) *CachedResponse {
	h := resp.Header.Clone()
	for _, k := range []string{"Content-Length", "Content-Range", "Transfer-Encoding", "Connection", "Set-Cookie"} {
		h.Del(k)
	}
	return &CachedResponse{URL: key, Status: http.StatusOK, Header: h, Body: body, StoredAt: i.now()}
}

func fullResponse(req *http.Request, c *CachedResponse) *http.Response {
	h := c.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Length", strconv.Itoa(len(c.Body)))
	h.Set("Accept-Ranges", "bytes")
	return newResponse(req, http.StatusOK, h, c.Body)
}

// rangeResponse synthesizes a 206 (or 416) from a stored full object.
func rangeResponse(req *http.Request, c *CachedResponse, header string) *http.Response {
	size := int64(len(c.Body))
	r, err := ParseRange(header, size)
	switch {
	case errors.Is(err, ErrMultiRange):
		// A server may ignore a Range it does not support.
		return fullResponse(req, c)
	case err != nil:
		h := http.Header{}
		h.Set("Content-Range", UnsatisfiedRange(size))
		h.Set("Content-Length", "0")
		return newResponse(req, http.StatusRequestedRangeNotSatisfiable, h, nil)
	}

	h := c.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Range", ContentRange(r, size))
	h.Set("Content-Length", strconv.FormatInt(r.Len(), 10))
	h.Set("Accept-Ranges", "bytes")
	return newResponse(req, http.StatusPartialContent, h, c.Body[r.Start:r.End+1])
}

func newResponse(req *http.Request, status int, h http.Header, body []byte) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func stripRange(req *http.Request) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Del("Range")
	out.Header.Del("If-Range")
	return out
}

// readUpTo reads at most limit bytes. complete is false when more remained.
func readUpTo(r io.Reader, limit int64) (data []byte, complete bool, err error) {
	data, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data, false, nil
	}
	return data, true, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
