// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirrus7/ready-or-not-sub011/internal/platform/httpx"
	"github.com/sirrus7/ready-or-not-sub011/internal/telemetry"
)

const (
	defaultSignExpiry = time.Hour
	defaultTimeout    = 5 * time.Second
	listPageSize      = 1000
	maxErrorBody      = 512
)

// Options configures HTTPClient.
type Options struct {
	BaseURL    string
	Bucket     string
	APIKey     string
	ExpiresIn  time.Duration // requested validity of signed URLs
	Timeout    time.Duration
	HTTPClient *http.Client // optional, replaces the traced default
	Now        func() time.Time
}

// HTTPClient implements Signer and Lister against a storage REST API.
//
//	POST {base}/object/sign/{bucket}/{path}   {"expiresIn": secs} -> {"signedURL": "...", "expiresIn": secs}
//	POST {base}/object/list/{bucket}          {"prefix": "...", "limit": n, "offset": n} -> [{"name": "...", "id": "..."}]
type HTTPClient struct {
	base      *url.URL
	bucket    string
	apiKey    string
	expiresIn time.Duration
	http      *http.Client
	now       func() time.Time
}

// NewHTTPClient validates opts and builds a client.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("content: invalid base URL %q", opts.BaseURL)
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("content: bucket is required")
	}
	if opts.ExpiresIn <= 0 {
		opts.ExpiresIn = defaultSignExpiry
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = httpx.Traced(httpx.NewClient(opts.Timeout), "content")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &HTTPClient{
		base:      base,
		bucket:    opts.Bucket,
		apiKey:    opts.APIKey,
		expiresIn: opts.ExpiresIn,
		http:      hc,
		now:       now,
	}, nil
}

type signRequest struct {
	ExpiresIn int64 `json:"expiresIn"`
}

type signResponse struct {
	SignedURL string `json:"signedURL"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
}

// SignedURL implements Signer.
func (c *HTTPClient) SignedURL(ctx context.Context, path string) (SignedURL, error) {
	clean, err := cleanPath(path)
	if err != nil {
		return SignedURL{}, err
	}

	issuedAt := c.now()
	var res signResponse
	body := signRequest{ExpiresIn: int64(c.expiresIn / time.Second)}
	if err := c.post(ctx, "sign", "/object/sign/"+c.bucket+"/"+escapePath(clean), body, &res); err != nil {
		return SignedURL{}, err
	}
	if res.SignedURL == "" {
		return SignedURL{}, &Error{Sentinel: ErrBadResponse, Operation: "sign", Err: fmt.Errorf("empty signedURL")}
	}

	ref, err := url.Parse(res.SignedURL)
	if err != nil {
		return SignedURL{}, &Error{Sentinel: ErrBadResponse, Operation: "sign", Err: err}
	}
	resolved := ref
	if !ref.IsAbs() {
		// Relative URLs are rooted at the storage API base.
		resolved = c.base.JoinPath(ref.EscapedPath())
		resolved.RawQuery = ref.RawQuery
	}

	validity := c.expiresIn
	if res.ExpiresIn > 0 {
		validity = time.Duration(res.ExpiresIn) * time.Second
	}
	return SignedURL{URL: resolved.String(), ExpiresAt: issuedAt.Add(validity)}, nil
}

type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type listEntry struct {
	Name string  `json:"name"`
	ID   *string `json:"id"`
}

// ListAssets implements Lister. Assets live under "<version>/<userType>/";
// folder placeholders (entries without an id) are skipped.
func (c *HTTPClient) ListAssets(ctx context.Context, version, userType string) ([]string, error) {
	prefix, err := cleanPath(version + "/" + userType)
	if err != nil {
		return nil, err
	}

	var paths []string
	for offset := 0; ; offset += listPageSize {
		var page []listEntry
		req := listRequest{Prefix: prefix, Limit: listPageSize, Offset: offset}
		if err := c.post(ctx, "list", "/object/list/"+c.bucket, req, &page); err != nil {
			return nil, err
		}
		for _, e := range page {
			if e.ID == nil || e.Name == "" {
				continue
			}
			paths = append(paths, prefix+"/"+e.Name)
		}
		if len(page) < listPageSize {
			return paths, nil
		}
	}
}

func (c *HTTPClient) post(ctx context.Context, op, route string, in, out any) (err error) {
	target := c.base.JoinPath(route)
	ctx, finish := telemetry.Start(ctx, "ron.content", "content."+op,
		telemetry.HTTPAttributes(http.MethodPost, "/object/"+op, target.Redacted(), 0)...)
	defer func() { finish(err) }()

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("content: encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return &Error{Sentinel: ErrUpstreamUnavailable, Operation: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Sentinel: ErrUpstreamUnavailable, Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if sentinel := StatusSentinel(resp.StatusCode); sentinel != nil {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{Sentinel: sentinel, Operation: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(snippet)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Sentinel: ErrBadResponse, Operation: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func cleanPath(p string) (string, error) {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return p, nil
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
