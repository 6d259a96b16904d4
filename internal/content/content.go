// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package content talks to the remote storage service that authorizes media
// downloads with short-lived signed URLs and lists the assets of a game
// version.
package content

import (
	"context"
	"time"
)

// SignedURL is a time-limited download URL.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// Valid reports whether the URL can still be used at now with margin to spare.
func (s SignedURL) Valid(now time.Time, margin time.Duration) bool {
	return s.URL != "" && now.Add(margin).Before(s.ExpiresAt)
}

// Signer issues signed URLs for object paths.
type Signer interface {
	SignedURL(ctx context.Context, path string) (SignedURL, error)
}

// Lister enumerates the media paths required by a game version and user type.
type Lister interface {
	ListAssets(ctx context.Context, version, userType string) ([]string, error)
}

// Unconfigured stands in when no content backend is configured. Cached
// media still resolves; anything needing the network fails.
type Unconfigured struct{}

func (Unconfigured) SignedURL(context.Context, string) (SignedURL, error) {
	return SignedURL{}, ErrNotConfigured
}

func (Unconfigured) ListAssets(context.Context, string, string) ([]string, error) {
	return nil, ErrNotConfigured
}
