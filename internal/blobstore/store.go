// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package blobstore is the durable, process-shared cache of binary media.
//
// Entries are keyed by file name and carry an absolute expiry. Expiry is
// lazy: Get deletes and misses an entry whose expiry has passed, and
// CleanupExpired sweeps whatever is left when somebody asks it to. Nothing
// in this package runs in the background.
package blobstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrStorageUnavailable is returned when the backing store cannot be
	// opened. Callers are expected to continue without caching.
	ErrStorageUnavailable = errors.New("blob storage unavailable")
	// ErrInvalidKey is returned for empty file names.
	ErrInvalidKey = errors.New("blob file name is empty")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("blob store closed")
)

// Entry is one cached blob. Data is owned by the caller once returned.
type Entry struct {
	FileName  string
	Data      []byte
	ExpiresAt time.Time
	StoredAt  time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Store is the durable blob cache contract shared by all backends.
type Store interface {
	// Set inserts or replaces the entry for fileName.
	Set(ctx context.Context, fileName string, data []byte, expiresAt time.Time) error
	// Get returns nil on miss. Expired entries are deleted and reported as a miss.
	Get(ctx context.Context, fileName string) (*Entry, error)
	// Has reports whether a live (unexpired) entry exists without loading its data.
	Has(ctx context.Context, fileName string) (bool, error)
	Delete(ctx context.Context, fileName string) error
	Clear(ctx context.Context) error
	// CleanupExpired removes every entry whose expiry has passed.
	CleanupExpired(ctx context.Context) (int, error)
	// Keys lists the file names currently stored, expired or not.
	Keys(ctx context.Context) ([]string, error)
	Backend() string
	Close() error
}

// Clock abstracts time for expiry decisions.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NormalizeKey canonicalizes a file name so that the same asset fetched via
// differently-encoded paths maps to one entry.
func NormalizeKey(fileName string) (string, error) {
	key := strings.TrimSpace(fileName)
	if key == "" {
		return "", ErrInvalidKey
	}
	return norm.NFC.String(key), nil
}
