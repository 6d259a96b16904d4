// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package swcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidCacheName is returned for cache names that cannot be stored.
var ErrInvalidCacheName = errors.New("swcache: invalid cache name")

// CachedResponse is a full (200) response stored under its canonical URL.
type CachedResponse struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"storedAt"`
}

// Storage holds named caches of responses.
type Storage interface {
	// Match returns nil on miss.
	Match(ctx context.Context, cache, key string) (*CachedResponse, error)
	Put(ctx context.Context, cache, key string, resp *CachedResponse) error
	Keys(ctx context.Context, cache string) ([]string, error)
	// DeleteCache reports whether the cache existed.
	DeleteCache(ctx context.Context, cache string) (bool, error)
	Caches(ctx context.Context) ([]string, error)
}

// CacheName is the versioned name of a cache.
func CacheName(prefix string, version int) string {
	return fmt.Sprintf("%s-v%d", prefix, version)
}

func validCacheName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidCacheName, name)
	}
	return nil
}

// MemoryStorage keeps caches in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	caches map[string]map[string]*CachedResponse
}

// NewMemoryStorage returns an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{caches: make(map[string]map[string]*CachedResponse)}
}

func (s *MemoryStorage) Match(_ context.Context, cache, key string) (*CachedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.caches[cache][key]
	if !ok {
		return nil, nil
	}
	return resp.clone(), nil
}

func (s *MemoryStorage) Put(_ context.Context, cache, key string, resp *CachedResponse) error {
	if err := validCacheName(cache); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[cache]
	if !ok {
		c = make(map[string]*CachedResponse)
		s.caches[cache] = c
	}
	c[key] = resp.clone()
	return nil
}

func (s *MemoryStorage) Keys(_ context.Context, cache string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.caches[cache]))
	for k := range s.caches[cache] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStorage) DeleteCache(_ context.Context, cache string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[cache]
	delete(s.caches, cache)
	return ok, nil
}

func (s *MemoryStorage) Caches(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for n := range s.caches {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (r *CachedResponse) clone() *CachedResponse {
	out := *r
	out.Header = r.Header.Clone()
	out.Body = append([]byte(nil), r.Body...)
	return &out
}
