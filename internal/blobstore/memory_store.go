// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package blobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
)

// MemoryStore implements Store using a map (thread-safe). It is used by
// tests and when persistence is disabled.
type MemoryStore struct {
	mu     sync.RWMutex
	clock  Clock
	data   map[string]*Entry
	closed bool
}

// NewMemoryStore creates an in-memory blob store.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = realClock{}
	}
	return &MemoryStore{clock: clock, data: make(map[string]*Entry)}
}

// Backend implements Store.
func (s *MemoryStore) Backend() string { return "memory" }

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, fileName string, data []byte, expiresAt time.Time) error {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[key] = &Entry{
		FileName:  key,
		Data:      append([]byte(nil), data...),
		ExpiresAt: expiresAt,
		StoredAt:  s.clock.Now(),
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, fileName string) (*Entry, error) {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.data[key]
	if !ok {
		metrics.RecordBlobLookup(s.Backend(), "miss")
		return nil, nil
	}
	if e.Expired(s.clock.Now()) {
		delete(s.data, key)
		metrics.RecordBlobLookup(s.Backend(), "expired")
		metrics.BlobExpiredDeletedTotal.Inc()
		return nil, nil
	}
	metrics.RecordBlobLookup(s.Backend(), "hit")
	clone := *e
	clone.Data = append([]byte(nil), e.Data...)
	return &clone, nil
}

// Has implements Store.
func (s *MemoryStore) Has(_ context.Context, fileName string) (bool, error) {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	return ok && !e.Expired(s.clock.Now()), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, fileName string) error {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*Entry)
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	count := 0
	for k, e := range s.data {
		if e.Expired(now) {
			delete(s.data, k)
			count++
		}
	}
	metrics.BlobExpiredDeletedTotal.Add(float64(count))
	return count, nil
}

// Keys implements Store.
func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.data = nil
	s.mu.Unlock()
	return nil
}
