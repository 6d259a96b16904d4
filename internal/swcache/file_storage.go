// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package swcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

const (
	metaSuffix = ".meta"
	bodySuffix = ".body"
)

// FileStorage keeps one directory per cache and two files per response.
// The body is committed before its metadata, so a visible entry always has
// a complete body.
type FileStorage struct {
	root string
	mu   sync.RWMutex
}

// NewFileStorage uses root, creating it if needed.
func NewFileStorage(root string) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStorage{root: root}, nil
}

func entryName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (s *FileStorage) cacheDir(cache string) (string, error) {
	if err := validCacheName(cache); err != nil {
		return "", err
	}
	return filepath.Join(s.root, cache), nil
}

func (s *FileStorage) Match(ctx context.Context, cache, key string) (*CachedResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.cacheDir(cache)
	if err != nil {
		return nil, err
	}
	base := filepath.Join(dir, entryName(key))

	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := os.ReadFile(base + metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache metadata: %w", err)
	}
	var resp CachedResponse
	if err := json.Unmarshal(meta, &resp); err != nil {
		return nil, fmt.Errorf("decode cache metadata: %w", err)
	}
	if resp.URL != key {
		return nil, nil
	}
	body, err := os.ReadFile(base + bodySuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache body: %w", err)
	}
	resp.Body = body
	return &resp, nil
}

func (s *FileStorage) Put(ctx context.Context, cache, key string, resp *CachedResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.cacheDir(cache)
	if err != nil {
		return err
	}
	meta := *resp
	meta.URL = key
	encoded, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	base := filepath.Join(dir, entryName(key))
	if err := renameio.WriteFile(base+bodySuffix, resp.Body, 0o640); err != nil {
		return fmt.Errorf("write cache body: %w", err)
	}
	if err := renameio.WriteFile(base+metaSuffix, encoded, 0o640); err != nil {
		return fmt.Errorf("write cache metadata: %w", err)
	}
	return nil
}

func (s *FileStorage) Keys(ctx context.Context, cache string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.cacheDir(cache)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), metaSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var meta CachedResponse
		if json.Unmarshal(raw, &meta) == nil && meta.URL != "" {
			keys = append(keys, meta.URL)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStorage) DeleteCache(ctx context.Context, cache string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.cacheDir(cache)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete cache: %w", err)
	}
	return true, nil
}

func (s *FileStorage) Caches(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
