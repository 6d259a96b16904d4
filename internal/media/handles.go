// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// HandlePrefix marks process-local media handles.
const HandlePrefix = "blob:"

// Handle is a process-local reference to resolved media. Handles are minted
// fresh on every registration and never persisted; they stop resolving once
// revoked.
type Handle string

func (h Handle) String() string { return string(h) }

// Token returns the handle without its prefix, suitable for URL paths.
func (h Handle) Token() string { return strings.TrimPrefix(string(h), HandlePrefix) }

type handleEntry struct {
	fileName string
	// data is set only when the payload could not be persisted and has to
	// be served from memory.
	data []byte
}

// Registry maps file names to live handles.
type Registry struct {
	mu     sync.RWMutex
	byFile map[string]Handle
	byTok  map[string]handleEntry
}

// NewRegistry creates an empty handle registry.
func NewRegistry() *Registry {
	return &Registry{
		byFile: make(map[string]Handle),
		byTok:  make(map[string]handleEntry),
	}
}

// Register mints a handle for fileName, revoking any previous one.
func (r *Registry) Register(fileName string, inMemory []byte) Handle {
	h := Handle(HandlePrefix + uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byFile[fileName]; ok {
		delete(r.byTok, old.Token())
	}
	r.byFile[fileName] = h
	r.byTok[h.Token()] = handleEntry{fileName: fileName, data: inMemory}
	return h
}

// Ensure returns the live handle for fileName, registering one if absent.
func (r *Registry) Ensure(fileName string, inMemory []byte) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byFile[fileName]; ok {
		return h
	}
	h := Handle(HandlePrefix + uuid.NewString())
	r.byFile[fileName] = h
	r.byTok[h.Token()] = handleEntry{fileName: fileName, data: inMemory}
	return h
}

// Lookup returns the live handle for fileName.
func (r *Registry) Lookup(fileName string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byFile[fileName]
	return h, ok
}

// Resolve maps a handle token back to its file name and, for memory-only
// handles, its payload.
func (r *Registry) Resolve(token string) (fileName string, data []byte, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byTok[strings.TrimPrefix(token, HandlePrefix)]
	return e.fileName, e.data, ok
}

// Revoke drops the handle for fileName.
func (r *Registry) Revoke(fileName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byFile[fileName]; ok {
		delete(r.byTok, h.Token())
		delete(r.byFile, fileName)
	}
}

// RevokeAll drops every handle and returns how many were live.
func (r *Registry) RevokeAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.byFile)
	r.byFile = make(map[string]Handle)
	r.byTok = make(map[string]handleEntry)
	return n
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byFile)
}
