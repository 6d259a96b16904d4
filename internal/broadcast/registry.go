// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
)

type channelKey struct {
	sessionID string
	role      Role
}

type registryEntry struct {
	ch   *Channel
	refs int
}

// Registry hands out exactly one live Channel per (sessionID, role).
// Acquire is idempotent and reference counted; the channel closes when the
// last holder releases it.
type Registry struct {
	transport Transport

	mu       sync.Mutex
	channels map[channelKey]*registryEntry
	closed   bool
}

// NewRegistry creates a registry on top of t.
func NewRegistry(t Transport) *Registry {
	return &Registry{transport: t, channels: make(map[channelKey]*registryEntry)}
}

// Transport returns the underlying transport.
func (r *Registry) Transport() Transport { return r.transport }

// Acquire returns the shared channel for (sessionID, role), creating it on
// first use.
func (r *Registry) Acquire(ctx context.Context, sessionID string, role Role) (*Channel, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	key := channelKey{sessionID, role}

	// Subscribing under the lock keeps two first callers from creating two
	// channels for the same key.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrChannelClosed
	}
	if e, ok := r.channels[key]; ok {
		e.refs++
		return e.ch, nil
	}
	ch, err := NewChannel(ctx, r.transport, sessionID, role)
	if err != nil {
		return nil, err
	}
	r.channels[key] = &registryEntry{ch: ch, refs: 1}
	metrics.BusChannelsActive.Inc()
	return ch, nil
}

// Release drops one reference to ch and closes it when none remain.
func (r *Registry) Release(ch *Channel) error {
	if ch == nil {
		return nil
	}
	key := channelKey{ch.sessionID, ch.role}

	r.mu.Lock()
	e, ok := r.channels[key]
	if !ok || e.ch != ch {
		r.mu.Unlock()
		return nil
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.channels, key)
	r.mu.Unlock()

	metrics.BusChannelsActive.Dec()
	return ch.close()
}

// Len reports the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Close tears down every channel regardless of reference counts.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	entries := r.channels
	r.channels = make(map[channelKey]*registryEntry)
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		metrics.BusChannelsActive.Dec()
		errs = append(errs, e.ch.close())
	}
	return errors.Join(errs...)
}
