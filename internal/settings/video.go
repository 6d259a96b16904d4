// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package settings persists per-session client preferences: the host's
// video settings and a team device's cached login.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrus7/ready-or-not-sub011/internal/kvstore"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
)

var (
	// ErrInvalidSession is returned when a session id is required but empty.
	ErrInvalidSession = errors.New("settings: session id is required")
	// ErrInvalidQuality is returned for unknown video quality values.
	ErrInvalidQuality = errors.New("settings: invalid video quality")
)

// VideoQuality is the preferred rendition.
type VideoQuality string

const (
	QualityAuto   VideoQuality = "auto"
	QualityLow    VideoQuality = "low"
	QualityMedium VideoQuality = "medium"
	QualityHigh   VideoQuality = "high"
)

// Valid reports whether q is a known quality.
func (q VideoQuality) Valid() bool {
	switch q {
	case QualityAuto, QualityLow, QualityMedium, QualityHigh:
		return true
	}
	return false
}

// VideoSettings controls how the host console shows video.
type VideoSettings struct {
	HostVideoEnabled bool         `json:"hostVideoEnabled"`
	VideoQuality     VideoQuality `json:"videoQuality"`
	LastTestedAt     *time.Time   `json:"lastTestedAt,omitempty"`
	UserOverride     bool         `json:"userOverride"`
}

// DefaultVideoSettings is what a session starts with.
func DefaultVideoSettings() VideoSettings {
	return VideoSettings{HostVideoEnabled: true, VideoQuality: QualityAuto}
}

// VideoSettingsKey is the storage key for a session, or the global
// settings when sessionID is empty.
func VideoSettingsKey(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "videoSettings_global"
	}
	return "videoSettings_" + sessionID
}

// Store reads and writes settings in a kvstore.Store.
type Store struct {
	kv     kvstore.Store
	now    func() time.Time
	logger zerolog.Logger

	// mu serializes read-modify-write cycles.
	mu sync.Mutex
}

// Option customizes a Store.
type Option func(*Store)

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore wraps kv.
func NewStore(kv kvstore.Store, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now, logger: log.WithComponent("settings")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadVideoSettings returns the stored settings, creating and persisting
// the defaults on first load. Unreadable values are replaced by defaults.
func (s *Store) LoadVideoSettings(ctx context.Context, sessionID string) (VideoSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadVideoLocked(ctx, sessionID)
}

func (s *Store) loadVideoLocked(ctx context.Context, sessionID string) (VideoSettings, error) {
	key := VideoSettingsKey(sessionID)
	raw, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		v := DefaultVideoSettings()
		return v, s.saveVideoLocked(ctx, key, v)
	case err != nil:
		return VideoSettings{}, fmt.Errorf("load %s: %w", key, err)
	}

	v := DefaultVideoSettings()
	if err := json.Unmarshal([]byte(raw), &v); err != nil || !v.VideoQuality.Valid() {
		s.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("resetting unreadable video settings")
		v = DefaultVideoSettings()
		return v, s.saveVideoLocked(ctx, key, v)
	}
	return v, nil
}

// SaveVideoSettings replaces the stored settings.
func (s *Store) SaveVideoSettings(ctx context.Context, sessionID string, v VideoSettings) error {
	if !v.VideoQuality.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidQuality, v.VideoQuality)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveVideoLocked(ctx, VideoSettingsKey(sessionID), v)
}

// UpdateVideoSettings applies fn to the current settings and stores the
// result.
func (s *Store) UpdateVideoSettings(ctx context.Context, sessionID string, fn func(*VideoSettings)) (VideoSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.loadVideoLocked(ctx, sessionID)
	if err != nil {
		return VideoSettings{}, err
	}
	fn(&v)
	if !v.VideoQuality.Valid() {
		return VideoSettings{}, fmt.Errorf("%w: %q", ErrInvalidQuality, v.VideoQuality)
	}
	return v, s.saveVideoLocked(ctx, VideoSettingsKey(sessionID), v)
}

// MarkVideoTested records a successful playback test.
func (s *Store) MarkVideoTested(ctx context.Context, sessionID string) (VideoSettings, error) {
	now := s.now().UTC()
	return s.UpdateVideoSettings(ctx, sessionID, func(v *VideoSettings) {
		v.LastTestedAt = &now
	})
}

func (s *Store) saveVideoLocked(ctx context.Context, key string, v VideoSettings) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
