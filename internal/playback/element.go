// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback keeps the host console's video and the presentation
// display's video in step over a session channel.
//
// The host is authoritative: every user action lands on the local element
// first and is broadcast afterwards, and only while a presentation is
// connected. The presentation applies commands as they arrive and corrects
// drift from periodic sync commands, ignoring differences too small to see.
package playback

import (
	"context"
	"errors"

	"github.com/sirrus7/ready-or-not-sub011/internal/broadcast"
)

// ErrAutoplayBlocked wraps a rejected Play call. It is never fatal; the
// state machine has already been put back where it was.
var ErrAutoplayBlocked = errors.New("playback: play rejected")

// MediaElement is the video element being driven.
type MediaElement interface {
	// Play starts playback. An error means the platform refused (autoplay
	// policy) and the element did not start.
	Play() error
	Pause()
	Seek(seconds float64)
	CurrentTime() float64
	PlaybackRate() float64
	SetPlaybackRate(rate float64)
	Muted() bool
	SetMuted(muted bool)
	Volume() float64
	SetVolume(volume float64)
	Paused() bool
}

// HostBus is the part of a session channel the host controller uses.
type HostBus interface {
	SendCommand(ctx context.Context, action broadcast.Action, data *broadcast.CommandData) (broadcast.HostCommand, error)
	OnPresentationStatus(fn func(broadcast.PresentationStatus)) (unsubscribe func())
	OnAck(fn func(broadcast.Ack)) (unsubscribe func())
}

// PresentationBus is the part of a session channel the presentation uses.
type PresentationBus interface {
	OnHostCommand(fn func(broadcast.HostCommand)) (unsubscribe func())
	SendPresentationStatus(ctx context.Context, ready bool) error
	SendAck(ctx context.Context, commandID string) error
}

var (
	_ HostBus         = (*broadcast.Channel)(nil)
	_ PresentationBus = (*broadcast.Channel)(nil)
)
