// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package broadcast is the per-session message bus between the host console,
// the presentation display and team devices.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSession is returned for an empty session id.
	ErrInvalidSession = errors.New("broadcast: session id is required")
	// ErrInvalidRole is returned for roles other than host, presentation and team.
	ErrInvalidRole = errors.New("broadcast: invalid role")
	// ErrWrongRole is returned when a role sends a message type it does not own.
	ErrWrongRole = errors.New("broadcast: message type not allowed for role")
	// ErrInvalidAction is returned for unknown host command actions.
	ErrInvalidAction = errors.New("broadcast: invalid command action")
	// ErrChannelClosed is returned by a released or closed channel.
	ErrChannelClosed = errors.New("broadcast: channel closed")
)

// Role identifies the kind of participant in a session.
type Role string

const (
	RoleHost         Role = "host"
	RolePresentation Role = "presentation"
	RoleTeam         Role = "team"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleHost, RolePresentation, RoleTeam:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Action is a host command verb.
type Action string

const (
	ActionPlay              Action = "play"
	ActionPause             Action = "pause"
	ActionSeek              Action = "seek"
	ActionSync              Action = "sync"
	ActionVolume            Action = "volume"
	ActionReset             Action = "reset"
	ActionClosePresentation Action = "close_presentation"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionSeek, ActionSync, ActionVolume, ActionReset, ActionClosePresentation:
		return true
	}
	return false
}

// CommandData carries the optional playback fields of a command. Only plain
// values, so every command survives a JSON round trip unchanged.
type CommandData struct {
	Time         *float64 `json:"time,omitempty"`
	PlaybackRate *float64 `json:"playbackRate,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`
	Muted        *bool    `json:"muted,omitempty"`
}

// HostCommand is one host to presentation instruction.
type HostCommand struct {
	ID     string       `json:"id"`
	Action Action       `json:"action"`
	Data   *CommandData `json:"data,omitempty"`
}

// PresentationStatus is the presentation's readiness heartbeat.
type PresentationStatus struct {
	Ready bool `json:"ready"`
}

// Ack correlates a processed command.
type Ack struct {
	CommandID string `json:"commandId"`
}

// MessageType tags an Envelope.
type MessageType string

const (
	TypeHostCommand        MessageType = "host_command"
	TypePresentationStatus MessageType = "presentation_status"
	TypeAck                MessageType = "ack"
)

// Envelope is the wire form of every bus message.
type Envelope struct {
	Type      MessageType         `json:"type"`
	SessionID string              `json:"sessionId"`
	Role      Role                `json:"role"`
	Sender    string              `json:"sender"`
	Timestamp int64               `json:"timestamp"`
	Command   *HostCommand        `json:"command,omitempty"`
	Status    *PresentationStatus `json:"status,omitempty"`
	Ack       *Ack                `json:"ack,omitempty"`
}

// Validate checks that the envelope is well-formed and that its role is
// allowed to send its type.
func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeHostCommand:
		if e.Role != RoleHost {
			return fmt.Errorf("%w: %s cannot send %s", ErrWrongRole, e.Role, e.Type)
		}
		if e.Command == nil || !e.Command.Action.Valid() {
			return ErrInvalidAction
		}
	case TypePresentationStatus:
		if e.Role != RolePresentation {
			return fmt.Errorf("%w: %s cannot send %s", ErrWrongRole, e.Role, e.Type)
		}
		if e.Status == nil {
			return fmt.Errorf("broadcast: %s without status", e.Type)
		}
	case TypeAck:
		if e.Ack == nil || e.Ack.CommandID == "" {
			return fmt.Errorf("broadcast: %s without command id", e.Type)
		}
	default:
		return fmt.Errorf("broadcast: unknown message type %q", e.Type)
	}
	return nil
}

// TopicFor returns the bus topic for a session.
func TopicFor(sessionID string) string {
	return "ron-session-" + sessionID
}

func encodeEnvelope(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Float is a helper for building CommandData.
func Float(v float64) *float64 { return &v }

// Bool is a helper for building CommandData.
func Bool(v bool) *bool { return &v }
