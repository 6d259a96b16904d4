// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"github.com/rs/zerolog"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
)

// State is the lifecycle state of one video element.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
)

// Event is either a local media event or the effect of a command.
type Event string

const (
	EvLoad    Event = "load"
	EvCanPlay Event = "canplay"
	EvPlay    Event = "play"
	EvPause   Event = "pause"
	EvSeek    Event = "seek"
	EvEnded   Event = "ended"
	EvReset   Event = "reset"
)

// Transition is a single allowed edge in the element state machine.
type Transition struct {
	From  State
	Event Event
	To    State
}

var transitionsTable = []Transition{
	{From: StateIdle, Event: EvLoad, To: StateLoading},

	{From: StateLoading, Event: EvCanPlay, To: StateReady},
	{From: StateLoading, Event: EvPlay, To: StatePlaying},
	{From: StateLoading, Event: EvLoad, To: StateLoading},

	{From: StateReady, Event: EvPlay, To: StatePlaying},
	{From: StateReady, Event: EvPause, To: StatePaused},
	{From: StateReady, Event: EvSeek, To: StateReady},
	{From: StateReady, Event: EvReset, To: StatePaused},
	{From: StateReady, Event: EvLoad, To: StateLoading},

	{From: StatePlaying, Event: EvPlay, To: StatePlaying},
	{From: StatePlaying, Event: EvPause, To: StatePaused},
	{From: StatePlaying, Event: EvSeek, To: StatePlaying},
	{From: StatePlaying, Event: EvEnded, To: StateEnded},
	{From: StatePlaying, Event: EvReset, To: StatePaused},
	{From: StatePlaying, Event: EvLoad, To: StateLoading},

	{From: StatePaused, Event: EvPlay, To: StatePlaying},
	{From: StatePaused, Event: EvPause, To: StatePaused},
	{From: StatePaused, Event: EvSeek, To: StatePaused},
	{From: StatePaused, Event: EvReset, To: StatePaused},
	{From: StatePaused, Event: EvLoad, To: StateLoading},

	{From: StateEnded, Event: EvPlay, To: StatePlaying},
	{From: StateEnded, Event: EvPause, To: StateEnded},
	{From: StateEnded, Event: EvSeek, To: StatePaused},
	{From: StateEnded, Event: EvReset, To: StatePaused},
	{From: StateEnded, Event: EvLoad, To: StateLoading},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from State, ev Event) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// machine is not safe for concurrent use; its owner serializes access.
type machine struct {
	state  State
	logger zerolog.Logger
}

func newMachine(initial State, logger zerolog.Logger) *machine {
	if initial == "" {
		initial = StateReady
	}
	return &machine{state: initial, logger: logger}
}

// fire applies ev. Illegal events leave the state alone and report false.
func (m *machine) fire(ev Event) bool {
	tr, ok := TransitionFor(m.state, ev)
	if !ok {
		m.logger.Debug().
			Str(log.FieldEvent, string(ev)).
			Str(log.FieldOldState, string(m.state)).
			Msg("ignoring illegal playback event")
		return false
	}
	if tr.To != m.state {
		m.logger.Debug().
			Str(log.FieldEvent, string(ev)).
			Str(log.FieldOldState, string(m.state)).
			Str(log.FieldNewState, string(tr.To)).
			Msg("playback transition")
	}
	m.state = tr.To
	return true
}

// restore rolls back a transition whose side effect failed.
func (m *machine) restore(s State) { m.state = s }
