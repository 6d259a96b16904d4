// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTransitionsTable_NoDuplicates(t *testing.T) {
	seen := map[[2]string]bool{}
	for _, tr := range transitionsTable {
		key := [2]string{string(tr.From), string(tr.Event)}
		assert.False(t, seen[key], "duplicate transition %v", key)
		seen[key] = true
	}
}

func TestMachine_Lifecycle(t *testing.T) {
	m := newMachine(StateIdle, zerolog.Nop())

	steps := []struct {
		ev    Event
		ok    bool
		state State
	}{
		{EvPlay, false, StateIdle},
		{EvLoad, true, StateLoading},
		{EvCanPlay, true, StateReady},
		{EvPlay, true, StatePlaying},
		{EvPause, true, StatePaused},
		{EvPlay, true, StatePlaying},
		{EvEnded, true, StateEnded},
		{EvSeek, true, StatePaused},
		{EvEnded, false, StatePaused},
		{EvReset, true, StatePaused},
	}
	for _, s := range steps {
		assert.Equal(t, s.ok, m.fire(s.ev), "event %s", s.ev)
		assert.Equal(t, s.state, m.state, "after %s", s.ev)
	}
}

func TestMachine_DefaultsToReady(t *testing.T) {
	assert.Equal(t, StateReady, newMachine("", zerolog.Nop()).state)
}
