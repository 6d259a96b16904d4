// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirrus7/ready-or-not-sub011/internal/broadcast"
	"github.com/sirrus7/ready-or-not-sub011/internal/liveness"
)

type hostFixture struct {
	host    *HostController
	bus     *fakeHostBus
	el      *fakeElement
	clock   *liveness.FakeClock
	changes []bool
	blocked []error
}

func newHostFixture(t *testing.T, initial State) *hostFixture {
	t.Helper()
	f := &hostFixture{
		bus:   &fakeHostBus{},
		el:    newFakeElement(),
		clock: liveness.NewFakeClock(time.Unix(1_700_000_000, 0)),
	}
	host, err := NewHostController(HostOptions{
		Bus:                f.bus,
		Element:            f.el,
		Clock:              f.clock,
		SyncInterval:       time.Second,
		LivenessTimeout:    3 * time.Second,
		InitialState:       initial,
		OnConnectionChange: func(c bool) { f.changes = append(f.changes, c) },
		OnAutoplayBlocked:  func(err error) { f.blocked = append(f.blocked, err) },
	})
	require.NoError(t, err)
	f.host = host
	host.Start(context.Background())
	t.Cleanup(host.Stop)
	return f
}

func TestNewHostController_RequiresCollaborators(t *testing.T) {
	_, err := NewHostController(HostOptions{Element: newFakeElement()})
	require.Error(t, err)
	_, err = NewHostController(HostOptions{Bus: &fakeHostBus{}})
	require.Error(t, err)
}

func TestHost_MuteHandshake(t *testing.T) {
	f := newHostFixture(t, StateReady)
	require.False(t, f.el.Muted())

	f.bus.presentationStatus(true)
	assert.True(t, f.el.Muted(), "host must mute once the presentation connects")
	assert.True(t, f.host.Connected())

	// Initial state is pushed to the presentation.
	cmds := f.bus.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, broadcast.ActionPause, cmds[0].Action)
	require.NotNil(t, cmds[0].Data.Time)

	f.clock.Advance(3 * time.Second)
	assert.False(t, f.el.Muted(), "host must unmute once the presentation is gone")
	assert.False(t, f.host.Connected())
	assert.Equal(t, []bool{true, false}, f.changes)
}

func TestHost_InitialStateIsPlayWhenPlaying(t *testing.T) {
	f := newHostFixture(t, StateReady)
	f.el.setTime(42)
	f.host.Play(context.Background())
	assert.Empty(t, f.bus.commands(), "nothing is broadcast while disconnected")

	f.bus.presentationStatus(true)
	cmds := f.bus.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, broadcast.ActionPlay, cmds[0].Action)
	assert.Equal(t, 42.0, *cmds[0].Data.Time)
	assert.Equal(t, 1.0, *cmds[0].Data.PlaybackRate)
}

func TestHost_LocalFirstThenBroadcast(t *testing.T) {
	f := newHostFixture(t, StateReady)
	f.bus.presentationStatus(true)
	ctx := context.Background()

	f.host.Play(ctx)
	assert.False(t, f.el.Paused())
	f.host.Seek(ctx, 12.5)
	assert.Equal(t, 12.5, f.el.CurrentTime())
	f.host.Pause(ctx)
	assert.True(t, f.el.Paused())

	cmds := f.bus.commands()
	require.Len(t, cmds, 4)
	assert.Equal(t, []broadcast.Action{
		broadcast.ActionPause, // initial state on connect
		broadcast.ActionPlay,
		broadcast.ActionSeek,
		broadcast.ActionPause,
	}, f.bus.actions())
	assert.Equal(t, 12.5, *cmds[2].Data.Time)
	assert.Equal(t, StatePaused, f.host.State())
}

func TestHost_BroadcastFailureDoesNotAffectLocalState(t *testing.T) {
	f := newHostFixture(t, StateReady)
	f.bus.presentationStatus(true)
	f.bus.setErr(broadcast.ErrChannelClosed)

	f.host.Play(context.Background())
	assert.False(t, f.el.Paused())
	assert.Equal(t, StatePlaying, f.host.State())
}

func TestHost_SyncOnlyWhilePlayingAndConnected(t *testing.T) {
	f := newHostFixture(t, StateReady)
	ctx := context.Background()

	f.host.Play(ctx)
	f.clock.Advance(2 * time.Second)
	assert.Empty(t, f.bus.commands(), "no sync while disconnected")

	f.bus.presentationStatus(true)
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
		f.bus.presentationStatus(true)
	}
	syncs := 0
	for _, a := range f.bus.actions() {
		if a == broadcast.ActionSync {
			syncs++
		}
	}
	assert.Equal(t, 3, syncs)

	f.host.Pause(ctx)
	before := len(f.bus.commands())
	f.clock.Advance(time.Second)
	f.bus.presentationStatus(true)
	assert.Len(t, f.bus.commands(), before, "no sync while paused")
}

func TestHost_AutoplayRejectedRevertsState(t *testing.T) {
	f := newHostFixture(t, StatePaused)
	f.bus.presentationStatus(true)
	f.el.setPlayErr(errors.New("NotAllowedError"))

	f.host.Play(context.Background())
	assert.Equal(t, StatePaused, f.host.State())
	require.Len(t, f.blocked, 1)
	assert.ErrorIs(t, f.blocked[0], ErrAutoplayBlocked)
	assert.Equal(t, []broadcast.Action{broadcast.ActionPause}, f.bus.actions())

	f.el.setPlayErr(nil)
	f.host.Play(context.Background())
	assert.Equal(t, StatePlaying, f.host.State())
}

func TestHost_AutoplayRejectedWithoutCallback(t *testing.T) {
	el := newFakeElement()
	host, err := NewHostController(HostOptions{
		Bus:          &fakeHostBus{},
		Element:      el,
		Clock:        liveness.NewFakeClock(time.Unix(1_700_000_000, 0)),
		InitialState: StatePaused,
	})
	require.NoError(t, err)
	el.setPlayErr(errors.New("NotAllowedError"))

	assert.NotPanics(t, func() { host.Play(context.Background()) })
	assert.Equal(t, StatePaused, host.State())
}

func TestHost_IllegalEventsAreIgnored(t *testing.T) {
	f := newHostFixture(t, StateIdle)

	f.host.Play(context.Background())
	assert.True(t, f.el.Paused())
	assert.Equal(t, StateIdle, f.host.State())

	f.host.MediaEvent(EvLoad)
	f.host.MediaEvent(EvCanPlay)
	assert.Equal(t, StateReady, f.host.State())
	f.host.Play(context.Background())
	assert.Equal(t, StatePlaying, f.host.State())

	f.host.MediaEvent(EvEnded)
	assert.Equal(t, StateEnded, f.host.State())
}

func TestHost_VolumeAndReset(t *testing.T) {
	f := newHostFixture(t, StateReady)
	ctx := context.Background()

	f.host.SetVolume(ctx, 0.4, false)
	assert.Equal(t, 0.4, f.el.Volume())
	assert.Empty(t, f.bus.commands())

	f.bus.presentationStatus(true)
	f.host.SetVolume(ctx, 0.7, false)
	assert.True(t, f.el.Muted(), "host stays muted while the presentation plays sound")

	f.el.setTime(30)
	f.host.Play(ctx)
	f.host.Reset(ctx)
	assert.Equal(t, 0.0, f.el.CurrentTime())
	assert.True(t, f.el.Paused())

	f.host.ClosePresentation(ctx)
	assert.Equal(t, []broadcast.Action{
		broadcast.ActionPause,
		broadcast.ActionVolume,
		broadcast.ActionPlay,
		broadcast.ActionReset,
		broadcast.ActionClosePresentation,
	}, f.bus.actions())
	vol := f.bus.commands()[1]
	assert.Equal(t, 0.7, *vol.Data.Volume)
	assert.False(t, *vol.Data.Muted)
}

func TestHost_AckKeepsConnectionAlive(t *testing.T) {
	f := newHostFixture(t, StateReady)
	f.bus.presentationStatus(true)

	for i := 0; i < 4; i++ {
		f.clock.Advance(2 * time.Second)
		for _, fn := range f.bus.acks.list() {
			fn(broadcast.Ack{CommandID: "x"})
		}
	}
	assert.True(t, f.host.Connected())
	assert.Equal(t, []bool{true}, f.changes)
}
