// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrus7/ready-or-not-sub011/internal/broadcast"
	"github.com/sirrus7/ready-or-not-sub011/internal/liveness"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
)

const (
	// DefaultSyncInterval is how often a playing host re-asserts its position.
	DefaultSyncInterval = time.Second
	// DefaultHeartbeatInterval is how often the presentation reports status.
	DefaultHeartbeatInterval = time.Second
	// DefaultDriftThreshold is the largest position difference, in seconds,
	// a sync command leaves uncorrected.
	DefaultDriftThreshold = 0.2
)

// HostOptions configures a HostController.
type HostOptions struct {
	Bus     HostBus
	Element MediaElement
	Clock   liveness.Clock

	SyncInterval    time.Duration
	LivenessTimeout time.Duration
	InitialState    State

	OnConnectionChange func(connected bool)
	OnAutoplayBlocked  func(err error)
}

// HostController drives the host's own element and mirrors it to a
// connected presentation.
type HostController struct {
	bus      HostBus
	el       MediaElement
	clock    liveness.Clock
	interval time.Duration
	monitor  *liveness.Monitor
	logger   zerolog.Logger

	onConnectionChange func(bool)
	onAutoplayBlocked  func(error)

	mu        sync.Mutex
	fsm       *machine
	connected bool
	ctx       context.Context
	unsubs    []func()
	ticker    *ticker
	started   bool
}

// NewHostController wires a controller; nothing runs until Start.
func NewHostController(opts HostOptions) (*HostController, error) {
	if opts.Bus == nil || opts.Element == nil {
		return nil, errors.New("playback: host controller requires a bus and an element")
	}
	if opts.Clock == nil {
		opts.Clock = liveness.RealClock{}
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	logger := log.WithComponent("playback").With().Str(log.FieldRole, string(broadcast.RoleHost)).Logger()
	h := &HostController{
		bus:                opts.Bus,
		el:                 opts.Element,
		clock:              opts.Clock,
		interval:           opts.SyncInterval,
		logger:             logger,
		onConnectionChange: opts.OnConnectionChange,
		onAutoplayBlocked:  opts.OnAutoplayBlocked,
		fsm:                newMachine(opts.InitialState, logger),
		ctx:                context.Background(),
	}
	h.monitor = liveness.NewMonitor(liveness.Options{
		Role:    string(broadcast.RoleHost),
		Timeout: opts.LivenessTimeout,
		Clock:   opts.Clock,
	})
	h.monitor.OnChange(h.connectionChanged)
	return h, nil
}

// Start begins listening for the presentation and ticking sync commands.
// ctx is used for every broadcast until Stop.
func (h *HostController) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.ctx = ctx
	h.mu.Unlock()

	unsubs := []func(){
		h.bus.OnPresentationStatus(func(broadcast.PresentationStatus) { h.monitor.Observe() }),
		h.bus.OnAck(func(broadcast.Ack) { h.monitor.Observe() }),
	}
	h.monitor.Start()
	t := startTicker(h.clock, h.interval, h.syncTick)

	h.mu.Lock()
	h.unsubs = unsubs
	h.ticker = t
	h.mu.Unlock()
}

// Stop detaches from the bus and halts timers.
func (h *HostController) Stop() {
	h.mu.Lock()
	unsubs, t := h.unsubs, h.ticker
	h.unsubs, h.ticker = nil, nil
	h.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if t != nil {
		t.stop()
	}
	h.monitor.Stop()
}

// State returns the element state.
func (h *HostController) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fsm.state
}

// Connected reports whether a presentation is currently live.
func (h *HostController) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// MediaEvent feeds a local element event (load, canplay, ended) into the
// state machine.
func (h *HostController) MediaEvent(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fsm.fire(ev)
}

// Play starts the local element and then tells the presentation. A
// rejected play reverts the state and is reported to OnAutoplayBlocked
// only.
func (h *HostController) Play(ctx context.Context) {
	h.mu.Lock()
	prev := h.fsm.state
	if !h.fsm.fire(EvPlay) {
		h.mu.Unlock()
		return
	}
	if err := h.el.Play(); err != nil {
		h.fsm.restore(prev)
		h.mu.Unlock()
		h.autoplayBlocked(err)
		return
	}
	data, connected := h.positionLocked(), h.connected
	h.mu.Unlock()

	if connected {
		h.send(ctx, broadcast.ActionPlay, data)
	}
}

// Pause pauses the local element and then tells the presentation.
func (h *HostController) Pause(ctx context.Context) {
	h.mu.Lock()
	if !h.fsm.fire(EvPause) {
		h.mu.Unlock()
		return
	}
	h.el.Pause()
	data, connected := h.positionLocked(), h.connected
	h.mu.Unlock()

	if connected {
		h.send(ctx, broadcast.ActionPause, data)
	}
}

// Seek moves the local playhead and then tells the presentation.
func (h *HostController) Seek(ctx context.Context, seconds float64) {
	h.mu.Lock()
	if !h.fsm.fire(EvSeek) {
		h.mu.Unlock()
		return
	}
	h.el.Seek(seconds)
	data, connected := h.positionLocked(), h.connected
	h.mu.Unlock()

	if connected {
		h.send(ctx, broadcast.ActionSeek, data)
	}
}

// SetVolume changes the presentation's volume. The host's own element stays
// muted while a presentation is connected, so only the level is recorded
// locally.
func (h *HostController) SetVolume(ctx context.Context, volume float64, muted bool) {
	h.mu.Lock()
	h.el.SetVolume(volume)
	if !h.connected {
		h.el.SetMuted(muted)
	}
	connected := h.connected
	h.mu.Unlock()

	if connected {
		h.send(ctx, broadcast.ActionVolume, &broadcast.CommandData{
			Volume: broadcast.Float(volume),
			Muted:  broadcast.Bool(muted),
		})
	}
}

// Reset rewinds to the start and pauses, locally and on the presentation.
func (h *HostController) Reset(ctx context.Context) {
	h.mu.Lock()
	if !h.fsm.fire(EvReset) {
		h.mu.Unlock()
		return
	}
	h.el.Seek(0)
	h.el.Pause()
	connected := h.connected
	h.mu.Unlock()

	if connected {
		h.send(ctx, broadcast.ActionReset, nil)
	}
}

// ClosePresentation asks the presentation to close its window. Whether it
// did is learned only from the liveness timeout.
func (h *HostController) ClosePresentation(ctx context.Context) {
	h.send(ctx, broadcast.ActionClosePresentation, nil)
}

func (h *HostController) positionLocked() *broadcast.CommandData {
	return &broadcast.CommandData{
		Time:         broadcast.Float(h.el.CurrentTime()),
		PlaybackRate: broadcast.Float(h.el.PlaybackRate()),
	}
}

func (h *HostController) syncTick() {
	h.mu.Lock()
	if h.fsm.state != StatePlaying || !h.connected {
		h.mu.Unlock()
		return
	}
	data, ctx := h.positionLocked(), h.ctx
	h.mu.Unlock()

	h.send(ctx, broadcast.ActionSync, data)
}

func (h *HostController) connectionChanged(connected bool) {
	h.mu.Lock()
	h.connected = connected
	var (
		action broadcast.Action
		data   *broadcast.CommandData
		ctx    = h.ctx
	)
	if connected {
		// Only the presentation plays sound.
		h.el.SetMuted(true)
		action = broadcast.ActionPause
		if h.fsm.state == StatePlaying {
			action = broadcast.ActionPlay
		}
		data = h.positionLocked()
	} else {
		h.el.SetMuted(false)
	}
	h.mu.Unlock()

	h.logger.Info().Bool("connected", connected).Msg("presentation connection changed")
	if connected {
		h.send(ctx, action, data)
	}
	if h.onConnectionChange != nil {
		h.onConnectionChange(connected)
	}
}

func (h *HostController) send(ctx context.Context, action broadcast.Action, data *broadcast.CommandData) {
	cmd, err := h.bus.SendCommand(ctx, action, data)
	if err != nil {
		h.logger.Warn().Err(err).Str(log.FieldAction, string(action)).Msg("broadcast failed")
		return
	}
	metrics.RecordPlaybackCommand("sent", string(action))
	h.logger.Debug().
		Str(log.FieldAction, string(action)).
		Str(log.FieldCommandID, cmd.ID).
		Msg("command sent")
}

func (h *HostController) autoplayBlocked(err error) {
	metrics.PlaybackAutoplayBlockedTotal.WithLabelValues(string(broadcast.RoleHost)).Inc()
	h.logger.Warn().Err(err).Msg("play rejected")
	if h.onAutoplayBlocked != nil {
		h.onAutoplayBlocked(fmt.Errorf("%w: %v", ErrAutoplayBlocked, err))
	}
}
