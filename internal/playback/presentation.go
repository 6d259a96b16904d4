// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrus7/ready-or-not-sub011/internal/broadcast"
	"github.com/sirrus7/ready-or-not-sub011/internal/liveness"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
)

// PresentationOptions configures a PresentationFollower.
type PresentationOptions struct {
	Bus     PresentationBus
	Element MediaElement
	Clock   liveness.Clock

	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration
	DriftThreshold    float64
	InitialState      State

	// CloseWindow handles close_presentation. It runs on its own goroutine
	// so it may release the session channel.
	CloseWindow        func()
	OnConnectionChange func(connected bool)
	OnAutoplayBlocked  func(err error)
}

// PresentationFollower applies host commands to the presentation element.
type PresentationFollower struct {
	bus       PresentationBus
	el        MediaElement
	clock     liveness.Clock
	interval  time.Duration
	threshold float64
	monitor   *liveness.Monitor
	logger    zerolog.Logger

	closeWindow       func()
	onAutoplayBlocked func(error)

	mu      sync.Mutex
	fsm     *machine
	ctx     context.Context
	unsubs  []func()
	ticker  *ticker
	started bool
}

// NewPresentationFollower wires a follower; nothing runs until Start.
func NewPresentationFollower(opts PresentationOptions) (*PresentationFollower, error) {
	if opts.Bus == nil || opts.Element == nil {
		return nil, errors.New("playback: presentation follower requires a bus and an element")
	}
	if opts.Clock == nil {
		opts.Clock = liveness.RealClock{}
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.DriftThreshold <= 0 {
		opts.DriftThreshold = DefaultDriftThreshold
	}
	logger := log.WithComponent("playback").With().Str(log.FieldRole, string(broadcast.RolePresentation)).Logger()
	p := &PresentationFollower{
		bus:               opts.Bus,
		el:                opts.Element,
		clock:             opts.Clock,
		interval:          opts.HeartbeatInterval,
		threshold:         opts.DriftThreshold,
		logger:            logger,
		closeWindow:       opts.CloseWindow,
		onAutoplayBlocked: opts.OnAutoplayBlocked,
		fsm:               newMachine(opts.InitialState, logger),
		ctx:               context.Background(),
	}
	p.monitor = liveness.NewMonitor(liveness.Options{
		Role:    string(broadcast.RolePresentation),
		Timeout: opts.LivenessTimeout,
		Clock:   opts.Clock,
	})
	if opts.OnConnectionChange != nil {
		p.monitor.OnChange(opts.OnConnectionChange)
	}
	return p, nil
}

// Start subscribes to host commands, announces readiness, and keeps
// announcing it every heartbeat interval.
func (p *PresentationFollower) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.ctx = ctx
	p.mu.Unlock()

	unsub := p.bus.OnHostCommand(p.handle)
	p.monitor.Start()
	p.heartbeat()
	t := startTicker(p.clock, p.interval, p.heartbeat)

	p.mu.Lock()
	p.unsubs = []func(){unsub}
	p.ticker = t
	p.mu.Unlock()
}

// Stop detaches from the bus and halts timers. It may be called from the
// window closer.
func (p *PresentationFollower) Stop() {
	p.mu.Lock()
	unsubs, t := p.unsubs, p.ticker
	p.unsubs, p.ticker = nil, nil
	p.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if t != nil {
		t.stop()
	}
	p.monitor.Stop()
}

// State returns the element state.
func (p *PresentationFollower) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fsm.state
}

// Connected reports whether host traffic arrived within the timeout.
func (p *PresentationFollower) Connected() bool {
	return p.monitor.Connected()
}

// MediaEvent feeds a local element event into the state machine.
func (p *PresentationFollower) MediaEvent(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fsm.fire(ev)
}

func (p *PresentationFollower) heartbeat() {
	p.mu.Lock()
	ready := p.fsm.state != StateIdle && p.fsm.state != StateLoading
	ctx := p.ctx
	p.mu.Unlock()

	if err := p.bus.SendPresentationStatus(ctx, ready); err != nil {
		p.logger.Debug().Err(err).Msg("status heartbeat failed")
	}
}

// handle applies one host command. Commands are applied in arrival order,
// the latest one wins.
func (p *PresentationFollower) handle(cmd broadcast.HostCommand) {
	p.monitor.Observe()

	if cmd.Action == broadcast.ActionClosePresentation {
		p.ack(cmd)
		p.close()
		return
	}
	if err := p.apply(cmd); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldAction, string(cmd.Action)).Msg("command not applied")
		if errors.Is(err, ErrAutoplayBlocked) && p.onAutoplayBlocked != nil {
			p.onAutoplayBlocked(err)
		}
	}
	metrics.RecordPlaybackCommand("applied", string(cmd.Action))
	p.ack(cmd)
}

func (p *PresentationFollower) apply(cmd broadcast.HostCommand) error {
	d := cmd.Data
	if d == nil {
		d = &broadcast.CommandData{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd.Action {
	case broadcast.ActionPlay:
		p.applyPositionLocked(d)
		prev := p.fsm.state
		if !p.fsm.fire(EvPlay) {
			return nil
		}
		if err := p.el.Play(); err != nil {
			p.fsm.restore(prev)
			metrics.PlaybackAutoplayBlockedTotal.WithLabelValues(string(broadcast.RolePresentation)).Inc()
			return fmt.Errorf("%w: %v", ErrAutoplayBlocked, err)
		}
	case broadcast.ActionPause:
		if p.fsm.fire(EvPause) {
			p.el.Pause()
		}
		p.applyPositionLocked(d)
	case broadcast.ActionSeek:
		if d.Time != nil && p.fsm.fire(EvSeek) {
			p.el.Seek(*d.Time)
		}
	case broadcast.ActionSync:
		if d.PlaybackRate != nil && *d.PlaybackRate != p.el.PlaybackRate() {
			p.el.SetPlaybackRate(*d.PlaybackRate)
		}
		if d.Time != nil {
			p.correctDriftLocked(*d.Time)
		}
	case broadcast.ActionVolume:
		if d.Volume != nil {
			p.el.SetVolume(*d.Volume)
		}
		if d.Muted != nil {
			p.el.SetMuted(*d.Muted)
		}
	case broadcast.ActionReset:
		if p.fsm.fire(EvReset) {
			p.el.Seek(0)
			p.el.Pause()
		}
	default:
		return fmt.Errorf("%w: %q", broadcast.ErrInvalidAction, cmd.Action)
	}
	return nil
}

func (p *PresentationFollower) applyPositionLocked(d *broadcast.CommandData) {
	if d.PlaybackRate != nil {
		p.el.SetPlaybackRate(*d.PlaybackRate)
	}
	if d.Time != nil {
		p.el.Seek(*d.Time)
	}
}

// correctDriftLocked seeks only when the playhead is strictly more than the
// threshold away from the host's.
func (p *PresentationFollower) correctDriftLocked(remote float64) {
	drift := math.Abs(p.el.CurrentTime() - remote)
	if drift <= p.threshold {
		return
	}
	p.el.Seek(remote)
	metrics.PlaybackDriftCorrectionsTotal.Inc()
	p.logger.Debug().Float64(log.FieldDrift, drift).Float64(log.FieldTime, remote).Msg("corrected drift")
}

func (p *PresentationFollower) ack(cmd broadcast.HostCommand) {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if err := p.bus.SendAck(ctx, cmd.ID); err != nil {
		p.logger.Debug().Err(err).Str(log.FieldCommandID, cmd.ID).Msg("ack failed")
	}
}

func (p *PresentationFollower) close() {
	if p.closeWindow == nil {
		p.logger.Info().Msg("close requested but no window closer configured")
		return
	}
	go p.closeWindow()
}
