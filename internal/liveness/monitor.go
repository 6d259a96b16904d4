// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package liveness turns sparse bus traffic into a debounced connected flag.
// Every observed message restarts a timeout; the flag flips to false only
// when the timeout elapses with nothing observed.
package liveness

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
)

// DefaultTimeout is the silence window after which a peer is disconnected.
const DefaultTimeout = 3 * time.Second

// State is the connection state of the observed peer.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Event drives the state machine.
type Event string

const (
	EvHeartbeat Event = "heartbeat"
	EvTimeout   Event = "timeout"
)

// Transition is a single allowed edge in the liveness state machine.
type Transition struct {
	From  State
	Event Event
	To    State
}

var transitionsTable = []Transition{
	{From: StateConnecting, Event: EvHeartbeat, To: StateConnected},
	{From: StateConnecting, Event: EvTimeout, To: StateDisconnected},
	{From: StateConnected, Event: EvHeartbeat, To: StateConnected},
	{From: StateConnected, Event: EvTimeout, To: StateDisconnected},
	{From: StateDisconnected, Event: EvHeartbeat, To: StateConnected},
	{From: StateDisconnected, Event: EvTimeout, To: StateDisconnected},
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

// Options configures a Monitor.
type Options struct {
	// Role names the observed peer in logs and metrics.
	Role    string
	Timeout time.Duration
	Clock   Clock
}

// Monitor tracks one peer. Callbacks fire only when the connected flag
// actually changes; the flag starts out false, so an initial timeout
// without any traffic is silent.
type Monitor struct {
	role    string
	timeout time.Duration
	clock   Clock
	logger  zerolog.Logger

	// cbMu serializes state changes with their callbacks so listeners see
	// them in order. Listeners must not call Observe synchronously.
	cbMu sync.Mutex

	mu          sync.Mutex
	state       State
	lastEmitted bool
	timer       Timer
	gen         uint64
	started     bool
	stopped     bool
	lastSeen    time.Time
	nextID      int
	listeners   map[int]func(bool)
}

// NewMonitor creates a stopped monitor in the connecting state.
func NewMonitor(opts Options) *Monitor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	return &Monitor{
		role:      opts.Role,
		timeout:   opts.Timeout,
		clock:     opts.Clock,
		logger:    log.WithComponent("liveness").With().Str(log.FieldRole, opts.Role).Logger(),
		state:     StateConnecting,
		listeners: make(map[int]func(bool)),
	}
}

// OnChange registers fn for connected flag changes.
func (m *Monitor) OnChange(fn func(connected bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Start arms the initial timeout.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	m.armLocked()
}

// Observe records inbound traffic from the peer and restarts the timeout.
func (m *Monitor) Observe() {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.lastSeen = m.clock.Now()
	m.armLocked()
	fire := m.applyLocked(EvHeartbeat)
	m.mu.Unlock()

	fire()
}

func (m *Monitor) onTimeout(gen uint64) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	m.mu.Lock()
	if m.stopped || gen != m.gen {
		// A later Observe re-armed the timer.
		m.mu.Unlock()
		return
	}
	m.timer = nil
	fire := m.applyLocked(EvTimeout)
	m.mu.Unlock()

	fire()
}

// armLocked replaces the pending timeout. Caller must hold mu.
func (m *Monitor) armLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = m.clock.AfterFunc(m.timeout, func() { m.onTimeout(gen) })
}

// applyLocked runs ev through the transition table and returns the
// callback dispatch to run once mu is released.
func (m *Monitor) applyLocked(ev Event) func() {
	tr, ok := TransitionFor(m.state, ev)
	if !ok {
		m.logger.Debug().Str(log.FieldEvent, string(ev)).Str(log.FieldOldState, string(m.state)).Msg("ignored liveness event")
		return func() {}
	}
	if tr.To != m.state {
		m.logger.Debug().
			Str(log.FieldOldState, string(m.state)).
			Str(log.FieldNewState, string(tr.To)).
			Msg("liveness transition")
		metrics.RecordLivenessTransition(m.role, string(tr.To))
	}
	m.state = tr.To

	connected := m.state == StateConnected
	if connected == m.lastEmitted {
		return func() {}
	}
	m.lastEmitted = connected

	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.logger.Info().Bool("connected", connected).Msg("peer connection changed")
	return func() {
		for _, fn := range fns {
			fn(connected)
		}
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the peer is currently considered connected.
func (m *Monitor) Connected() bool {
	return m.State() == StateConnected
}

// LastSeen returns when traffic was last observed.
func (m *Monitor) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// Stop cancels the timeout. No callbacks fire afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
