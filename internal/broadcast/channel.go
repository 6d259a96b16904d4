// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broadcast

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
)

// Channel is one participant's endpoint on a session topic. Handlers run on
// a single dispatcher goroutine, so for one channel they never overlap and
// see messages in arrival order. A channel never receives its own messages.
type Channel struct {
	sessionID string
	role      Role
	sender    string
	topic     string
	transport Transport
	sub       Subscription
	now       func() time.Time
	logger    zerolog.Logger

	mu       sync.Mutex
	nextID   int
	commands map[int]func(HostCommand)
	statuses map[int]func(PresentationStatus)
	acks     map[int]func(Ack)
	any      map[int]func(*Envelope)
	closed   bool

	done chan struct{}
}

// NewChannel subscribes a new endpoint for (sessionID, role). Most callers
// should go through Registry.Acquire instead.
func NewChannel(ctx context.Context, t Transport, sessionID string, role Role) (*Channel, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}

	topic := TopicFor(sessionID)
	sub, err := t.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		sessionID: sessionID,
		role:      role,
		sender:    uuid.NewString(),
		topic:     topic,
		transport: t,
		sub:       sub,
		now:       time.Now,
		logger: log.WithComponent("broadcast").With().
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldRole, string(role)).
			Logger(),
		commands: make(map[int]func(HostCommand)),
		statuses: make(map[int]func(PresentationStatus)),
		acks:     make(map[int]func(Ack)),
		any:      make(map[int]func(*Envelope)),
		done:     make(chan struct{}),
	}
	go c.dispatch()
	return c, nil
}

// SessionID returns the session this channel belongs to.
func (c *Channel) SessionID() string { return c.sessionID }

// Role returns the participant role.
func (c *Channel) Role() Role { return c.role }

// SendCommand broadcasts a host command with a fresh id. Host only.
func (c *Channel) SendCommand(ctx context.Context, action Action, data *CommandData) (HostCommand, error) {
	if c.role != RoleHost {
		return HostCommand{}, fmt.Errorf("%w: %s cannot send commands", ErrWrongRole, c.role)
	}
	if !action.Valid() {
		return HostCommand{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	cmd := HostCommand{ID: uuid.NewString(), Action: action, Data: data}
	err := c.Publish(ctx, &Envelope{Type: TypeHostCommand, Command: &cmd})
	return cmd, err
}

// SendPresentationStatus broadcasts the presentation's readiness.
func (c *Channel) SendPresentationStatus(ctx context.Context, ready bool) error {
	return c.Publish(ctx, &Envelope{Type: TypePresentationStatus, Status: &PresentationStatus{Ready: ready}})
}

// SendAck acknowledges a processed command.
func (c *Channel) SendAck(ctx context.Context, commandID string) error {
	return c.Publish(ctx, &Envelope{Type: TypeAck, Ack: &Ack{CommandID: commandID}})
}

// Publish stamps env with this channel's identity and sends it. The role
// rules of Envelope.Validate apply.
func (c *Channel) Publish(ctx context.Context, env *Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}

	env.SessionID = c.sessionID
	env.Role = c.role
	env.Sender = c.sender
	env.Timestamp = c.now().UnixMilli()
	if err := env.Validate(); err != nil {
		return err
	}
	payload, err := encodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if err := c.transport.Publish(ctx, c.topic, payload); err != nil {
		return err
	}
	metrics.IncBusPublished(string(env.Type))
	return nil
}

// OnHostCommand registers fn for every command received.
func (c *Channel) OnHostCommand(fn func(HostCommand)) (unsubscribe func()) {
	return register(c, c.commands, fn)
}

// OnPresentationStatus registers fn for every presentation status received.
func (c *Channel) OnPresentationStatus(fn func(PresentationStatus)) (unsubscribe func()) {
	return register(c, c.statuses, fn)
}

// OnAck registers fn for every acknowledgement received.
func (c *Channel) OnAck(fn func(Ack)) (unsubscribe func()) {
	return register(c, c.acks, fn)
}

// OnEnvelope registers fn for every message received, whatever its type.
func (c *Channel) OnEnvelope(fn func(*Envelope)) (unsubscribe func()) {
	return register(c, c.any, fn)
}

func register[F any](c *Channel, m map[int]F, fn F) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	m[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(m, id)
			c.mu.Unlock()
		})
	}
}

func snapshot[F any](m map[int]F) []F {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]F, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}

func (c *Channel) dispatch() {
	defer close(c.done)
	for d := range c.sub.C() {
		env, err := decodeEnvelope(d.Payload)
		if err != nil {
			c.logger.Debug().Err(err).Msg("discarding undecodable message")
			metrics.IncBusDropReason(c.transport.Name(), "decode_error")
			continue
		}
		if env.Sender == c.sender || env.SessionID != c.sessionID {
			continue
		}
		if err := env.Validate(); err != nil {
			c.logger.Debug().Err(err).Msg("discarding invalid message")
			metrics.IncBusDropReason(c.transport.Name(), "invalid")
			continue
		}
		c.deliver(env)
	}
}

func (c *Channel) deliver(env *Envelope) {
	c.mu.Lock()
	anyFns := snapshot(c.any)
	var cmdFns []func(HostCommand)
	var statusFns []func(PresentationStatus)
	var ackFns []func(Ack)
	switch env.Type {
	case TypeHostCommand:
		cmdFns = snapshot(c.commands)
	case TypePresentationStatus:
		statusFns = snapshot(c.statuses)
	case TypeAck:
		ackFns = snapshot(c.acks)
	}
	c.mu.Unlock()

	for _, fn := range anyFns {
		fn(env)
	}
	for _, fn := range cmdFns {
		fn(*env.Command)
	}
	for _, fn := range statusFns {
		fn(*env.Status)
	}
	for _, fn := range ackFns {
		fn(*env.Ack)
	}
}

// close tears down the subscription and waits for the dispatcher to exit.
// Handlers registered so far are dropped. It must not be called from a
// handler.
func (c *Channel) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.sub.Close()
	<-c.done
	c.mu.Lock()
	clear(c.commands)
	clear(c.statuses)
	clear(c.acks)
	clear(c.any)
	c.mu.Unlock()
	return err
}

// Close closes a channel created with NewChannel. Channels obtained from a
// Registry must be given back with Registry.Release.
func (c *Channel) Close() error { return c.close() }
