// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sirrus7/ready-or-not-sub011/internal/broadcast"
)

type fakeElement struct {
	mu      sync.Mutex
	time    float64
	rate    float64
	muted   bool
	volume  float64
	paused  bool
	playErr error
	seeks   []float64
	plays   int
}

func newFakeElement() *fakeElement {
	return &fakeElement{rate: 1, volume: 1, paused: true}
}

func (e *fakeElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playErr != nil {
		return e.playErr
	}
	e.plays++
	e.paused = false
	return nil
}

func (e *fakeElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

func (e *fakeElement) Seek(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.time = t
	e.seeks = append(e.seeks, t)
}

func (e *fakeElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.time
}

func (e *fakeElement) setTime(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.time = t
}

func (e *fakeElement) PlaybackRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *fakeElement) SetPlaybackRate(r float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = r
}

func (e *fakeElement) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *fakeElement) SetMuted(m bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = m
}

func (e *fakeElement) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *fakeElement) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

func (e *fakeElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *fakeElement) seekCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seeks)
}

func (e *fakeElement) setPlayErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playErr = err
}

// handlers is a tiny synchronous listener set.
type handlers[F any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]F
}

func (h *handlers[F]) add(fn F) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[int]F)
	}
	id := h.next
	h.next++
	h.fns[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.fns, id)
	}
}

func (h *handlers[F]) list() []F {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int, 0, len(h.fns))
	for id := range h.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]F, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.fns[id])
	}
	return out
}

// fakeHostBus delivers synchronously on the calling goroutine.
type fakeHostBus struct {
	statuses handlers[func(broadcast.PresentationStatus)]
	acks     handlers[func(broadcast.Ack)]

	mu   sync.Mutex
	sent []broadcast.HostCommand
	err  error
}

func (b *fakeHostBus) SendCommand(_ context.Context, action broadcast.Action, data *broadcast.CommandData) (broadcast.HostCommand, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return broadcast.HostCommand{}, b.err
	}
	cmd := broadcast.HostCommand{ID: uuid.NewString(), Action: action, Data: data}
	b.sent = append(b.sent, cmd)
	return cmd, nil
}

func (b *fakeHostBus) OnPresentationStatus(fn func(broadcast.PresentationStatus)) func() {
	return b.statuses.add(fn)
}

func (b *fakeHostBus) OnAck(fn func(broadcast.Ack)) func() {
	return b.acks.add(fn)
}

func (b *fakeHostBus) presentationStatus(ready bool) {
	for _, fn := range b.statuses.list() {
		fn(broadcast.PresentationStatus{Ready: ready})
	}
}

func (b *fakeHostBus) commands() []broadcast.HostCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcast.HostCommand(nil), b.sent...)
}

func (b *fakeHostBus) actions() []broadcast.Action {
	var out []broadcast.Action
	for _, c := range b.commands() {
		out = append(out, c.Action)
	}
	return out
}

func (b *fakeHostBus) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// fakePresentationBus delivers synchronously on the calling goroutine.
type fakePresentationBus struct {
	commands handlers[func(broadcast.HostCommand)]

	mu       sync.Mutex
	statuses []bool
	acks     []string
}

func (b *fakePresentationBus) OnHostCommand(fn func(broadcast.HostCommand)) func() {
	return b.commands.add(fn)
}

func (b *fakePresentationBus) SendPresentationStatus(_ context.Context, ready bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, ready)
	return nil
}

func (b *fakePresentationBus) SendAck(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks = append(b.acks, id)
	return nil
}

func (b *fakePresentationBus) deliver(action broadcast.Action, data *broadcast.CommandData) broadcast.HostCommand {
	cmd := broadcast.HostCommand{ID: uuid.NewString(), Action: action, Data: data}
	for _, fn := range b.commands.list() {
		fn(cmd)
	}
	return cmd
}

func (b *fakePresentationBus) statusCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.statuses)
}

func (b *fakePresentationBus) ackIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.acks...)
}
