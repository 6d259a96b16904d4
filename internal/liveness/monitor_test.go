// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package liveness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) record(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, v)
}

func (r *recorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func newTestMonitor(t *testing.T) (*Monitor, *FakeClock, *recorder) {
	t.Helper()
	clk := NewFakeClock(time.Unix(1_700_000_000, 0))
	m := NewMonitor(Options{Role: "host", Timeout: 3 * time.Second, Clock: clk})
	rec := &recorder{}
	m.OnChange(rec.record)
	t.Cleanup(m.Stop)
	return m, clk, rec
}

func TestTransitionFor(t *testing.T) {
	tr, ok := TransitionFor(StateConnecting, EvHeartbeat)
	require.True(t, ok)
	assert.Equal(t, StateConnected, tr.To)

	tr, ok = TransitionFor(StateConnected, EvTimeout)
	require.True(t, ok)
	assert.Equal(t, StateDisconnected, tr.To)

	_, ok = TransitionFor(State("bogus"), EvHeartbeat)
	assert.False(t, ok)
}

func TestMonitor_SingleTrueThenSingleFalse(t *testing.T) {
	m, clk, rec := newTestMonitor(t)
	m.Start()

	m.Observe()
	assert.Equal(t, []bool{true}, rec.snapshot())
	assert.True(t, m.Connected())

	// Steady heartbeats keep the flag up without repeating the callback.
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		m.Observe()
	}
	assert.Equal(t, []bool{true}, rec.snapshot())

	// Silence for well past several timeout windows yields one false.
	clk.Advance(2999 * time.Millisecond)
	assert.Equal(t, []bool{true}, rec.snapshot())
	clk.Advance(time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.snapshot())
	clk.Advance(30 * time.Second)
	assert.Equal(t, []bool{true, false}, rec.snapshot())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestMonitor_ReconnectAfterTimeout(t *testing.T) {
	m, clk, rec := newTestMonitor(t)
	m.Start()

	m.Observe()
	clk.Advance(3 * time.Second)
	m.Observe()
	m.Observe()

	assert.Equal(t, []bool{true, false, true}, rec.snapshot())
	assert.True(t, m.Connected())
}

func TestMonitor_InitialTimeoutIsSilent(t *testing.T) {
	m, clk, rec := newTestMonitor(t)
	m.Start()

	clk.Advance(10 * time.Second)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, StateDisconnected, m.State())

	m.Observe()
	assert.Equal(t, []bool{true}, rec.snapshot())
}

func TestMonitor_StopCancelsTimeout(t *testing.T) {
	m, clk, rec := newTestMonitor(t)
	m.Start()
	m.Observe()

	m.Stop()
	assert.Equal(t, 0, clk.Pending())
	clk.Advance(time.Minute)
	m.Observe()

	assert.Equal(t, []bool{true}, rec.snapshot())
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m, clk, rec := newTestMonitor(t)
	other := &recorder{}
	unsub := m.OnChange(other.record)

	m.Observe()
	unsub()
	unsub()
	clk.Advance(3 * time.Second)

	assert.Equal(t, []bool{true, false}, rec.snapshot())
	assert.Equal(t, []bool{true}, other.snapshot())
}

func TestMonitor_LastSeen(t *testing.T) {
	m, clk, _ := newTestMonitor(t)
	assert.True(t, m.LastSeen().IsZero())

	clk.Advance(5 * time.Second)
	m.Observe()
	assert.Equal(t, clk.Now(), m.LastSeen())
}

func TestMonitor_RealClock(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewMonitor(Options{Role: "presentation", Timeout: 20 * time.Millisecond})
	changes := make(chan bool, 4)
	m.OnChange(func(v bool) { changes <- v })
	m.Start()
	m.Observe()

	require.True(t, <-changes)
	select {
	case v := <-changes:
		assert.False(t, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not fire")
	}
	m.Stop()
}
