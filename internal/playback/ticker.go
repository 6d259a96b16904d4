// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"sync"
	"time"

	"github.com/sirrus7/ready-or-not-sub011/internal/liveness"
)

// ticker calls fn every interval on the given clock until stopped.
type ticker struct {
	clock    liveness.Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   liveness.Timer
	stopped bool
}

func startTicker(clock liveness.Clock, interval time.Duration, fn func()) *ticker {
	t := &ticker{clock: clock, interval: interval, fn: fn}
	t.mu.Lock()
	t.timer = clock.AfterFunc(interval, t.tick)
	t.mu.Unlock()
	return t
}

func (t *ticker) tick() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.fn()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.timer = t.clock.AfterFunc(t.interval, t.tick)
	}
}

func (t *ticker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
