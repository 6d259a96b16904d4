// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
)

// MemoryTransport is an in-process Transport for a single daemon and tests.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub
	closed bool
}

const dropLogEvery = 100

var dropCount atomic.Uint64

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string][]*memSub)}
}

// Name implements Transport.
func (t *MemoryTransport) Name() string { return "memory" }

// Publish implements Transport. Delivery into a full subscriber queue is
// dropped and counted.
func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish topic %q: %w", topic, err)
	}

	// Sending under the read lock keeps Close from closing a channel mid-send.
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTransportClosed
	}
	for _, s := range t.subs[topic] {
		select {
		case s.ch <- Delivery{Topic: topic, Payload: payload}:
		default:
			metrics.IncBusDropReason(t.Name(), "subscriber_full")
			if count := dropCount.Add(1); count%dropLogEvery == 0 {
				log.L().Warn().
					Str("topic", topic).
					Uint64("dropped", count).
					Msg("memory transport dropping messages for a slow subscriber")
			}
		}
	}
	return nil
}

// Subscribe implements Transport.
func (t *MemoryTransport) Subscribe(_ context.Context, topic string) (Subscription, error) {
	s := &memSub{t: t, topic: topic, ch: make(chan Delivery, subscriberBuffer)}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	t.subs[topic] = append(t.subs[topic], s)
	return s, nil
}

// Subscribers reports the number of live subscriptions on topic.
func (t *MemoryTransport) Subscribers(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs[topic])
}

// Close implements Transport and closes every subscription.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for topic, lst := range t.subs {
		for _, s := range lst {
			s.closeLocked()
		}
		delete(t.subs, topic)
	}
	return nil
}

type memSub struct {
	t      *MemoryTransport
	topic  string
	ch     chan Delivery
	closed bool
}

func (s *memSub) C() <-chan Delivery { return s.ch }

func (s *memSub) Close() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	lst := s.t.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.t.subs, s.topic)
	} else {
		s.t.subs[s.topic] = out
	}
	s.closeLocked()
	return nil
}

// closeLocked requires the transport write lock.
func (s *memSub) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

var _ Transport = (*MemoryTransport)(nil)
