// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broadcast

import (
	"context"
	"errors"
)

// subscriberBuffer is the per-subscription queue depth. A subscriber that
// falls this far behind loses messages instead of stalling publishers.
const subscriberBuffer = 64

// ErrTransportClosed is returned by a transport after Close.
var ErrTransportClosed = errors.New("broadcast transport closed")

// Delivery is one raw message received on a topic.
type Delivery struct {
	Topic   string
	Payload []byte
}

// Subscription receives deliveries for one topic until closed.
type Subscription interface {
	C() <-chan Delivery
	Close() error
}

// Transport is a best-effort, at-most-once topic fan-out. Publishing never
// blocks on slow subscribers; per-publisher order is preserved.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Name() string
	Close() error
}
