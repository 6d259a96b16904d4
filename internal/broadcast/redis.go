// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
)

// RedisTransport fans session traffic out across daemons with Redis pub/sub.
// Redis pub/sub is itself fire-and-forget, which matches the channel's
// at-most-once contract.
type RedisTransport struct {
	client *redis.Client
	prefix string
}

// NewRedisTransport wraps client. Topics are namespaced with prefix.
func NewRedisTransport(client *redis.Client, prefix string) *RedisTransport {
	return &RedisTransport{client: client, prefix: prefix}
}

// Name implements Transport.
func (t *RedisTransport) Name() string { return "redis" }

// Publish implements Transport.
func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.client.Publish(ctx, t.prefix+topic, payload).Err(); err != nil {
		metrics.IncBusDropReason(t.Name(), "publish_error")
		return fmt.Errorf("redis publish %q: %w", topic, err)
	}
	return nil
}

// Subscribe implements Transport. It returns once Redis confirmed the
// subscription so that no message published afterwards is missed.
func (t *RedisTransport) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := t.client.Subscribe(ctx, t.prefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", topic, err)
	}

	s := &redisSub{
		ps:    ps,
		topic: topic,
		ch:    make(chan Delivery, subscriberBuffer),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.pump()
	return s, nil
}

// Close implements Transport. The client is owned by the caller.
func (t *RedisTransport) Close() error { return nil }

type redisSub struct {
	ps    *redis.PubSub
	topic string
	ch    chan Delivery
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func (s *redisSub) pump() {
	defer s.wg.Done()
	defer close(s.ch)

	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- Delivery{Topic: s.topic, Payload: []byte(msg.Payload)}:
			default:
				metrics.IncBusDropReason("redis", "subscriber_full")
				log.L().Debug().Str("topic", s.topic).Msg("redis subscriber full, dropping message")
			}
		}
	}
}

func (s *redisSub) C() <-chan Delivery { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		s.wg.Wait()
	})
	return err
}

var _ Transport = (*RedisTransport)(nil)
