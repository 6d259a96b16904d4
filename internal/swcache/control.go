// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package swcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
)

// DefaultReplyTimeout bounds how long a client waits for a reply.
const DefaultReplyTimeout = 2 * time.Second

// ErrNoReply is returned when the interceptor does not answer in time,
// typically because its control loop is not running yet.
var ErrNoReply = errors.New("swcache: no reply from video cache")

// ControlType names a control message.
type ControlType string

const (
	SkipWaiting     ControlType = "SKIP_WAITING"
	ClearVideoCache ControlType = "CLEAR_VIDEO_CACHE"
	CacheStatus     ControlType = "CACHE_STATUS"
)

// ControlMessage is sent to the interceptor's control loop.
type ControlMessage struct {
	Type ControlType `json:"type"`
}

// ControlReply answers CLEAR_VIDEO_CACHE ({success}) and CACHE_STATUS
// ({cached, urls}).
type ControlReply struct {
	Success *bool    `json:"success,omitempty"`
	Cached  *int     `json:"cached,omitempty"`
	URLs    []string `json:"urls,omitempty"`
}

// MarshalJSON always carries urls on a status reply, even an empty one.
func (r ControlReply) MarshalJSON() ([]byte, error) {
	type plain ControlReply
	if r.Cached == nil {
		return json.Marshal(plain(r))
	}
	urls := r.URLs
	if urls == nil {
		urls = []string{}
	}
	return json.Marshal(struct {
		Cached int      `json:"cached"`
		URLs   []string `json:"urls"`
	}{Cached: *r.Cached, URLs: urls})
}

type envelope struct {
	msg   ControlMessage
	reply chan<- ControlReply
}

// Post queues msg for the control loop. reply may be nil; a reply channel
// needs room for one value.
func (i *Interceptor) Post(ctx context.Context, msg ControlMessage, reply chan<- ControlReply) error {
	select {
	case i.inbox <- envelope{msg: msg, reply: reply}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes control messages until ctx is done.
func (i *Interceptor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-i.inbox:
			i.handleControl(ctx, env)
		}
	}
}

func (i *Interceptor) handleControl(ctx context.Context, env envelope) {
	logger := i.logger.With().Str(log.FieldEvent, string(env.msg.Type)).Logger()
	var reply *ControlReply

	switch env.msg.Type {
	case SkipWaiting:
		if _, err := i.Activate(ctx); err != nil {
			logger.Warn().Err(err).Msg("activation failed")
		}
	case ClearVideoCache:
		ok := true
		if _, err := i.storage.DeleteCache(ctx, i.cacheName); err != nil {
			logger.Warn().Err(err).Msg("clear failed")
			ok = false
		}
		reply = &ControlReply{Success: &ok}
	case CacheStatus:
		urls, err := i.storage.Keys(ctx, i.cacheName)
		if err != nil {
			logger.Warn().Err(err).Msg("status failed")
		}
		if urls == nil {
			urls = []string{}
		}
		n := len(urls)
		reply = &ControlReply{Cached: &n, URLs: urls}
	default:
		logger.Debug().Msg("unknown control message")
	}

	if reply == nil || env.reply == nil {
		return
	}
	select {
	case env.reply <- *reply:
	default:
	}
}

// Client talks to an interceptor's control loop with a reply timeout.
type Client struct {
	i       *Interceptor
	timeout time.Duration
}

// NewClient returns a client; timeout <= 0 selects DefaultReplyTimeout.
func NewClient(i *Interceptor, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &Client{i: i, timeout: timeout}
}

// SkipWaiting asks the interceptor to activate now. There is no reply.
func (c *Client) SkipWaiting(ctx context.Context) error {
	return c.i.Post(ctx, ControlMessage{Type: SkipWaiting}, nil)
}

// Clear drops every cached video of the current version.
func (c *Client) Clear(ctx context.Context) (bool, error) {
	r, err := c.request(ctx, ClearVideoCache)
	if err != nil {
		return false, err
	}
	return r.Success != nil && *r.Success, nil
}

// Status lists the cached video URLs.
func (c *Client) Status(ctx context.Context) (int, []string, error) {
	r, err := c.request(ctx, CacheStatus)
	if err != nil {
		return 0, nil, err
	}
	n := 0
	if r.Cached != nil {
		n = *r.Cached
	}
	return n, r.URLs, nil
}

// Request sends any control message and waits for its reply.
func (c *Client) Request(ctx context.Context, t ControlType) (ControlReply, error) {
	return c.request(ctx, t)
}

func (c *Client) request(ctx context.Context, t ControlType) (ControlReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply := make(chan ControlReply, 1)
	if err := c.i.Post(ctx, ControlMessage{Type: t}, reply); err != nil {
		return ControlReply{}, fmt.Errorf("%w: %v", ErrNoReply, err)
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return ControlReply{}, fmt.Errorf("%w: %s", ErrNoReply, t)
	}
}
