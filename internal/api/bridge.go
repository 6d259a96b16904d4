// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sirrus7/ready-or-not-sub011/internal/broadcast"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
	"github.com/sirrus7/ready-or-not-sub011/internal/telemetry"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Largest envelope a remote context may send.
	maxEnvelopeSize = 16 << 10

	// Outbound frames buffered per connection before deliveries are dropped.
	sendBuffer = 64

	defaultPingInterval = 10 * time.Second
	defaultPongTimeout  = 30 * time.Second
)

// bridgeError is written back when an inbound frame is rejected. The
// connection stays open.
type bridgeError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// bridgeConn relays one remote browser context onto its session channel.
// A connection stands in for one remote page, so it owns a registry of its
// own: two sockets for the same role get separate channels and a remote
// context never receives its own messages back.
type bridgeConn struct {
	ctx    context.Context
	conn   *websocket.Conn
	ch     *broadcast.Channel
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger

	pingInterval time.Duration
	pongTimeout  time.Duration
}

func (b *bridgeConn) stop() {
	b.once.Do(func() { close(b.done) })
}

// enqueue never blocks the bus dispatcher. A slow reader loses frames.
func (b *bridgeConn) enqueue(payload []byte) {
	select {
	case b.send <- payload:
	case <-b.done:
	default:
		metrics.IncBusDropReason("bridge", "slow_consumer")
	}
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := s.cfg.CORSOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
		},
	}
}

// handleChannel upgrades to a WebSocket bridged onto the session bus as the
// role given in the query. The channel subscribes before the upgrade
// completes, so nothing published after the handshake is missed.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	role, err := broadcast.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	reg := broadcast.NewRegistry(s.transport)
	ch, err := reg.Acquire(s.rootCtx, sid, role)
	if err != nil {
		if errors.Is(err, broadcast.ErrInvalidSession) {
			writeError(w, r, err)
			return
		}
		writeProblem(w, r, http.StatusServiceUnavailable, "bus_unavailable", err.Error())
		return
	}

	pingInterval := s.cfg.Bus.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	pongTimeout := s.cfg.Bus.PongTimeout
	if pongTimeout <= pingInterval {
		pongTimeout = max(defaultPongTimeout, 3*pingInterval)
	}
	logger := log.WithComponentFromContext(r.Context(), "api.bridge").With().
		Str(log.FieldSessionID, sid).
		Str(log.FieldRole, string(role)).
		Logger()
	b := &bridgeConn{
		ctx:          s.rootCtx,
		ch:           ch,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		logger:       logger,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
	defer func() {
		if err := reg.Close(); err != nil {
			b.logger.Debug().Err(err).Msg("closing bridge channel")
		}
	}()
	unsubscribe := ch.OnEnvelope(func(env *broadcast.Envelope) {
		payload, err := json.Marshal(env)
		if err != nil {
			return
		}
		b.enqueue(payload)
	})
	defer unsubscribe()

	s.mu.Lock()
	s.bridges[b] = struct{}{}
	s.mu.Unlock()
	s.wg.Add(1)
	defer func() {
		s.mu.Lock()
		delete(s.bridges, b)
		s.mu.Unlock()
		s.wg.Done()
	}()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	b.conn = conn

	gauge := metrics.BusBridgesActive.WithLabelValues(string(role))
	gauge.Inc()
	defer gauge.Dec()
	b.logger.Info().Msg("bridge connected")
	_, finishSpan := telemetry.Start(r.Context(), "ron.api", "bus.bridge", telemetry.SessionAttributes(sid, string(role))...)
	defer func() {
		finishSpan(nil)
		b.logger.Info().Msg("bridge disconnected")
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		b.writePump()
	}()

	b.readPump()
	b.stop()
	<-writerDone
}

// readPump publishes inbound envelopes until the peer goes away or misses
// its pong deadline.
func (b *bridgeConn) readPump() {
	b.conn.SetReadLimit(maxEnvelopeSize)
	_ = b.conn.SetReadDeadline(time.Now().Add(b.pongTimeout))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(b.pongTimeout))
	})

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug().Err(err).Msg("bridge read ended")
			}
			return
		}
		var env broadcast.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.reject(err)
			continue
		}
		if err := b.ch.Publish(b.ctx, &env); err != nil {
			b.reject(err)
		}
	}
}

func (b *bridgeConn) reject(err error) {
	b.logger.Debug().Err(err).Msg("rejected inbound envelope")
	payload, _ := json.Marshal(bridgeError{Type: "error", Error: err.Error()})
	b.enqueue(payload)
}

// writePump is the connection's only writer. It sends queued envelopes and
// pings, and closes the socket when the bridge stops.
func (b *bridgeConn) writePump() {
	ticker := time.NewTicker(b.pingInterval)
	defer func() {
		ticker.Stop()
		_ = b.conn.Close()
	}()

	for {
		select {
		case payload := <-b.send:
			_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				b.stop()
				return
			}
		case <-ticker.C:
			_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.stop()
				return
			}
		case <-b.done:
			_ = b.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
