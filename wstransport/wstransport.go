// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package wstransport adapts a gorilla/websocket connection to the engine's
// Transport interface. Protocol-level liveness (ping/pong, read deadlines)
// lives here; the engine's own application heartbeat rides on top of it.
package wstransport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mobiletoly/go-eventsync/eventsync"
)

// Transport dials websocket endpoints. The zero value is not usable; call
// New.
type Transport struct {
	dialer    *websocket.Dialer
	header    http.Header
	writeWait time.Duration
	pongWait  time.Duration
}

// Option configures the transport.
type Option func(*Transport)

// WithHeader adds HTTP headers to the websocket handshake request.
func WithHeader(header http.Header) Option {
	return func(t *Transport) { t.header = header }
}

// WithTimeouts overrides the write deadline and pong wait.
func WithTimeouts(writeWait, pongWait time.Duration) Option {
	return func(t *Transport) {
		t.writeWait = writeWait
		t.pongWait = pongWait
	}
}

// New creates a websocket transport with sane defaults (10s write deadline,
// 60s pong wait).
func New(opts ...Option) *Transport {
	t := &Transport{
		dialer:    websocket.DefaultDialer,
		writeWait: 10 * time.Second,
		pongWait:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect dials the websocket endpoint and returns an established
// connection. Satisfies eventsync.Transport.
func (t *Transport) Connect(ctx context.Context, url string) (eventsync.Conn, error) {
	ws, _, err := t.dialer.DialContext(ctx, url, t.header)
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", url, err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(t.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(t.pongWait))
	})
	return &Conn{ws: ws, writeWait: t.writeWait, pongWait: t.pongWait}, nil
}

// Conn is one websocket connection. Send is safe for concurrent use;
// Receive must be called from a single goroutine (the engine's read loop).
type Conn struct {
	ws        *websocket.Conn
	writeWait time.Duration
	pongWait  time.Duration
	writeMu   sync.Mutex
}

// Send writes one text frame under the write deadline.
func (c *Conn) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Receive blocks until the next frame arrives. Returns an error once the
// connection is closed or the read deadline (refreshed by pongs) expires.
func (c *Conn) Receive() ([]byte, error) {
	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil, fmt.Errorf("websocket closed abnormally: %w", err)
			}
			return nil, err
		}
		// Refresh the deadline on any inbound traffic, not just pongs.
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return frame, nil
		}
	}
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}
