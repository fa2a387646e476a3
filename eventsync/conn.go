// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package eventsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Transport is the injected channel capability. A production adapter wraps a
// real socket (see the wstransport package); tests supply a scripted fake.
type Transport interface {
	Connect(ctx context.Context, url string) (Conn, error)
}

// Conn is one established bidirectional connection. Receive blocks until a
// frame arrives and returns an error once the connection is closed or lost.
type Conn interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// ConnHandler receives connection-level callbacks. The sync service
// implements it: HandleConnected drains the pending queue, HandleFrame
// applies an inbound frame. The manager itself never touches the stores.
type ConnHandler interface {
	HandleConnected()
	HandleFrame(frame []byte)
}

// ConnState is the connection manager's state machine position.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrNotConnected is returned by Send when no connection is established.
	ErrNotConnected = errors.New("eventsync: not connected")
	// ErrClosed is returned once the manager has been explicitly closed.
	ErrClosed = errors.New("eventsync: connection manager closed")
)

// Manager owns the transport lifecycle: connect, authenticate, heartbeat,
// disconnection detection and exponential-backoff reconnect. Reconnects stop
// after Config.MaxReconnectAttempts and surface a persistent error event;
// the caller resumes by calling Connect again.
type Manager struct {
	cfg       *Config
	transport Transport
	bus       *Bus
	logger    *slog.Logger

	mu       sync.Mutex
	state    ConnState
	conn     Conn
	handler  ConnHandler
	attempts int
	gen      uint64 // connection generation; guards callbacks from stale connections
	ctx      context.Context
	timer    *time.Timer
	stopBeat chan struct{}
}

// NewManager creates a connection manager. The handler is attached later via
// SetHandler because the service and the manager reference each other.
func NewManager(cfg *Config, transport Transport, bus *Bus) *Manager {
	return &Manager{
		cfg:       cfg,
		transport: transport,
		bus:       bus,
		logger:    cfg.logger(),
		state:     StateDisconnected,
	}
}

// SetHandler attaches the frame/connected handler. Must be called before
// Connect.
func (m *Manager) SetHandler(h ConnHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// State returns the current state machine position.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether frames can be sent right now.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect starts establishing a connection. It returns immediately; the
// outcome is observable through the event bus. Calling Connect resets the
// reconnect-attempt counter, which is how the caller resumes after the
// automatic retries have been exhausted. Returns ErrClosed after Close.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateClosed:
		return ErrClosed
	case StateConnecting, StateConnected:
		return nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = StateConnecting
	m.attempts = 0
	m.ctx = ctx
	gen := m.gen
	go m.dial(ctx, gen)
	return nil
}

// Close tears the connection down permanently. No reconnection is attempted
// afterwards; a closed manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.conn
	m.conn = nil
	m.stopHeartbeatLocked()
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.bus.Emit(EventDisconnected, nil)
	return nil
}

// Send transmits one frame over the current connection.
func (m *Manager) Send(frame []byte) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()
	return conn.Send(frame)
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	conn, err := m.transport.Connect(ctx, m.cfg.URL)

	m.mu.Lock()
	if m.gen != gen || m.state == StateClosed {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		m.logger.Warn("connect failed", "url", m.cfg.URL, "error", err)
		m.bus.Emit(EventDisconnected, nil)
		m.scheduleReconnect()
		return
	}

	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	stop := make(chan struct{})
	m.stopBeat = stop
	handler := m.handler
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.cfg.URL)

	// Auth goes out before anything else so the server can attribute the
	// frames that follow, including the queued operations about to drain.
	if err := m.sendAuth(ctx, conn); err != nil {
		m.logger.Warn("auth frame failed", "error", err)
	}

	m.bus.Emit(EventConnected, nil)

	go m.readLoop(conn, gen)
	go m.heartbeatLoop(conn, stop)

	if handler != nil {
		handler.HandleConnected()
	}
}

func (m *Manager) sendAuth(ctx context.Context, conn Conn) error {
	payload := AuthPayload{UserID: m.cfg.UserID}
	if m.cfg.TokenProvider != nil {
		token, err := m.cfg.TokenProvider(ctx)
		if err != nil {
			return fmt.Errorf("auth token: %w", err)
		}
		payload.Token = token
	}
	env, err := NewEnvelope(MsgAuth, payload)
	if err != nil {
		return err
	}
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		frame, err := conn.Receive()
		if err != nil {
			m.handleConnectionLost(gen, err)
			return
		}
		m.mu.Lock()
		stale := m.gen != gen
		handler := m.handler
		m.mu.Unlock()
		if stale {
			return
		}
		if handler != nil {
			handler.HandleFrame(frame)
		}
	}
}

func (m *Manager) heartbeatLoop(conn Conn, stop chan struct{}) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	env := &Envelope{Type: MsgHeartbeat}
	frame, err := env.Encode()
	if err != nil {
		return
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.Send(frame); err != nil {
				// Read loop observes the broken connection and handles it.
				m.logger.Debug("heartbeat send failed", "error", err)
				return
			}
		}
	}
}

func (m *Manager) handleConnectionLost(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.stopHeartbeatLocked()
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.logger.Warn("connection lost", "error", cause)
	m.bus.Emit(EventDisconnected, nil)
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.logger.Error("reconnect attempts exhausted", "attempts", m.cfg.MaxReconnectAttempts)
		m.bus.Emit(EventError, fmt.Errorf("eventsync: reconnect attempts exhausted after %d tries", m.cfg.MaxReconnectAttempts))
		return
	}
	delay := m.cfg.ReconnectBaseDelay * time.Duration(1<<m.attempts)
	m.attempts++
	m.state = StateReconnecting
	gen := m.gen
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	attempt := m.attempts
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.gen != gen || m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()
		m.dial(ctx, gen)
	})
	m.mu.Unlock()
	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (m *Manager) stopHeartbeatLocked() {
	if m.stopBeat != nil {
		close(m.stopBeat)
		m.stopBeat = nil
	}
}
