// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package eventsync

import (
	"log/slog"
	"sync"
)

// Bus event names the engine emits. The UI layer subscribes to these instead
// of coupling to the engine's internals.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
	EventCreated      = "eventCreated"
	EventUpdated      = "eventUpdated"
	EventDeleted      = "eventDeleted"
	EventUserJoined   = "userJoined"
	EventUserLeft     = "userLeft"
	EventCommentAdded = "commentAdded"
	EventSyncResponse = "syncResponse"
)

// Handler receives the payload published with Emit.
type Handler func(payload any)

// Subscription identifies one registered handler so it can be removed.
type Subscription struct {
	event string
	id    uint64
}

// Bus is a typed publish/subscribe dispatcher. Dispatch is synchronous, on
// the emitting goroutine, in registration order. A panicking handler is
// recovered and logged so the remaining handlers still run. Emitting with no
// listeners is a no-op.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]busEntry
	logger *slog.Logger
}

type busEntry struct {
	id uint64
	fn Handler
}

// NewBus creates an empty bus. Handler panics are reported to logger.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[string][]busEntry), logger: logger}
}

// On registers a handler for the named event and returns its subscription.
func (b *Bus) On(event string, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[event] = append(b.subs[event], busEntry{id: b.nextID, fn: fn})
	return Subscription{event: event, id: b.nextID}
}

// Off removes a previously registered handler. Removing an unknown
// subscription is a no-op.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.subs[sub.event]
	for i, e := range entries {
		if e.id == sub.id {
			b.subs[sub.event] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Emit publishes payload to every handler registered for event, in
// registration order, on the calling goroutine.
func (b *Bus) Emit(event string, payload any) {
	b.mu.RLock()
	entries := append([]busEntry(nil), b.subs[event]...)
	b.mu.RUnlock()
	for _, e := range entries {
		b.dispatch(event, e, payload)
	}
}

func (b *Bus) dispatch(event string, e busEntry, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	e.fn(payload)
}
