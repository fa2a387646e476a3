// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package eventsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrEventNotFound is returned by mutations that target an id the local
// store has never observed, or one that is already tombstoned.
var ErrEventNotFound = errors.New("eventsync: event not found")

// Service is the sync protocol handler and the engine's public surface. It
// applies local mutations optimistically to the record store, queues them as
// pending operations until the server acknowledges them, and reconciles
// inbound server frames under last-writer-wins-by-version rules.
//
// Mutations never fail asynchronously from the caller's point of view: they
// return the optimistically applied state synchronously, and any later
// transport or server failure is reported through the event bus only.
//
// Construct one Service per signed-in session at the application's
// composition root and pass it to consumers explicitly.
type Service struct {
	cfg    *Config
	store  *RecordStore
	queue  *PendingQueue
	conn   *Manager
	bus    *Bus
	logger *slog.Logger

	// Serializes read-modify-write cycles on the store and queue. Entry
	// points may be called from multiple goroutines even though the engine
	// is designed for an event-loop style caller.
	mu sync.Mutex
}

// EventDraft is the caller-supplied content for a new event. Identity,
// ownership and sync metadata are filled in by the engine.
type EventDraft struct {
	Title           string
	Description     string
	Category        string
	Date            string
	Location        string
	MaxParticipants int
	Cost            float64
	Tags            []string
}

// EventUpdate carries the content fields to change; nil fields are left
// untouched. Membership and ownership are not updatable through this path.
type EventUpdate struct {
	Title           *string
	Description     *string
	Category        *string
	Date            *string
	Location        *string
	MaxParticipants *int
	Cost            *float64
	Tags            *[]string
}

// NewService wires the engine together: record store, pending queue over the
// given storage, connection manager over the given transport, and event bus.
// The persisted pending queue is restored (missing or unavailable storage
// starts empty) and the user id is cached for the next session.
func NewService(cfg *Config, storage Storage, transport Transport) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("config.UserID must be provided")
	}
	logger := cfg.logger()
	bus := NewBus(logger)
	s := &Service{
		cfg:    cfg,
		store:  NewRecordStore(),
		queue:  NewPendingQueue(storage, logger),
		bus:    bus,
		conn:   NewManager(cfg, transport, bus),
		logger: logger,
	}
	s.conn.SetHandler(s)
	if err := s.queue.Load(); err != nil {
		return nil, err
	}
	if err := CacheUserID(storage, cfg.UserID); err != nil {
		logger.Warn("failed to cache user id", "error", err)
	}
	return s, nil
}

// Bus exposes the event bus for subscribers.
func (s *Service) Bus() *Bus { return s.bus }

// Connection exposes the connection manager (state inspection, manual
// connect after the automatic retries gave up).
func (s *Service) Connection() *Manager { return s.conn }

// Connect starts the connection; non-blocking, outcome via the bus.
func (s *Service) Connect(ctx context.Context) error { return s.conn.Connect(ctx) }

// Close permanently shuts the connection down. Pending operations stay
// persisted for the next session.
func (s *Service) Close() error { return s.conn.Close() }

// Event returns the locally cached record, tombstones included.
func (s *Service) Event(id string) (*EventRecord, bool) { return s.store.Get(id) }

// Events returns all non-deleted records in unspecified order.
func (s *Service) Events() []*EventRecord { return s.store.ListActive() }

// Comments returns the event's comment thread in insertion order.
func (s *Service) Comments(eventID string) []*EventComment { return s.store.Comments(eventID) }

// PendingOperations returns a snapshot of the unacknowledged queue.
func (s *Service) PendingOperations() []PendingSyncOperation { return s.queue.Snapshot() }

// CreateEvent applies a new event optimistically and queues it for the
// server. The host is the signed-in user and joins the event immediately.
func (s *Service) CreateEvent(draft EventDraft) *EventRecord {
	now := time.Now()
	rec := &EventRecord{
		ID:                  NewID(),
		Title:               draft.Title,
		Description:         draft.Description,
		Category:            draft.Category,
		Date:                draft.Date,
		Location:            draft.Location,
		MaxParticipants:     draft.MaxParticipants,
		Cost:                draft.Cost,
		Tags:                append([]string(nil), draft.Tags...),
		Participants:        []string{s.cfg.UserID},
		CurrentParticipants: 1,
		HostID:              s.cfg.UserID,
		HostName:            s.cfg.UserName,
		LastUpdated:         now,
		Version:             1,
		SyncStatus:          StatusPending,
	}

	s.mu.Lock()
	s.store.Put(rec)
	s.mu.Unlock()

	s.bus.Emit(EventCreated, rec.Clone())
	s.submit(OpEventCreated, rec.ID, rec)
	return rec
}

// UpdateEvent applies content changes optimistically, bumping the version.
func (s *Service) UpdateEvent(id string, update EventUpdate) (*EventRecord, error) {
	s.mu.Lock()
	rec, ok := s.store.Get(id)
	if !ok || rec.IsDeleted {
		s.mu.Unlock()
		return nil, ErrEventNotFound
	}
	applyUpdate(rec, update)
	rec.Version++
	rec.SyncStatus = StatusPending
	rec.LastUpdated = time.Now()
	s.store.Put(rec)
	s.mu.Unlock()

	s.bus.Emit(EventUpdated, rec.Clone())
	s.submit(OpEventUpdated, rec.ID, rec)
	return rec, nil
}

// DeleteEvent tombstones the event locally and queues the deletion. The
// record is retained so later stale updates can still be rejected by
// version comparison.
func (s *Service) DeleteEvent(id string) error {
	s.mu.Lock()
	rec, ok := s.store.Get(id)
	if !ok || rec.IsDeleted {
		s.mu.Unlock()
		return ErrEventNotFound
	}
	rec, _ = s.store.MarkDeleted(id, rec.Version+1, StatusPending, time.Now())
	s.mu.Unlock()

	s.bus.Emit(EventDeleted, rec.Clone())
	s.submit(OpEventDeleted, id, EventDeletedPayload{EventID: id, Version: rec.Version})
	return nil
}

// JoinEvent adds the signed-in user to the event's participant set. Joining
// an event the user is already in refreshes lastUpdated but changes nothing
// else: no version bump, no queued operation.
func (s *Service) JoinEvent(id string) (*EventRecord, error) {
	return s.changeMembership(id, OpUserJoined)
}

// LeaveEvent removes the signed-in user from the participant set; the
// symmetric no-op rule applies when the user is not a participant.
func (s *Service) LeaveEvent(id string) (*EventRecord, error) {
	return s.changeMembership(id, OpUserLeft)
}

func (s *Service) changeMembership(id string, opType OperationType) (*EventRecord, error) {
	userID := s.cfg.UserID

	s.mu.Lock()
	rec, ok := s.store.Get(id)
	if !ok || rec.IsDeleted {
		s.mu.Unlock()
		return nil, ErrEventNotFound
	}
	now := time.Now()
	changed := false
	switch opType {
	case OpUserJoined:
		if !rec.HasParticipant(userID) {
			rec.Participants = append(rec.Participants, userID)
			changed = true
		}
	case OpUserLeft:
		for i, p := range rec.Participants {
			if p == userID {
				rec.Participants = append(rec.Participants[:i], rec.Participants[i+1:]...)
				changed = true
				break
			}
		}
	}
	rec.CurrentParticipants = len(rec.Participants)
	rec.LastUpdated = now
	if changed {
		rec.Version++
		rec.SyncStatus = StatusPending
	}
	s.store.Put(rec)
	s.mu.Unlock()

	if !changed {
		return rec, nil
	}

	busEvent := EventUserJoined
	if opType == OpUserLeft {
		busEvent = EventUserLeft
	}
	s.bus.Emit(busEvent, rec.Clone())
	s.submit(opType, id, MembershipPayload{
		EventID:  id,
		UserID:   userID,
		UserName: s.cfg.UserName,
		Version:  rec.Version,
	})
	return rec, nil
}

// AddComment appends a comment to the event's thread. Comments are an
// immutable log: they are never updated or deleted after creation.
func (s *Service) AddComment(eventID, message string) (*EventComment, error) {
	s.mu.Lock()
	if _, ok := s.store.Get(eventID); !ok {
		s.mu.Unlock()
		return nil, ErrEventNotFound
	}
	c := &EventComment{
		ID:         NewID(),
		EventID:    eventID,
		AuthorID:   s.cfg.UserID,
		AuthorName: s.cfg.UserName,
		Message:    message,
		Timestamp:  time.Now(),
	}
	s.store.AppendComment(c)
	s.mu.Unlock()

	s.bus.Emit(EventCommentAdded, c.Clone())
	s.submit(OpCommentAdded, c.ID, c)
	return c, nil
}

// submit records the mutation as a pending operation (ack-gated removal)
// and fires it immediately when a connection is up. Persistence failures
// degrade to in-memory queueing; they are logged, never surfaced to the
// mutation caller, because the optimistic local apply already succeeded.
func (s *Service) submit(opType OperationType, id string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal pending op payload", "op", opType, "id", id, "error", err)
		return
	}
	op := PendingSyncOperation{
		ID:                id,
		Type:              opType,
		Payload:           data,
		Timestamp:         time.Now(),
		OriginatingUserID: s.cfg.UserID,
	}
	if err := s.queue.Enqueue(op); err != nil {
		s.logger.Warn("pending op queued in memory only", "op", opType, "id", id, "error", err)
	}
	if !s.conn.IsConnected() {
		return
	}
	frame, err := NewOperationEnvelope(&op).Encode()
	if err != nil {
		s.logger.Error("failed to encode op frame", "op", opType, "id", id, "error", err)
		return
	}
	if err := s.conn.Send(frame); err != nil {
		// Stays queued; next connect drains it.
		s.logger.Debug("op send deferred to reconnect drain", "op", opType, "id", id, "error", err)
	}
}

// HandleConnected drains the pending queue in enqueue order. Entries stay
// queued until their acknowledgments arrive, so a drain interrupted by
// another disconnect simply repeats on the next connect; the server treats
// replayed versions as stale duplicates.
func (s *Service) HandleConnected() {
	err := s.queue.DrainInOrder(func(op PendingSyncOperation) error {
		frame, err := NewOperationEnvelope(&op).Encode()
		if err != nil {
			return err
		}
		return s.conn.Send(frame)
	})
	if err != nil {
		s.logger.Warn("pending queue drain interrupted", "error", err)
	}
}

// HandleFrame decodes and applies one inbound server frame. Malformed
// frames are logged and dropped; they never tear the connection down.
func (s *Service) HandleFrame(frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		s.logger.Warn("dropping malformed frame", "error", err)
		return
	}
	payload, err := env.DecodePayload()
	if err != nil {
		s.logger.Warn("dropping undecodable frame", "type", env.Type, "error", err)
		return
	}

	switch p := payload.(type) {
	case *EventRecord:
		s.applyRemoteRecord(env.Type, p)
	case *EventDeletedPayload:
		s.applyRemoteDelete(p)
	case *MembershipPayload:
		s.applyRemoteMembership(env.Type, p)
	case *EventComment:
		s.applyRemoteComment(p)
	case *SyncResponsePayload:
		s.applySyncResponse(p)
	case nil:
		if env.Type == MsgHeartbeat {
			s.replyHeartbeat()
		}
	default:
		s.logger.Debug("ignoring frame", "type", env.Type)
	}
}

// applyRemoteRecord handles event_created and event_updated. The sole
// conflict rule: the incoming record wins only when its version is strictly
// greater than the local one. Anything else is a stale duplicate, dropped
// silently with no notification.
func (s *Service) applyRemoteRecord(msgType MessageType, incoming *EventRecord) {
	s.mu.Lock()
	local, ok := s.store.Get(incoming.ID)
	if ok && incoming.Version <= local.Version {
		s.mu.Unlock()
		s.logger.Debug("dropping stale record frame",
			"id", incoming.ID, "incoming", incoming.Version, "local", local.Version)
		return
	}
	incoming.SyncStatus = StatusSynced
	s.store.Put(incoming)
	s.mu.Unlock()

	busEvent := EventCreated
	if msgType == MsgEventUpdated || ok {
		busEvent = EventUpdated
	}
	s.bus.Emit(busEvent, incoming.Clone())
}

func (s *Service) applyRemoteDelete(p *EventDeletedPayload) {
	s.mu.Lock()
	local, ok := s.store.Get(p.EventID)
	if !ok || local.Version >= p.Version {
		s.mu.Unlock()
		return
	}
	rec, _ := s.store.MarkDeleted(p.EventID, p.Version, StatusSynced, time.Now())
	s.mu.Unlock()

	s.bus.Emit(EventDeleted, rec.Clone())
}

// applyRemoteMembership handles user_joined and user_left. Membership is an
// idempotent set update: adding a user already present or removing one
// already absent changes nothing but still refreshes lastUpdated, and never
// double-counts currentParticipants.
func (s *Service) applyRemoteMembership(msgType MessageType, p *MembershipPayload) {
	s.mu.Lock()
	rec, ok := s.store.Get(p.EventID)
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("membership frame for unknown event", "eventId", p.EventID)
		return
	}
	changed := false
	switch msgType {
	case MsgUserJoined:
		if !rec.HasParticipant(p.UserID) {
			rec.Participants = append(rec.Participants, p.UserID)
			changed = true
		}
	case MsgUserLeft:
		for i, u := range rec.Participants {
			if u == p.UserID {
				rec.Participants = append(rec.Participants[:i], rec.Participants[i+1:]...)
				changed = true
				break
			}
		}
	}
	rec.CurrentParticipants = len(rec.Participants)
	rec.LastUpdated = time.Now()
	if p.Version > rec.Version {
		rec.Version = p.Version
	}
	s.store.Put(rec)
	s.mu.Unlock()

	if !changed {
		return
	}
	busEvent := EventUserJoined
	if msgType == MsgUserLeft {
		busEvent = EventUserLeft
	}
	s.bus.Emit(busEvent, rec.Clone())
}

func (s *Service) applyRemoteComment(c *EventComment) {
	s.mu.Lock()
	appended := s.store.AppendComment(c)
	s.mu.Unlock()

	// Duplicate ids are resend echoes of our own comment; drop quietly.
	if appended {
		s.bus.Emit(EventCommentAdded, c.Clone())
	}
}

// applySyncResponse settles a previously sent operation. Success removes the
// oldest queued operation for that id and, once nothing else is in flight
// for the entity, flips its record to synced. Failure keeps the operation
// queued for the next drain, marks the record failed, and surfaces the
// server's error to subscribers.
func (s *Service) applySyncResponse(p *SyncResponsePayload) {
	s.mu.Lock()
	if p.Success {
		if _, err := s.queue.Remove(p.ID); err != nil {
			s.logger.Warn("failed to persist queue after ack", "id", p.ID, "error", err)
		}
		if rec, ok := s.store.Get(p.ID); ok && !s.queue.HasOperationFor(p.ID) {
			rec.SyncStatus = StatusSynced
			s.store.Put(rec)
		}
	} else {
		if rec, ok := s.store.Get(p.ID); ok {
			rec.SyncStatus = StatusFailed
			s.store.Put(rec)
		}
		s.logger.Warn("server rejected operation", "id", p.ID, "error", p.Error)
	}
	s.mu.Unlock()

	s.bus.Emit(EventSyncResponse, p)
}

func (s *Service) replyHeartbeat() {
	env := &Envelope{Type: MsgHeartbeatResponse}
	frame, err := env.Encode()
	if err != nil {
		return
	}
	if err := s.conn.Send(frame); err != nil {
		s.logger.Debug("heartbeat response send failed", "error", err)
	}
}

func applyUpdate(rec *EventRecord, u EventUpdate) {
	if u.Title != nil {
		rec.Title = *u.Title
	}
	if u.Description != nil {
		rec.Description = *u.Description
	}
	if u.Category != nil {
		rec.Category = *u.Category
	}
	if u.Date != nil {
		rec.Date = *u.Date
	}
	if u.Location != nil {
		rec.Location = *u.Location
	}
	if u.MaxParticipants != nil {
		rec.MaxParticipants = *u.MaxParticipants
	}
	if u.Cost != nil {
		rec.Cost = *u.Cost
	}
	if u.Tags != nil {
		rec.Tags = append([]string(nil), *u.Tags...)
	}
}
