// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package eventsync implements an embedded, offline-first synchronization
// engine for collaborative event records. It keeps a local cache of events
// and their comment threads consistent with a remote source of truth over an
// unreliable message channel, applying local mutations optimistically and
// replaying unacknowledged operations once connectivity returns.
package eventsync

import (
	"encoding/json"
	"time"
)

// SyncStatus describes how a locally cached record relates to the server copy.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
	StatusFailed   SyncStatus = "failed"
)

// EventRecord is one collaborative event. The engine treats the content
// fields as an opaque payload; only the sync metadata (Version, IsDeleted,
// SyncStatus, LastUpdated) and the membership fields carry engine semantics.
type EventRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Date        string   `json:"date"`
	Location    string   `json:"location"`
	Cost        float64  `json:"cost"`
	Tags        []string `json:"tags,omitempty"`

	MaxParticipants     int      `json:"maxParticipants"`
	Participants        []string `json:"participants"`
	CurrentParticipants int      `json:"currentParticipants"`

	HostID   string `json:"hostId"`
	HostName string `json:"hostName"`

	LastUpdated time.Time  `json:"lastUpdated"`
	Version     int64      `json:"version"`
	IsDeleted   bool       `json:"isDeleted"`
	SyncStatus  SyncStatus `json:"syncStatus"`
}

// Clone returns a deep copy. The record store hands out and accepts only
// copies so that callers can never mutate cached state in place.
func (e *EventRecord) Clone() *EventRecord {
	if e == nil {
		return nil
	}
	c := *e
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	if e.Participants != nil {
		c.Participants = append([]string(nil), e.Participants...)
	}
	return &c
}

// HasParticipant reports whether userID is currently in the participant set.
func (e *EventRecord) HasParticipant(userID string) bool {
	for _, p := range e.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Reaction is a per-symbol tally on a comment.
type Reaction struct {
	Count   int      `json:"count"`
	UserIDs []string `json:"userIds"`
}

// EventComment is an append-only message attached to one EventRecord.
// Comments are never updated or deleted after creation.
type EventComment struct {
	ID         string              `json:"id"`
	EventID    string              `json:"eventId"`
	AuthorID   string              `json:"authorId"`
	AuthorName string              `json:"authorName"`
	Message    string              `json:"message"`
	Timestamp  time.Time           `json:"timestamp"`
	Reactions  map[string]Reaction `json:"reactions,omitempty"`
}

// Clone returns a deep copy of the comment.
func (c *EventComment) Clone() *EventComment {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Reactions != nil {
		cp.Reactions = make(map[string]Reaction, len(c.Reactions))
		for k, v := range c.Reactions {
			v.UserIDs = append([]string(nil), v.UserIDs...)
			cp.Reactions[k] = v
		}
	}
	return &cp
}

// OperationType identifies the kind of mutation a pending operation carries.
type OperationType string

const (
	OpEventCreated OperationType = "event_created"
	OpEventUpdated OperationType = "event_updated"
	OpEventDeleted OperationType = "event_deleted"
	OpUserJoined   OperationType = "user_joined"
	OpUserLeft     OperationType = "user_left"
	OpCommentAdded OperationType = "comment_added"
)

// PendingSyncOperation is a durable mutation intent that has not yet been
// acknowledged by the server. ID is the id of the entity the operation
// targets (the event id, or the comment id for comment_added), so an
// acknowledgment can be routed back to the queued entry.
type PendingSyncOperation struct {
	ID                string          `json:"id"`
	Type              OperationType   `json:"type"`
	Payload           json.RawMessage `json:"payload"`
	Timestamp         time.Time       `json:"timestamp"`
	OriginatingUserID string          `json:"originatingUserId"`
}
