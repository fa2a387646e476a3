// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package eventsync

import (
	"sync"
	"time"
)

// RecordStore is the in-memory cache of event records and per-event comment
// threads: the single source of truth for callers between server
// round-trips. Mutations are synchronous, never perform I/O, and never
// remove an observed record; deletion is a tombstone flag so that version
// comparisons against late-arriving stale updates stay well-defined.
//
// The store owns its instances. Every accessor returns a deep copy and every
// writer stores a copy, so cached state can never be mutated in place by a
// caller.
type RecordStore struct {
	mu       sync.RWMutex
	events   map[string]*EventRecord
	comments map[string][]*EventComment
}

// NewRecordStore creates an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		events:   make(map[string]*EventRecord),
		comments: make(map[string][]*EventComment),
	}
}

// Get returns a copy of the record, or ok=false on a miss. Tombstoned
// records are still returned; callers check IsDeleted.
func (s *RecordStore) Get(id string) (*EventRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.events[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Put stores a copy of the record, replacing any existing entry.
func (s *RecordStore) Put(rec *EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[rec.ID] = rec.Clone()
}

// MarkDeleted tombstones the record at the given version and sync status.
// The record stays in the store. Returns ok=false if the id has never been
// observed.
func (s *RecordStore) MarkDeleted(id string, version int64, status SyncStatus, at time.Time) (*EventRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[id]
	if !ok {
		return nil, false
	}
	rec.IsDeleted = true
	rec.Version = version
	rec.SyncStatus = status
	rec.LastUpdated = at
	return rec.Clone(), true
}

// ListActive returns copies of all non-tombstoned records, in unspecified
// order. Callers sort as needed.
func (s *RecordStore) ListActive() []*EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*EventRecord, 0, len(s.events))
	for _, rec := range s.events {
		if !rec.IsDeleted {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Len returns the total number of records, tombstones included.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// AppendComment appends a copy of the comment to its event's thread.
// Returns false if a comment with the same id is already present; inbound
// duplicates (resend echoes) are dropped this way.
func (s *RecordStore) AppendComment(c *EventComment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.comments[c.EventID] {
		if existing.ID == c.ID {
			return false
		}
	}
	s.comments[c.EventID] = append(s.comments[c.EventID], c.Clone())
	return true
}

// Comments returns copies of the event's comments in insertion order.
func (s *RecordStore) Comments(eventID string) []*EventComment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread := s.comments[eventID]
	out := make([]*EventComment, 0, len(thread))
	for _, c := range thread {
		out = append(out, c.Clone())
	}
	return out
}
