// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package eventsync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// PendingQueue is the durable, ordered queue of mutations not yet
// acknowledged by the server. Operations are persisted and replayed strictly
// in enqueue order; the queue never reorders or deduplicates. An entry is
// removed only on an explicit server acknowledgment, so a crash mid-drain
// simply redoes the same sends on next connect — safe because the protocol
// layer rejects duplicates by version comparison.
type PendingQueue struct {
	mu      sync.Mutex
	storage Storage
	ops     []PendingSyncOperation
	dirty   bool // persistence failed; retry on next mutating call
	logger  *slog.Logger
}

// NewPendingQueue creates a queue over the given storage. A nil storage is
// allowed; the queue then operates purely in memory.
func NewPendingQueue(storage Storage, logger *slog.Logger) *PendingQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingQueue{storage: storage, logger: logger}
}

// Load restores the persisted queue. Missing or unavailable storage is
// treated as an empty queue, never an error that prevents startup.
func (q *PendingQueue) Load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.storage == nil {
		return nil
	}
	raw, ok, err := q.storage.Get(StorageKeyPendingOps)
	if err != nil {
		q.logger.Warn("pending queue storage unavailable, starting empty", "error", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var ops []PendingSyncOperation
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return fmt.Errorf("restore pending queue: %w", err)
	}
	q.ops = ops
	return nil
}

// Enqueue appends the operation and persists the full queue before
// returning. On a persistence failure the operation is retained in memory
// and the error is returned; the queue keeps operating in degraded
// (non-durable) mode and retries persistence on the next mutating call.
func (q *PendingQueue) Enqueue(op PendingSyncOperation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
	return q.persistLocked()
}

// Remove deletes the oldest operation targeting the given entity id (the
// order acknowledgments arrive in for a single entity), then re-persists.
// Returns false when no queued operation matches.
func (q *PendingQueue) Remove(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return true, q.persistLocked()
		}
	}
	return false, nil
}

// DrainInOrder invokes send for every queued operation, oldest to newest,
// stopping at the first send error. Entries are not removed here; removal
// happens only when the matching acknowledgment arrives.
func (q *PendingQueue) DrainInOrder(send func(op PendingSyncOperation) error) error {
	for _, op := range q.Snapshot() {
		if err := send(op); err != nil {
			return fmt.Errorf("drain pending op %s (%s): %w", op.ID, op.Type, err)
		}
	}
	return nil
}

// Snapshot returns a copy of the queue, oldest first.
func (q *PendingQueue) Snapshot() []PendingSyncOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingSyncOperation(nil), q.ops...)
}

// Len returns the number of queued operations.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// HasOperationFor reports whether any queued operation targets the id.
func (q *PendingQueue) HasOperationFor(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.ops {
		if op.ID == id {
			return true
		}
	}
	return false
}

func (q *PendingQueue) persistLocked() error {
	if q.storage == nil {
		return nil
	}
	data, err := json.Marshal(q.ops)
	if err != nil {
		return fmt.Errorf("marshal pending queue: %w", err)
	}
	if err := q.storage.Set(StorageKeyPendingOps, string(data)); err != nil {
		if !q.dirty {
			q.logger.Warn("pending queue persistence failed, operating in memory only", "error", err)
		}
		q.dirty = true
		return fmt.Errorf("persist pending queue: %w", err)
	}
	if q.dirty {
		q.logger.Info("pending queue persistence recovered")
		q.dirty = false
	}
	return nil
}
