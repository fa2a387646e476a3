// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package eventsync

import "sync"

// Storage keys used by the engine.
const (
	StorageKeyPendingOps = "eventsync.pending_ops"
	StorageKeyUserID     = "eventsync.user_id"
)

// Storage is the durable key/value capability the engine consumes. It backs
// the pending-operation queue and the last-known user id. Implementations
// must tolerate being empty or unavailable at startup; the engine degrades
// to in-memory operation when Set fails.
type Storage interface {
	// Get returns the stored value, or ok=false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	// Set durably stores value under key before returning.
	Set(key, value string) error
}

// MemoryStorage is a Storage backed by a map. It is the fallback when no
// durable adapter is supplied, and the restart-simulation vehicle in tests
// (two queues sharing one MemoryStorage model a process restart).
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// CachedUserID returns the last user id persisted via CacheUserID, or ""
// when none is stored or storage is unavailable.
func CachedUserID(storage Storage) string {
	if storage == nil {
		return ""
	}
	v, ok, err := storage.Get(StorageKeyUserID)
	if err != nil || !ok {
		return ""
	}
	return v
}

// CacheUserID persists the signed-in user id so it survives restarts.
func CacheUserID(storage Storage, userID string) error {
	if storage == nil {
		return nil
	}
	return storage.Set(StorageKeyUserID, userID)
}
