// Package durable persists the client's small string blobs: the cached
// lists, the offline log, the selected list and the guest list.
package durable

import (
	"context"
	"sync"
)

// Store is a get/set/remove key-value store for string blobs. Get reports
// ok=false for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

const GuestListKey = "guest-list"

func ListsCacheKey(identity string) string {
	return "lists-cache:" + identity
}

func OfflineQueueKey(identity string) string {
	return "offline-queue:" + identity
}

func SelectedListKey(identity string) string {
	return "selected-list:" + identity
}

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
