// Package kv provides the durable string store the result cache persists
// through, so cached discovery results survive process restarts.
package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is a generic string key/value store.
type Store interface {
	// GetString returns the value for key and whether it was present.
	GetString(ctx context.Context, key string) (string, bool, error)
	// SetString stores value under key, replacing any previous value.
	SetString(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Range calls fn for every entry until fn returns false.
	Range(ctx context.Context, fn func(key, value string) bool) error
	// Len returns the number of stored entries.
	Len(ctx context.Context) (int64, error)
	// Clear removes every entry.
	Clear(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// Expiring is implemented by stores that can drop a value on their own once
// it has outlived a TTL.
type Expiring interface {
	SetStringTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// Memory is an in-process Store. Its contents do not survive a restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) GetString(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) SetString(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Range visits entries in key order.
func (m *Memory) Range(_ context.Context, fn func(key, value string) bool) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	snapshot := make(map[string]string, len(m.data))
	for k, v := range m.data {
		keys = append(keys, k)
		snapshot[k] = v
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if !fn(k, snapshot[k]) {
			return nil
		}
	}
	return nil
}

func (m *Memory) Len(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data)), nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]string)
	return nil
}

func (m *Memory) Close() error { return nil }
