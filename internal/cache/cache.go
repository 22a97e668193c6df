// Package cache stores small byte values with an optional expiry.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/across/timectrl"
)

type Store interface {
	// Get reports found=false for missing or expired keys.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value; a non-positive ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memItem struct {
	value   []byte
	expires time.Time
}

// Memory is a process-local Store.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memItem
	clock timectrl.Clock
}

// NewMemory builds an empty cache. A nil clock uses the system clock.
func NewMemory(clock timectrl.Clock) *Memory {
	return &Memory{items: make(map[string]memItem), clock: timectrl.OrSystem(clock)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !it.expires.IsZero() && !m.clock.Now().Before(it.expires) {
		m.mu.Lock()
		if cur, ok := m.items[key]; ok && cur.expires.Equal(it.expires) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return clone(it.value), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := memItem{value: clone(value)}
	if ttl > 0 {
		it.expires = m.clock.Now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = it
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Len counts stored entries, expired ones included until they are read.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
