package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"agenthub/internal/core"
)

type memoryEntry struct {
	key       string
	result    *core.CompletionResult
	expiresAt time.Time
}

// MemoryBackend is an in-process LRU with per-entry expiry. Expired entries
// are dropped lazily on read.
type MemoryBackend struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element

	now func() time.Time
}

// NewMemoryBackend creates an LRU backend holding at most capacity entries.
func NewMemoryBackend(capacity int) *MemoryBackend {
	if capacity <= 0 {
		capacity = DefaultConfig().Capacity
	}
	return &MemoryBackend{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (*core.CompletionResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if m.now().After(entry.expiresAt) {
		m.order.Remove(elem)
		delete(m.entries, key)
		return nil, false, nil
	}
	m.order.MoveToFront(elem)
	return entry.result, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, result *core.CompletionResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := m.now().Add(ttl)
	if elem, ok := m.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.result = result
		entry.expiresAt = expiresAt
		m.order.MoveToFront(elem)
		return nil
	}

	for m.order.Len() >= m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryEntry).key)
	}

	m.entries[key] = m.order.PushFront(&memoryEntry{key: key, result: result, expiresAt: expiresAt})
	return nil
}

// Len returns the number of live entries, counting expired ones not yet
// evicted.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
