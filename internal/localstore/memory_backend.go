package localstore

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps records in process memory. The store falls back to it
// when the durable backend fails.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

func (m *MemoryBackend) Load(_ context.Context, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return rec, nil
}

func (m *MemoryBackend) Save(_ context.Context, key string, data []byte, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.records[key].Version
	if current != expectedVersion {
		return 0, ErrVersionConflict
	}
	next := current + 1
	m.records[key] = Record{
		Key:       key,
		Data:      append([]byte(nil), data...),
		Version:   next,
		UpdatedAt: time.Now(),
	}
	return next, nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
