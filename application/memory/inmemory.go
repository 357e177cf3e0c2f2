package memory

import (
	"context"
	"sync"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// InMemoryBackend keeps records in a map. Used by tests and by the dry `resolve` command.
type InMemoryBackend struct {
	mu      sync.RWMutex
	records map[entities.MemoryKey]entities.MemoryRecord
}

var _ interfaces.MemoryBackend = (*InMemoryBackend)(nil)

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{records: make(map[entities.MemoryKey]entities.MemoryRecord)}
}

func (b *InMemoryBackend) Load(_ context.Context, key entities.MemoryKey) (*entities.MemoryRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (b *InMemoryBackend) Save(_ context.Context, rec entities.MemoryRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rec.Key] = rec
	return nil
}

func (b *InMemoryBackend) Delete(_ context.Context, key entities.MemoryKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
	return nil
}

func (b *InMemoryBackend) List(_ context.Context, contextID string) ([]entities.MemoryRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []entities.MemoryRecord
	for k, rec := range b.records {
		if k.ContextID == contextID {
			out = append(out, rec)
		}
	}
	entities.SortRecords(out)
	return out, nil
}

func (b *InMemoryBackend) Close() error { return nil }
