package history

import (
	"context"
	"sync"

	"drcare/internal/session"
)

type memoryRepo struct {
	mu      sync.RWMutex
	records []session.Record
	byID    map[string]int
}

// NewMemoryRepository keeps records for the life of the process.
func NewMemoryRepository() Repository {
	return &memoryRepo{byID: make(map[string]int)}
}

func (r *memoryRepo) Insert(ctx context.Context, rec session.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[rec.ID]; ok {
		return nil
	}
	r.byID[rec.ID] = len(r.records)
	r.records = append(r.records, rec)
	return nil
}

func (r *memoryRepo) List(ctx context.Context) ([]session.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]session.Record(nil), r.records...), nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (session.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return session.Record{}, ErrNotFound
	}
	return r.records[i], nil
}

func (r *memoryRepo) Close() error { return nil }
