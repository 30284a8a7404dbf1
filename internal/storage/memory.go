package storage

import (
	"context"
	"sync"
	"time"
)

// ensure memoryStore implements Store
var _ Store = (*memoryStore)(nil)

type memoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemory creates an in-process Store. Checkpoints do not survive a restart;
// intended for tests and single-shot CLI runs.
func NewMemory() Store {
	return &memoryStore{
		checkpoints: make(map[string]*Checkpoint),
	}
}

func (m *memoryStore) Save(ctx context.Context, cp *Checkpoint) error {
	cloned := *cp
	cloned.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	m.checkpoints[cp.JobID] = &cloned
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	m.mu.RLock()
	cp, ok := m.checkpoints[jobID]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	cloned := *cp
	return &cloned, nil
}

func (m *memoryStore) Close() error { return nil }
