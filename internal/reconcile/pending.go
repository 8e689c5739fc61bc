// Package reconcile carries status changes made in one session to the other
// sessions talking to the same backend. Sessions publish into a shared pending
// store and drain it when they regain focus.
package reconcile

import (
	"context"
	"sync"

	"job-tracker-go/internal/models"
)

// PendingStore holds status updates that have not been applied by a draining
// session yet. Publish merges per job id, keeping the newer event. Drain
// returns everything and leaves the store empty; an entry is handed to exactly
// one drainer.
type PendingStore interface {
	Publish(ctx context.Context, event models.StatusUpdateEvent) error
	Drain(ctx context.Context) (map[int]models.StatusUpdateEvent, error)
}

// MemoryStore is an in-process PendingStore. Controllers sharing one instance
// behave like sessions sharing a Redis store.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[int]models.StatusUpdateEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[int]models.StatusUpdateEvent)}
}

func (m *MemoryStore) Publish(ctx context.Context, event models.StatusUpdateEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.pending[event.JobID]; ok && !event.Newer(cur) {
		return nil
	}
	m.pending[event.JobID] = event
	return nil
}

func (m *MemoryStore) Drain(ctx context.Context) (map[int]models.StatusUpdateEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.pending
	m.pending = make(map[int]models.StatusUpdateEvent)
	return out, nil
}

// Len returns the number of pending entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
