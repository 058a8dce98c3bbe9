package queue

import (
	"context"
	"sync"
)

// MemoryQueue is the in-process queue used in tests and the simulation
// harness.
type MemoryQueue struct {
	mu    sync.Mutex
	order []string
	byID  map[string]Record
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{byID: make(map[string]Record)}
}

func (q *MemoryQueue) Append(_ context.Context, rec Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[rec.ID]; exists {
		return nil
	}
	q.byID[rec.ID] = rec
	q.order = append(q.order, rec.ID)
	return nil
}

func (q *MemoryQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[id]; !exists {
		return nil
	}
	delete(q.byID, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return nil
}

func (q *MemoryQueue) List(_ context.Context) ([]Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Record, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.byID[id])
	}
	return out, nil
}
