package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one pending offline mutation or upload, keyed by a
// client-generated id.
type Record struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// OfflineQueue persists pending records in enqueue order and survives
// process restart. Append and Remove are idempotent per record id: the
// background drainer may observe duplicates and retries.
type OfflineQueue interface {
	Append(ctx context.Context, rec Record) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record, error)
}
