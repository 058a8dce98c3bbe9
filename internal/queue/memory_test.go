package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string) Record {
	return Record{
		ID:         id,
		Kind:       "upload",
		Payload:    json.RawMessage(`{"uri":"file://x"}`),
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestMemoryQueue_AppendIsIdempotent(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Append(ctx, record("a")))
	require.NoError(t, q.Append(ctx, record("b")))
	require.NoError(t, q.Append(ctx, record("a")))

	records, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}

func TestMemoryQueue_RemoveIsIdempotent(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Append(ctx, record("a")))
	require.NoError(t, q.Append(ctx, record("b")))

	require.NoError(t, q.Remove(ctx, "a"))
	require.NoError(t, q.Remove(ctx, "a"))
	require.NoError(t, q.Remove(ctx, "never-enqueued"))

	records, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].ID)
}

func TestMemoryQueue_PreservesEnqueueOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3", "4"} {
		require.NoError(t, q.Append(ctx, record(id)))
	}
	require.NoError(t, q.Remove(ctx, "2"))

	records, err := q.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"1", "3", "4"}, ids)
}
