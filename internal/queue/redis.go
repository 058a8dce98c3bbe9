package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	recordsKey = "offline_queue:records"
	orderKey   = "offline_queue:order"
)

// RedisQueue persists the offline queue in Redis: a hash of id -> record
// plus a list carrying enqueue order. Idempotence per id comes from HSETNX.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Append(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode queue record: %w", err)
	}

	added, err := q.rdb.HSetNX(ctx, recordsKey, rec.ID, data).Result()
	if err != nil {
		return fmt.Errorf("append queue record: %w", err)
	}
	if !added {
		return nil // already queued
	}
	if err := q.rdb.RPush(ctx, orderKey, rec.ID).Err(); err != nil {
		return fmt.Errorf("append queue order: %w", err)
	}
	return nil
}

func (q *RedisQueue) Remove(ctx context.Context, id string) error {
	if err := q.rdb.HDel(ctx, recordsKey, id).Err(); err != nil {
		return fmt.Errorf("remove queue record: %w", err)
	}
	if err := q.rdb.LRem(ctx, orderKey, 0, id).Err(); err != nil {
		return fmt.Errorf("remove queue order: %w", err)
	}
	return nil
}

func (q *RedisQueue) List(ctx context.Context) ([]Record, error) {
	ids, err := q.rdb.LRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list queue order: %w", err)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	raw, err := q.rdb.HMGet(ctx, recordsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("list queue records: %w", err)
	}

	out := make([]Record, 0, len(ids))
	for _, entry := range raw {
		data, ok := entry.(string)
		if !ok {
			continue // removed between LRANGE and HMGET
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
