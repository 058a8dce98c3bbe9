package mutation

import (
	"context"

	"github.com/google/uuid"

	"pulse-feed-core/internal/model"
)

// TransformFunc computes the optimistic field patch from the current values
// of the touched fields. It must not mutate its argument.
type TransformFunc func(current map[string]any) map[string]any

// RemoteFunc is the remote counterpart of an intent. A non-nil map is the
// server's authoritative values for the touched fields; nil means the
// optimistic state stands confirmed.
type RemoteFunc func(ctx context.Context) (map[string]any, error)

// Intent is an explicit record of one optimistic local change paired with
// its remote operation. The rollback baseline is captured by the engine at
// Perform time from the current (possibly already-optimistic) cache state,
// so a superseding intent chains from local state rather than from the last
// server-confirmed state.
type Intent struct {
	ID     uuid.UUID
	Key    model.CollectionKey
	ItemID string

	// Fields names exactly the fields the transform touches; the rollback
	// restores these and nothing else.
	Fields    []string
	Transform TransformFunc
	Remote    RemoteFunc
}

func NewIntent(key model.CollectionKey, itemID string, fields []string, transform TransformFunc, remote RemoteFunc) Intent {
	return Intent{
		ID:        uuid.New(),
		Key:       key,
		ItemID:    itemID,
		Fields:    fields,
		Transform: transform,
		Remote:    remote,
	}
}

// LikeToggle returns the toggle transform for like-style counters:
// flag flips, counter moves by one in the matching direction, floored at
// zero.
func LikeToggle(flagField, countField string) TransformFunc {
	return func(current map[string]any) map[string]any {
		liked, _ := current[flagField].(bool)
		count := numeric(current[countField])
		if liked {
			count--
		} else {
			count++
		}
		if count < 0 {
			count = 0
		}
		return map[string]any{flagField: !liked, countField: count}
	}
}

// SetFields returns a transform that writes fixed values.
func SetFields(values map[string]any) TransformFunc {
	return func(map[string]any) map[string]any {
		patch := make(map[string]any, len(values))
		for k, v := range values {
			patch[k] = v
		}
		return patch
	}
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
