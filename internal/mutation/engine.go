package mutation

import (
	"context"
	"errors"
	"fmt"

	"pulse-feed-core/internal/cache"
	"pulse-feed-core/internal/pkg/logger"
)

var (
	// ErrItemNotFound means the intent targeted an item that is not
	// materialized; there is nothing to mutate optimistically.
	ErrItemNotFound = errors.New("mutation target not materialized")

	// ErrRemoteOperation wraps a failed remote call, surfaced to the caller
	// after the rollback already restored consistent local state.
	ErrRemoteOperation = errors.New("remote operation failed")
)

// Pending is the handle for one in-flight intent. Done closes after the
// remote resolved; Err then reports nil for a confirmation or the surfaced
// failure after the rollback was applied. Any number of goroutines may wait
// on the same handle.
type Pending struct {
	intent Intent
	done   chan struct{}
	err    error
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err reports the outcome; only valid after Done is closed.
func (p *Pending) Err() error {
	return p.err
}

// Wait blocks until the remote resolves or ctx expires.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Engine executes Mutation Intents: snapshot the touched fields and apply
// the optimistic patch as one atomic cache operation, then resolve the
// remote operation in the background. Perform is safe for concurrent use,
// including on the same item and field: each intent snapshots the state the
// previous one left, so rollbacks compose in completion order. Mixed success
// and failure completing out of order can still leave an intermediate value
// on a shared field; that is the accepted cost of field-level (unversioned)
// optimistic concurrency.
type Engine struct {
	cache *cache.CollectionCache
	log   logger.ILogger
}

func NewEngine(c *cache.CollectionCache, log logger.ILogger) *Engine {
	return &Engine{cache: c, log: log}
}

// Perform applies the intent optimistically and launches its remote
// operation. The cache reflects the optimistic state before Perform returns.
func (e *Engine) Perform(ctx context.Context, in Intent) (*Pending, error) {
	// 1. Capture the rollback baseline (current values of exactly the
	// touched fields; a field absent today rolls back to nil) and apply the
	// optimistic patch in one atomic step, so concurrent intents on the
	// same field always chain rather than capture identical baselines.
	baseline, ok := e.cache.TransformItemFields(in.Key, in.ItemID, in.Fields, in.Transform)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrItemNotFound, in.ItemID, in.Key.Canonical())
	}

	e.log.Debug("MutationEngine", "Applied optimistic patch", map[string]interface{}{
		"intent_id": in.ID.String(), "item_id": in.ItemID, "fields": in.Fields,
	})

	// 2. Resolve remotely; confirm, merge, or roll back.
	pending := &Pending{intent: in, done: make(chan struct{})}
	go e.resolve(ctx, in, baseline, pending)
	return pending, nil
}

func (e *Engine) resolve(ctx context.Context, in Intent, baseline map[string]any, pending *Pending) {
	authoritative, err := in.Remote(ctx)
	if err != nil {
		e.cache.PatchItemFields(in.Key, in.ItemID, baseline)
		e.log.Warn("MutationEngine", "Remote operation failed, rolled back", map[string]interface{}{
			"intent_id": in.ID.String(), "item_id": in.ItemID, "error": err.Error(),
		})
		pending.err = fmt.Errorf("%w: %v", ErrRemoteOperation, err)
		close(pending.done)
		return
	}

	if len(authoritative) > 0 {
		// Server returned authoritative values; they win over the guess.
		e.cache.PatchItemFields(in.Key, in.ItemID, authoritative)
	}
	close(pending.done)
}
