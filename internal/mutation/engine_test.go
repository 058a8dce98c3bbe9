package mutation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse-feed-core/internal/cache"
	"pulse-feed-core/internal/model"
	"pulse-feed-core/internal/pkg/logger"
)

func seedFeed(t *testing.T, c *cache.CollectionCache) model.CollectionKey {
	t.Helper()
	key := model.FeedHomeKey()
	ticket := c.BeginFetch(key, "")
	require.NoError(t, c.AppendPage(ticket, model.Page{
		Items: []model.Item{
			model.NewItem("m1", map[string]any{"isLiked": false, "likes": 10.0}),
		},
	}))
	return key
}

func confirmRemote(context.Context) (map[string]any, error) { return nil, nil }

func TestPerform_OptimisticApplyIsSynchronous(t *testing.T) {
	c := cache.NewCollectionCache(logger.NewNoopLogger())
	key := seedFeed(t, c)
	engine := NewEngine(c, logger.NewNoopLogger())

	release := make(chan struct{})
	intent := NewIntent(key, "m1",
		[]string{"isLiked", "likes"},
		LikeToggle("isLiked", "likes"),
		func(context.Context) (map[string]any, error) {
			<-release
			return nil, nil
		},
	)

	pending, err := engine.Perform(context.Background(), intent)
	require.NoError(t, err)

	// Visible before the remote resolves.
	item, _ := c.GetItem(key, "m1")
	assert.Equal(t, true, item.Fields["isLiked"])
	assert.Equal(t, 11.0, item.Fields["likes"])

	close(release)
	require.NoError(t, pending.Wait(context.Background()))

	// Confirmed: optimistic state stands.
	item, _ = c.GetItem(key, "m1")
	assert.Equal(t, true, item.Fields["isLiked"])
	assert.Equal(t, 11.0, item.Fields["likes"])
}

func TestPerform_RollbackOnRemoteFailure(t *testing.T) {
	c := cache.NewCollectionCache(logger.NewNoopLogger())
	key := seedFeed(t, c)
	engine := NewEngine(c, logger.NewNoopLogger())

	intent := NewIntent(key, "m1",
		[]string{"isLiked", "likes"},
		LikeToggle("isLiked", "likes"),
		func(context.Context) (map[string]any, error) {
			return nil, errors.New("503")
		},
	)

	pending, err := engine.Perform(context.Background(), intent)
	require.NoError(t, err)

	err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, ErrRemoteOperation)

	item, _ := c.GetItem(key, "m1")
	assert.Equal(t, false, item.Fields["isLiked"])
	assert.Equal(t, 10.0, item.Fields["likes"])
}

func TestPerform_AuthoritativeValuesWin(t *testing.T) {
	c := cache.NewCollectionCache(logger.NewNoopLogger())
	key := seedFeed(t, c)
	engine := NewEngine(c, logger.NewNoopLogger())

	// Someone else liked while our request was in flight: the server says 12.
	intent := NewIntent(key, "m1",
		[]string{"isLiked", "likes"},
		LikeToggle("isLiked", "likes"),
		func(context.Context) (map[string]any, error) {
			return map[string]any{"isLiked": true, "likes": 12.0}, nil
		},
	)

	pending, err := engine.Perform(context.Background(), intent)
	require.NoError(t, err)
	require.NoError(t, pending.Wait(context.Background()))

	item, _ := c.GetItem(key, "m1")
	assert.Equal(t, 12.0, item.Fields["likes"])
}

func TestPerform_ItemNotMaterialized(t *testing.T) {
	c := cache.NewCollectionCache(logger.NewNoopLogger())
	engine := NewEngine(c, logger.NewNoopLogger())

	intent := NewIntent(model.FeedHomeKey(), "ghost",
		[]string{"isLiked"},
		SetFields(map[string]any{"isLiked": true}),
		confirmRemote,
	)

	_, err := engine.Perform(context.Background(), intent)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

// Rapid like then unlike before either remote resolves: each intent chains
// from the optimistic state the previous one left, so both confirming leaves
// the net result.
func TestPerform_SupersedingIntentChains(t *testing.T) {
	c := cache.NewCollectionCache(logger.NewNoopLogger())
	key := seedFeed(t, c)
	engine := NewEngine(c, logger.NewNoopLogger())

	releaseLike := make(chan struct{})
	releaseUnlike := make(chan struct{})

	like := NewIntent(key, "m1",
		[]string{"isLiked", "likes"},
		LikeToggle("isLiked", "likes"),
		func(context.Context) (map[string]any, error) {
			<-releaseLike
			return nil, nil
		},
	)
	pendingLike, err := engine.Perform(context.Background(), like)
	require.NoError(t, err)

	item, _ := c.GetItem(key, "m1")
	require.Equal(t, 11.0, item.Fields["likes"])

	unlike := NewIntent(key, "m1",
		[]string{"isLiked", "likes"},
		LikeToggle("isLiked", "likes"),
		func(context.Context) (map[string]any, error) {
			<-releaseUnlike
			return nil, nil
		},
	)
	pendingUnlike, err := engine.Perform(context.Background(), unlike)
	require.NoError(t, err)

	item, _ = c.GetItem(key, "m1")
	assert.Equal(t, false, item.Fields["isLiked"])
	assert.Equal(t, 10.0, item.Fields["likes"])

	close(releaseLike)
	close(releaseUnlike)
	require.NoError(t, pendingLike.Wait(context.Background()))
	require.NoError(t, pendingUnlike.Wait(context.Background()))

	item, _ = c.GetItem(key, "m1")
	assert.Equal(t, false, item.Fields["isLiked"])
	assert.Equal(t, 10.0, item.Fields["likes"])
}

// Like, then unlike before the like's remote resolves, then the like's remote
// fails. Its rollback restores the first baseline, which matches the state
// the unlike already produced; the unlike then confirms it. No flicker.
func TestPerform_LikeUnlikeRaceWithFirstFailure(t *testing.T) {
	c := cache.NewCollectionCache(logger.NewNoopLogger())
	key := seedFeed(t, c)
	engine := NewEngine(c, logger.NewNoopLogger())

	releaseLike := make(chan struct{})
	releaseUnlike := make(chan struct{})

	like := NewIntent(key, "m1",
		[]string{"isLiked", "likes"},
		LikeToggle("isLiked", "likes"),
		func(context.Context) (map[string]any, error) {
			<-releaseLike
			return nil, errors.New("timeout")
		},
	)
	pendingLike, err := engine.Perform(context.Background(), like)
	require.NoError(t, err)

	unlike := NewIntent(key, "m1",
		[]string{"isLiked", "likes"},
		LikeToggle("isLiked", "likes"),
		func(context.Context) (map[string]any, error) {
			<-releaseUnlike
			return map[string]any{"isLiked": false, "likes": 10.0}, nil
		},
	)
	pendingUnlike, err := engine.Perform(context.Background(), unlike)
	require.NoError(t, err)

	close(releaseLike)
	require.ErrorIs(t, pendingLike.Wait(context.Background()), ErrRemoteOperation)

	item, _ := c.GetItem(key, "m1")
	assert.Equal(t, false, item.Fields["isLiked"])
	assert.Equal(t, 10.0, item.Fields["likes"])

	close(releaseUnlike)
	require.NoError(t, pendingUnlike.Wait(context.Background()))

	item, _ = c.GetItem(key, "m1")
	assert.Equal(t, false, item.Fields["isLiked"])
	assert.Equal(t, 10.0, item.Fields["likes"])
}

// Two goroutines toggle the same field at once. Capture and apply are one
// atomic cache step, so whichever order they land in, the second always
// chains from the first; a toggle pair nets back to the starting state.
func TestPerform_ConcurrentIntentsChainAtomically(t *testing.T) {
	c := cache.NewCollectionCache(logger.NewNoopLogger())
	key := seedFeed(t, c)
	engine := NewEngine(c, logger.NewNoopLogger())

	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		pendings := make([]*Pending, 2)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				intent := NewIntent(key, "m1",
					[]string{"isLiked", "likes"},
					LikeToggle("isLiked", "likes"),
					confirmRemote,
				)
				p, err := engine.Perform(context.Background(), intent)
				assert.NoError(t, err)
				pendings[j] = p
			}(j)
		}
		wg.Wait()
		for _, p := range pendings {
			require.NoError(t, p.Wait(context.Background()))
		}

		item, _ := c.GetItem(key, "m1")
		require.Equal(t, false, item.Fields["isLiked"])
		require.Equal(t, 10.0, item.Fields["likes"])
	}
}

func TestPerform_RollbackRestoresOnlyTouchedFields(t *testing.T) {
	c := cache.NewCollectionCache(logger.NewNoopLogger())
	key := model.NotificationsKey()
	c.Materialize(key)
	c.AppendItem(key, model.NewItem("n1", map[string]any{"read": false, "title": "hello"}))
	engine := NewEngine(c, logger.NewNoopLogger())

	intent := NewIntent(key, "n1",
		[]string{"read"},
		SetFields(map[string]any{"read": true}),
		func(context.Context) (map[string]any, error) {
			return nil, errors.New("offline")
		},
	)

	pending, err := engine.Perform(context.Background(), intent)
	require.NoError(t, err)
	require.Error(t, pending.Wait(context.Background()))

	item, _ := c.GetItem(key, "n1")
	assert.Equal(t, false, item.Fields["read"])
	assert.Equal(t, "hello", item.Fields["title"], "untouched field survives the rollback")
}

func TestPending_WaitHonorsContext(t *testing.T) {
	c := cache.NewCollectionCache(logger.NewNoopLogger())
	key := seedFeed(t, c)
	engine := NewEngine(c, logger.NewNoopLogger())

	release := make(chan struct{})
	defer close(release)

	intent := NewIntent(key, "m1",
		[]string{"isLiked"},
		SetFields(map[string]any{"isLiked": true}),
		func(context.Context) (map[string]any, error) {
			<-release
			return nil, nil
		},
	)
	pending, err := engine.Perform(context.Background(), intent)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pending.Wait(ctx), context.DeadlineExceeded)
}

func TestLikeToggle(t *testing.T) {
	tests := []struct {
		name      string
		current   map[string]any
		wantFlag  bool
		wantCount float64
	}{
		{"like from unliked", map[string]any{"isLiked": false, "likes": 3.0}, true, 4},
		{"unlike from liked", map[string]any{"isLiked": true, "likes": 3.0}, false, 2},
		{"missing fields default off and zero", map[string]any{}, true, 1},
		{"unlike at zero floors", map[string]any{"isLiked": true, "likes": 0.0}, false, 0},
		{"integer count coerces", map[string]any{"isLiked": false, "likes": 3}, true, 4},
	}

	transform := LikeToggle("isLiked", "likes")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch := transform(tt.current)
			assert.Equal(t, tt.wantFlag, patch["isLiked"])
			assert.Equal(t, tt.wantCount, patch["likes"])
		})
	}
}
