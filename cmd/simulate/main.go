package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/fatih/color"

	"pulse-feed-core/internal/cache"
	"pulse-feed-core/internal/model"
	"pulse-feed-core/internal/mutation"
	"pulse-feed-core/internal/pkg/logger"
	"pulse-feed-core/internal/presence"
	"pulse-feed-core/internal/router"
)

// Offline walkthrough of the sync core: seeds a feed, races an optimistic
// like against a failing remote, pushes real-time events through the bus,
// and drives the preload window. Useful for eyeballing reconciliation
// behavior without a backend.
func main() {
	ctx := context.Background()
	log := logger.NewNoopLogger()

	header := color.New(color.FgCyan, color.Bold)
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)

	collectionCache := cache.NewCollectionCache(log)
	engine := mutation.NewEngine(collectionCache, log)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	eventRouter := router.NewRouter(collectionCache, pubSub, "realtime.inbound", log)
	if err := eventRouter.Consume(ctx); err != nil {
		panic(err)
	}

	feedKey := model.FeedHomeKey()

	// 1. Seed two feed pages in initiation order.
	header.Println("== Seeding feed ==")
	t1 := collectionCache.BeginFetch(feedKey, "")
	t2 := collectionCache.BeginFetch(feedKey, "cursor-2")
	_ = collectionCache.AppendPage(t1, model.Page{
		Items: []model.Item{
			model.NewItem("media-1", map[string]any{"videoUrl": "https://cdn.pulse.dev/m1.mp4", "likes": 10.0, "isLiked": false}),
			model.NewItem("media-2", map[string]any{"videoUrl": "https://cdn.pulse.dev/m2.mp4", "likes": 3.0, "isLiked": true}),
		},
		NextCursor: "cursor-2",
	})
	_ = collectionCache.AppendPage(t2, model.Page{
		Items: []model.Item{
			model.NewItem("media-3", map[string]any{"videoUrl": "https://cdn.pulse.dev/m3.mp4", "likes": 0.0, "isLiked": false}),
		},
	})
	ok.Printf("materialized %d items\n", collectionCache.Len(feedKey))

	// 2. Optimistic like whose remote call fails.
	header.Println("== Optimistic like with remote failure ==")
	intent := mutation.NewIntent(feedKey, "media-1",
		[]string{"isLiked", "likes"},
		mutation.LikeToggle("isLiked", "likes"),
		func(context.Context) (map[string]any, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, errors.New("503 from like endpoint")
		},
	)
	pending, err := engine.Perform(ctx, intent)
	if err != nil {
		panic(err)
	}
	printItem(collectionCache, feedKey, "media-1", "after optimistic apply")
	if err := pending.Wait(ctx); err != nil {
		warn.Printf("remote failed, rolled back: %v\n", err)
	}
	printItem(collectionCache, feedKey, "media-1", "after rollback")

	// 3. Real-time pushes through the bus.
	header.Println("== Real-time events ==")
	publish(pubSub, "media:created", map[string]any{"id": "media-0", "videoUrl": "https://cdn.pulse.dev/m0.mp4", "likes": 0})
	publish(pubSub, "media:media-2:reacted", map[string]any{"reaction": "fire"})
	publish(pubSub, "media:media-2:reacted", map[string]any{"reaction": "fire"})
	time.Sleep(100 * time.Millisecond)
	ok.Printf("feed now has %d items (media-0 prepended)\n", collectionCache.Len(feedKey))
	printItem(collectionCache, feedKey, "media-2", "after two reactions")

	// 4. Preload window tracking.
	header.Println("== Viewport tracking ==")
	tracker := presence.NewTracker(collectionCache, feedKey, printingPrefetcher{}, 1, "videoUrl", log)
	tracker.Report(ctx, []int{1, 2})
	tracker.Report(ctx, nil)         // scroll-through blip, ignored
	tracker.Report(ctx, []int{1, 2}) // identical, no re-forward
	ok.Printf("current index: %d\n", tracker.CurrentIndex())
}

func publish(pub message.Publisher, name string, payload any) {
	env, err := model.NewEventEnvelope(name, payload)
	if err != nil {
		panic(err)
	}
	data, _ := json.Marshal(env)
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := pub.Publish("realtime.inbound", msg); err != nil {
		panic(err)
	}
}

func printItem(c *cache.CollectionCache, key model.CollectionKey, id, label string) {
	item, found := c.GetItem(key, id)
	if !found {
		fmt.Printf("  %s: %s missing\n", label, id)
		return
	}
	fmt.Printf("  %s: %s -> %v\n", label, id, item.Fields)
}

type printingPrefetcher struct{}

func (printingPrefetcher) Warm(_ context.Context, ids []string) {
	color.New(color.FgMagenta).Printf("  warm window: %v\n", ids)
}
