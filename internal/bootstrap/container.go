package bootstrap

import (
	"log"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"pulse-feed-core/internal/api"
	"pulse-feed-core/internal/cache"
	"pulse-feed-core/internal/config"
	"pulse-feed-core/internal/model"
	"pulse-feed-core/internal/mutation"
	"pulse-feed-core/internal/pkg/logger"
	"pulse-feed-core/internal/prefetch"
	"pulse-feed-core/internal/presence"
	"pulse-feed-core/internal/queue"
	"pulse-feed-core/internal/realtime"
	"pulse-feed-core/internal/router"
	"pulse-feed-core/internal/service"
	"pulse-feed-core/internal/session"
)

type Container struct {
	Logger  logger.ILogger
	Session *session.TokenProvider
	Cache   *cache.CollectionCache
	Engine  *mutation.Engine
	Channel *realtime.Channel
	Router  *router.Router
	Tracker *presence.Tracker
	Feed    service.IFeedService
	Queue   queue.OfflineQueue
	Warmer  *prefetch.AssetWarmer
}

func NewContainer(cfg *config.Config, fetch prefetch.FetchFunc) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	sess := session.NewTokenProvider()
	collectionCache := cache.NewCollectionCache(sysLogger)

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 3. Real-time transport selection
	var transport realtime.Transport
	if cfg.Sync.Transport == "nats" {
		transport = realtime.NewNatsTransport(cfg.Sync.NatsURL)
		log.Printf("[INFO] Using realtime transport: NATS (%s)", cfg.Sync.NatsURL)
	} else {
		transport = realtime.NewWebsocketTransport(cfg.Sync.SocketURL)
		log.Printf("[INFO] Using realtime transport: WEBSOCKET (%s)", cfg.Sync.SocketURL)
	}

	channel := realtime.NewChannel(transport, sess, pubSub, cfg.Sync.InboundTopic, sysLogger)
	eventRouter := router.NewRouter(collectionCache, pubSub, cfg.Sync.InboundTopic, sysLogger)

	// 4. Data plane
	apiClient := api.NewClient(cfg.Sync.APIBaseURL, sess, sysLogger)
	engine := mutation.NewEngine(collectionCache, sysLogger)
	feed := service.NewFeedService(collectionCache, apiClient, engine, sess, sysLogger)

	warmer := prefetch.NewAssetWarmer(30*time.Minute, fetch, sysLogger)
	tracker := presence.NewTracker(collectionCache, model.FeedHomeKey(), warmer, cfg.Sync.PreloadCount, "videoUrl", sysLogger)

	// 5. Offline queue (Redis-backed; drained by the upload collaborator)
	opts, err := redis.ParseURL(cfg.Sync.RedisURL)
	var offline queue.OfflineQueue
	if err != nil {
		log.Printf("[WARN] Invalid Redis URL, falling back to in-memory queue: %v", err)
		offline = queue.NewMemoryQueue()
	} else {
		offline = queue.NewRedisQueue(redis.NewClient(opts))
	}

	return &Container{
		Logger:  sysLogger,
		Session: sess,
		Cache:   collectionCache,
		Engine:  engine,
		Channel: channel,
		Router:  eventRouter,
		Tracker: tracker,
		Feed:    feed,
		Queue:   offline,
		Warmer:  warmer,
	}
}
