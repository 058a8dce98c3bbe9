package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"pulse-feed-core/internal/cache"
	"pulse-feed-core/internal/model"
	"pulse-feed-core/internal/pkg/logger"
)

// Router dispatches inbound real-time events to cache entries via a static
// event-name -> key-derivation table. Events for keys that are not
// materialized fall through as silent no-ops: that is the common case when
// the user has navigated away from the relevant screen. Duplicate
// deliveries are tolerated — every cache op here is idempotent.
type Router struct {
	cache *cache.CollectionCache
	sub   message.Subscriber
	topic string
	log   logger.ILogger

	mu       sync.Mutex
	viewport map[string]string
}

func NewRouter(c *cache.CollectionCache, sub message.Subscriber, topic string, log logger.ILogger) *Router {
	return &Router{
		cache:    c,
		sub:      sub,
		topic:    topic,
		log:      log,
		viewport: map[string]string{},
	}
}

// SetViewport records the active map viewport parameter set; hotspot and
// presence pushes target the (hotspots|friends, viewport) collections.
func (r *Router) SetViewport(params map[string]string) {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	r.mu.Lock()
	r.viewport = copied
	r.mu.Unlock()
}

// Consume subscribes to the inbound topic and routes messages until ctx is
// done.
func (r *Router) Consume(ctx context.Context) error {
	messages, err := r.sub.Subscribe(ctx, r.topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			r.processMessage(msg)
		}
	}()

	return nil
}

func (r *Router) processMessage(msg *message.Message) {
	var env model.EventEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		r.log.Error("Router", "Failed to unmarshal inbound event", map[string]interface{}{
			"error": err.Error(),
		})
		msg.Ack() // invalid messages must not retry forever
		return
	}

	r.Route(env.Name, env.Payload)
	msg.Ack()
}

// Route applies one inbound event to its target cache entries.
func (r *Router) Route(name string, payload json.RawMessage) {
	switch {
	case name == "media:created":
		item, err := model.ItemFromJSON(payload)
		if err != nil {
			r.logBadPayload(name, err)
			return
		}
		r.cache.UpsertItem(model.FeedHomeKey(), item)

	case isMediaReacted(name):
		mediaID := strings.Split(name, ":")[1]
		r.cache.IncrementItemField(mediaID, "reactions", 1)

	case name == "event:hotspot_update":
		item, err := model.ItemFromJSON(payload)
		if err != nil {
			r.logBadPayload(name, err)
			return
		}
		r.cache.UpsertItem(model.HotspotsKey(r.currentViewport()), item)

	case name == "presence:update":
		item, err := model.ItemFromJSON(payload)
		if err != nil {
			r.logBadPayload(name, err)
			return
		}
		r.cache.UpsertItem(model.FriendsKey(r.currentViewport()), item)

	case strings.HasPrefix(name, "event:"):
		eventID := strings.TrimPrefix(name, "event:")
		item, err := model.ItemFromJSON(payload)
		if err != nil {
			r.logBadPayload(name, err)
			return
		}
		r.cache.ReplaceItem(model.EventKey(eventID), item)

	case name == "message":
		item, err := model.ItemFromJSON(payload)
		if err != nil {
			r.logBadPayload(name, err)
			return
		}
		roomID, _ := item.Field("roomId")
		room, ok := roomID.(string)
		if !ok || room == "" {
			r.log.Warn("Router", "Message event without roomId", nil)
			return
		}
		r.cache.AppendItem(model.MessagesKey(room), item)

	case name == "user:notifications":
		item, err := model.ItemFromJSON(payload)
		if err != nil {
			r.logBadPayload(name, err)
			return
		}
		r.cache.UpsertItem(model.NotificationsKey(), item)

	case name == "typing":
		// Ephemeral; channel subscribers see it, the cache never does.

	default:
		r.log.Debug("Router", "Dropping unroutable event", map[string]interface{}{"event": name})
	}
}

func (r *Router) currentViewport() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewport
}

func (r *Router) logBadPayload(name string, err error) {
	r.log.Warn("Router", "Undecodable event payload", map[string]interface{}{
		"event": name, "error": err.Error(),
	})
}

// isMediaReacted matches media:{id}:reacted.
func isMediaReacted(name string) bool {
	parts := strings.Split(name, ":")
	return len(parts) == 3 && parts[0] == "media" && parts[2] == "reacted" && parts[1] != ""
}
