package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pulse-feed-core/internal/cache"
	"pulse-feed-core/internal/model"
	"pulse-feed-core/internal/mutation"
	"pulse-feed-core/internal/pkg/logger"
	"pulse-feed-core/internal/session"
)

// DataProvider is the REST surface the service depends on; api.Client is
// the production implementation.
type DataProvider interface {
	FetchPage(ctx context.Context, key model.CollectionKey, cursor string) (model.Page, error)
	Like(ctx context.Context, mediaID string) (map[string]any, error)
	Follow(ctx context.Context, userID string, follow bool) (map[string]any, error)
	RSVP(ctx context.Context, eventID string) (map[string]any, error)
	SendMessage(ctx context.Context, roomID string, content map[string]any) (map[string]any, error)
	MarkRead(ctx context.Context, ids []string) (map[string]any, error)
}

// IFeedService is what the (excluded) UI layer calls: paginated loading per
// collection plus the optimistic user actions.
type IFeedService interface {
	// LoadMore fetches the next page for the key; returns whether more
	// pages may exist.
	LoadMore(ctx context.Context, key model.CollectionKey) (bool, error)
	// Refresh invalidates the collection and refetches from the first page.
	Refresh(ctx context.Context, key model.CollectionKey) (bool, error)

	ToggleLike(ctx context.Context, mediaID string) (*mutation.Pending, error)
	ToggleFollow(ctx context.Context, key model.CollectionKey, itemID, userID string) (*mutation.Pending, error)
	ToggleRSVP(ctx context.Context, eventID string) (*mutation.Pending, error)
	SendMessage(ctx context.Context, roomID, content string) (model.Item, *mutation.Pending, error)
	MarkNotificationsRead(ctx context.Context, ids []string) ([]*mutation.Pending, error)
}

type feedService struct {
	cache   *cache.CollectionCache
	api     DataProvider
	engine  *mutation.Engine
	session session.Provider
	log     logger.ILogger
}

func NewFeedService(c *cache.CollectionCache, apiClient DataProvider, engine *mutation.Engine, sess session.Provider, log logger.ILogger) IFeedService {
	return &feedService{
		cache:   c,
		api:     apiClient,
		engine:  engine,
		session: sess,
		log:     log,
	}
}

func (s *feedService) LoadMore(ctx context.Context, key model.CollectionKey) (bool, error) {
	cursor, more := s.cache.NextCursor(key)
	if !more {
		return false, nil
	}

	// Ticket first, then the suspension point: pages apply in initiation
	// order no matter when their fetches resolve.
	ticket := s.cache.BeginFetch(key, cursor)

	page, err := s.api.FetchPage(ctx, key, cursor)
	if err != nil {
		// Release the seq so a retry is not rejected as out-of-order.
		s.cache.AbandonFetch(ticket)
		return false, err
	}

	if err := s.cache.AppendPage(ticket, page); err != nil {
		if errors.Is(err, cache.ErrStaleFetch) || errors.Is(err, cache.ErrOrderingViolation) {
			// Absorbed: the collection stays consistent without this page,
			// and the next LoadMore picks up from whatever is materialized.
			return true, nil
		}
		return false, err
	}
	return page.HasMore(), nil
}

func (s *feedService) Refresh(ctx context.Context, key model.CollectionKey) (bool, error) {
	s.cache.Invalidate(key)
	return s.LoadMore(ctx, key)
}

func (s *feedService) ToggleLike(ctx context.Context, mediaID string) (*mutation.Pending, error) {
	intent := mutation.NewIntent(
		model.FeedHomeKey(),
		mediaID,
		[]string{"isLiked", "likes"},
		mutation.LikeToggle("isLiked", "likes"),
		func(ctx context.Context) (map[string]any, error) {
			return s.api.Like(ctx, mediaID)
		},
	)
	return s.engine.Perform(ctx, intent)
}

func (s *feedService) ToggleFollow(ctx context.Context, key model.CollectionKey, itemID, userID string) (*mutation.Pending, error) {
	item, ok := s.cache.GetItem(key, itemID)
	if !ok {
		return nil, mutation.ErrItemNotFound
	}
	following, _ := item.Fields["isFollowing"].(bool)
	desired := !following

	intent := mutation.NewIntent(
		key,
		itemID,
		[]string{"isFollowing"},
		mutation.SetFields(map[string]any{"isFollowing": desired}),
		func(ctx context.Context) (map[string]any, error) {
			return s.api.Follow(ctx, userID, desired)
		},
	)
	return s.engine.Perform(ctx, intent)
}

func (s *feedService) ToggleRSVP(ctx context.Context, eventID string) (*mutation.Pending, error) {
	intent := mutation.NewIntent(
		model.EventKey(eventID),
		eventID,
		[]string{"isAttending", "rsvps"},
		mutation.LikeToggle("isAttending", "rsvps"),
		func(ctx context.Context) (map[string]any, error) {
			return s.api.RSVP(ctx, eventID)
		},
	)
	return s.engine.Perform(ctx, intent)
}

// SendMessage appends the message locally with a pending marker, then
// confirms it against the send endpoint. Failure keeps the message visible
// but flags it failed so the UI can offer a retry.
func (s *feedService) SendMessage(ctx context.Context, roomID, content string) (model.Item, *mutation.Pending, error) {
	key := model.MessagesKey(roomID)
	msg := model.NewItem(uuid.NewString(), map[string]any{
		"content":  content,
		"senderId": s.session.UserID(),
		"sentAt":   time.Now().UTC().Format(time.RFC3339),
		"pending":  true,
		"failed":   false,
	})
	s.cache.AppendItem(key, msg)

	intent := mutation.NewIntent(
		key,
		msg.ID,
		[]string{"pending", "failed"},
		mutation.SetFields(map[string]any{"pending": true, "failed": false}),
		func(ctx context.Context) (map[string]any, error) {
			fields, err := s.api.SendMessage(ctx, roomID, map[string]any{
				"clientId": msg.ID,
				"content":  content,
			})
			if err != nil {
				return nil, err
			}
			if fields == nil {
				fields = map[string]any{}
			}
			fields["pending"] = false
			return fields, nil
		},
	)
	pending, err := s.engine.Perform(ctx, intent)
	if err != nil {
		return msg, nil, err
	}

	go func() {
		if err := pending.Wait(context.Background()); err != nil {
			s.cache.PatchItemFields(key, msg.ID, map[string]any{"pending": false, "failed": true})
		}
	}()

	return msg, pending, nil
}

func (s *feedService) MarkNotificationsRead(ctx context.Context, ids []string) ([]*mutation.Pending, error) {
	key := model.NotificationsKey()
	pendings := make([]*mutation.Pending, 0, len(ids))
	for _, id := range ids {
		notificationID := id
		intent := mutation.NewIntent(
			key,
			notificationID,
			[]string{"read"},
			mutation.SetFields(map[string]any{"read": true}),
			func(ctx context.Context) (map[string]any, error) {
				return s.api.MarkRead(ctx, []string{notificationID})
			},
		)
		pending, err := s.engine.Perform(ctx, intent)
		if err != nil {
			if errors.Is(err, mutation.ErrItemNotFound) {
				continue // not materialized; the server copy wins on next fetch
			}
			return pendings, err
		}
		pendings = append(pendings, pending)
	}
	return pendings, nil
}
