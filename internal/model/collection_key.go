package model

import (
	"sort"
	"strings"
)

// CollectionKey identifies one paginated, cacheable list of items.
// Two keys are equal iff name and parameter set match; parameter order
// is irrelevant.
type CollectionKey struct {
	Name   string
	Params map[string]string
}

func NewCollectionKey(name string, params map[string]string) CollectionKey {
	if params == nil {
		params = map[string]string{}
	}
	return CollectionKey{Name: name, Params: params}
}

// Canonical returns the stable string form used as a cache map key:
// name followed by sorted key=value pairs.
func (k CollectionKey) Canonical() string {
	if len(k.Params) == 0 {
		return k.Name
	}
	pairs := make([]string, 0, len(k.Params))
	for key, val := range k.Params {
		pairs = append(pairs, key+"="+val)
	}
	sort.Strings(pairs)
	return k.Name + "?" + strings.Join(pairs, "&")
}

func (k CollectionKey) Equal(other CollectionKey) bool {
	return k.Canonical() == other.Canonical()
}

// Well-known keys used by the event router and feed service.

func FeedHomeKey() CollectionKey {
	return NewCollectionKey("feed", map[string]string{"scope": "home"})
}

func MessagesKey(roomID string) CollectionKey {
	return NewCollectionKey("messages", map[string]string{"roomId": roomID})
}

func NotificationsKey() CollectionKey {
	return NewCollectionKey("notifications", nil)
}

func EventKey(eventID string) CollectionKey {
	return NewCollectionKey("event", map[string]string{"id": eventID})
}

func HotspotsKey(viewport map[string]string) CollectionKey {
	return NewCollectionKey("hotspots", viewport)
}

func FriendsKey(viewport map[string]string) CollectionKey {
	return NewCollectionKey("friends", viewport)
}
