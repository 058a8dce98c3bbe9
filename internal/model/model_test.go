package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionKey_Canonical(t *testing.T) {
	tests := []struct {
		name string
		key  CollectionKey
		want string
	}{
		{"no params", NewCollectionKey("notifications", nil), "notifications"},
		{"single param", MessagesKey("room-1"), "messages?roomId=room-1"},
		{
			"params sort",
			NewCollectionKey("hotspots", map[string]string{"zoom": "12", "lat": "52.1", "lng": "4.3"}),
			"hotspots?lat=52.1&lng=4.3&zoom=12",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.Canonical())
		})
	}
}

func TestCollectionKey_Equal(t *testing.T) {
	a := NewCollectionKey("feed", map[string]string{"scope": "home"})
	b := FeedHomeKey()
	c := NewCollectionKey("feed", map[string]string{"scope": "discover"})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestItemFromJSON(t *testing.T) {
	item, err := ItemFromJSON([]byte(`{"id":"m1","likes":3,"isLiked":true}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", item.ID)
	assert.Equal(t, 3.0, item.Fields["likes"])
	assert.Equal(t, true, item.Fields["isLiked"])
	_, hasID := item.Fields["id"]
	assert.False(t, hasID, "id lives on the struct, not in Fields")
}

func TestItemFromJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing id", `{"likes":3}`},
		{"numeric id", `{"id":7}`},
		{"empty id", `{"id":""}`},
		{"not an object", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ItemFromJSON([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestItem_MergePreservesAbsentFields(t *testing.T) {
	item := NewItem("m1", map[string]any{"likes": 3.0, "caption": "hi"})
	item.Merge(map[string]any{"likes": 4.0})

	assert.Equal(t, 4.0, item.Fields["likes"])
	assert.Equal(t, "hi", item.Fields["caption"])
}

func TestItem_CloneIsolation(t *testing.T) {
	item := NewItem("m1", map[string]any{"likes": 3.0})
	clone := item.Clone()
	clone.Fields["likes"] = 99.0

	assert.Equal(t, 3.0, item.Fields["likes"])
}

func TestItem_JSONRoundTrip(t *testing.T) {
	item := NewItem("m1", map[string]any{"likes": 3.0})
	data, err := json.Marshal(item)
	require.NoError(t, err)

	var decoded Item
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "m1", decoded.ID)
	assert.Equal(t, 3.0, decoded.Fields["likes"])
}

func TestPageFromJSON(t *testing.T) {
	page, err := PageFromJSON([]byte(`{"data":[{"id":"m1"},{"id":"m2","likes":1}],"nextCursor":"c2"}`))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "m1", page.Items[0].ID)
	assert.Equal(t, "c2", page.NextCursor)
	assert.True(t, page.HasMore())
}

func TestPageFromJSON_LastPage(t *testing.T) {
	page, err := PageFromJSON([]byte(`{"data":[]}`))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore())
}

func TestEventEnvelope_Wire(t *testing.T) {
	env, err := NewEventEnvelope("media:created", map[string]any{"id": "m1"})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"media:created","payload":{"id":"m1"}}`, string(data))

	var decoded EventEnvelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "media:created", decoded.Name)
}
