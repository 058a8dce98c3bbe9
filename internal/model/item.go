package model

import (
	"encoding/json"
	"fmt"
)

// Item is one domain record inside a materialized collection (feed media,
// chat message, notification, map entity). ID is stable and unique within
// its collection. Fields hold both mutable fields (like counts, read flags)
// and server-owned fields (timestamps, authorship); merges operate per field.
type Item struct {
	ID     string
	Fields map[string]any
}

func NewItem(id string, fields map[string]any) Item {
	if fields == nil {
		fields = map[string]any{}
	}
	return Item{ID: id, Fields: fields}
}

// ItemFromJSON decodes a wire object of the shape {"id": "...", ...} into an
// Item. Everything except "id" lands in Fields.
func ItemFromJSON(data []byte) (Item, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Item{}, fmt.Errorf("decode item: %w", err)
	}
	id, ok := raw["id"].(string)
	if !ok || id == "" {
		return Item{}, fmt.Errorf("decode item: missing or non-string id")
	}
	delete(raw, "id")
	return Item{ID: id, Fields: raw}, nil
}

// Merge overwrites the named fields with the patch values. Fields absent
// from the patch are preserved.
func (i *Item) Merge(patch map[string]any) {
	if i.Fields == nil {
		i.Fields = map[string]any{}
	}
	for k, v := range patch {
		i.Fields[k] = v
	}
}

// Field returns the named field value.
func (i Item) Field(name string) (any, bool) {
	v, ok := i.Fields[name]
	return v, ok
}

// Clone returns a deep-enough copy: the field map is copied, values are
// shared (patches always replace values wholesale, never mutate them).
func (i Item) Clone() Item {
	fields := make(map[string]any, len(i.Fields))
	for k, v := range i.Fields {
		fields[k] = v
	}
	return Item{ID: i.ID, Fields: fields}
}

func (i Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Fields)+1)
	for k, v := range i.Fields {
		out[k] = v
	}
	out["id"] = i.ID
	return json.Marshal(out)
}

func (i *Item) UnmarshalJSON(data []byte) error {
	decoded, err := ItemFromJSON(data)
	if err != nil {
		return err
	}
	*i = decoded
	return nil
}
