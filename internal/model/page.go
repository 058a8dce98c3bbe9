package model

import "encoding/json"

// Page is one fetched slice of a collection. NextCursor is opaque; empty
// means no further pages are known to exist.
type Page struct {
	Items      []Item `json:"data"`
	NextCursor string `json:"nextCursor,omitempty"`
}

func (p Page) HasMore() bool {
	return p.NextCursor != ""
}

// PageFromJSON decodes the REST wire shape {"data": [...], "nextCursor": "..."}.
func PageFromJSON(data []byte) (Page, error) {
	var raw struct {
		Data       []json.RawMessage `json:"data"`
		NextCursor string            `json:"nextCursor"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Page{}, err
	}
	page := Page{NextCursor: raw.NextCursor, Items: make([]Item, 0, len(raw.Data))}
	for _, entry := range raw.Data {
		item, err := ItemFromJSON(entry)
		if err != nil {
			return Page{}, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}
