package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"pulse-feed-core/internal/model"
	"pulse-feed-core/internal/pkg/logger"
	"pulse-feed-core/internal/session"
)

// Client is the REST data provider: paginated fetches plus the per-action
// endpoints behind optimistic mutations. Every request carries the current
// bearer credential.
type Client struct {
	baseURL string
	http    *http.Client
	session session.Provider
	log     logger.ILogger
}

func NewClient(baseURL string, sess session.Provider, log logger.ILogger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		session: sess,
		log:     log,
	}
}

// FetchPage fetches one page of the keyed collection. Cursor is opaque;
// empty requests the first page.
func (c *Client) FetchPage(ctx context.Context, key model.CollectionKey, cursor string) (model.Page, error) {
	path, err := collectionPath(key)
	if err != nil {
		return model.Page{}, err
	}

	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	for k, v := range key.Params {
		if k != "roomId" && k != "id" && k != "scope" {
			query.Set(k, v)
		}
	}
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return model.Page{}, err
	}
	page, err := model.PageFromJSON(body)
	if err != nil {
		return model.Page{}, fmt.Errorf("decode page for %s: %w", key.Canonical(), err)
	}
	return page, nil
}

// Like toggles the like on a media item. The response carries authoritative
// counter values when the server returns them.
func (c *Client) Like(ctx context.Context, mediaID string) (map[string]any, error) {
	return c.action(ctx, http.MethodPost, "/media/"+mediaID+"/like", nil)
}

// React posts a reaction to a media item.
func (c *Client) React(ctx context.Context, mediaID, reaction string) (map[string]any, error) {
	return c.action(ctx, http.MethodPost, "/media/"+mediaID+"/react", map[string]string{"reaction": reaction})
}

// Follow follows or unfollows a user.
func (c *Client) Follow(ctx context.Context, userID string, follow bool) (map[string]any, error) {
	method := http.MethodPost
	if !follow {
		method = http.MethodDelete
	}
	return c.action(ctx, method, "/users/"+userID+"/follow", nil)
}

// RSVP toggles attendance on an event.
func (c *Client) RSVP(ctx context.Context, eventID string) (map[string]any, error) {
	return c.action(ctx, http.MethodPost, "/events/"+eventID+"/rsvps", nil)
}

// SendMessage posts a chat message to a room.
func (c *Client) SendMessage(ctx context.Context, roomID string, content map[string]any) (map[string]any, error) {
	return c.action(ctx, http.MethodPost, "/rooms/"+roomID+"/messages", content)
}

// MarkRead marks notifications read.
func (c *Client) MarkRead(ctx context.Context, ids []string) (map[string]any, error) {
	return c.action(ctx, http.MethodPost, "/notifications/mark-read", map[string][]string{"ids": ids})
}

// action performs a mutation call and decodes the authoritative field map
// from the response. Empty or non-object bodies yield nil: the optimistic
// state stands confirmed.
func (c *Client) action(ctx context.Context, method, path string, payload any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	respBody, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if len(respBody) == 0 {
		return nil, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(respBody, &fields); err != nil {
		// Plain success signal, not a field map.
		return nil, nil
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("ApiClient", "Request failed", map[string]interface{}{
			"method": method, "path": path, "status": resp.StatusCode,
		})
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return data, nil
}

// collectionPath maps a Collection Key to its REST endpoint.
func collectionPath(key model.CollectionKey) (string, error) {
	switch key.Name {
	case "feed":
		return "/feed/home", nil
	case "messages":
		roomID := key.Params["roomId"]
		if roomID == "" {
			return "", fmt.Errorf("messages key without roomId")
		}
		return "/rooms/" + roomID + "/messages", nil
	case "notifications":
		return "/notifications", nil
	case "hotspots":
		return "/map/hotspots", nil
	case "friends":
		return "/map/friends", nil
	case "event":
		id := key.Params["id"]
		if id == "" {
			return "", fmt.Errorf("event key without id")
		}
		return "/events/" + id + "/media", nil
	default:
		return "", fmt.Errorf("no endpoint for collection %q", key.Name)
	}
}
