package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"nhooyr.io/websocket"

	"pulse-feed-core/internal/model"
)

// WebsocketTransport dials the server's websocket endpoint, authenticating
// with the bearer token as a query parameter. Envelopes travel as JSON text
// frames.
type WebsocketTransport struct {
	URL string
}

func NewWebsocketTransport(rawURL string) *WebsocketTransport {
	return &WebsocketTransport{URL: rawURL}
}

func (t *WebsocketTransport) Dial(ctx context.Context, token string) (Conn, error) {
	wsURL := strings.Replace(t.URL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "?token=" + url.QueryEscape(token)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %v", ErrTransport, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) (model.EventEnvelope, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return model.EventEnvelope{}, fmt.Errorf("%w: read: %v", ErrTransport, err)
	}
	var env model.EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.EventEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}

func (c *wsConn) Write(ctx context.Context, env model.EventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	return nil
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
