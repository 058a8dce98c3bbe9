package realtime

import (
	"context"
	"errors"

	"pulse-feed-core/internal/model"
)

var (
	// ErrNotConnected is returned by Send when no connection is up.
	ErrNotConnected = errors.New("realtime channel not connected")

	// ErrTransport wraps connection-level failures (dial refused, socket
	// dropped). These flip IsConnected and are logged, nothing more.
	ErrTransport = errors.New("realtime transport error")

	// ErrMalformedEnvelope marks a frame that arrived but did not decode.
	// The connection is still healthy; the frame is skipped, not fatal.
	ErrMalformedEnvelope = errors.New("malformed realtime envelope")
)

// Conn is one established bidirectional event connection.
type Conn interface {
	// Read blocks for the next inbound envelope.
	Read(ctx context.Context) (model.EventEnvelope, error)
	// Write enqueues one outbound envelope; delivery is fire-and-forget.
	Write(ctx context.Context, env model.EventEnvelope) error
	Close(reason string) error
}

// Transport dials event connections. Implementations: websocket (default)
// and NATS.
type Transport interface {
	Dial(ctx context.Context, token string) (Conn, error)
}
