package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"pulse-feed-core/internal/model"
)

// NatsTransport carries the event channel over a NATS connection instead of
// a websocket, for deployments where the backend fans events out through a
// broker. Envelopes are published whole on `events.<name>` subjects (with
// `:` mapped to `.`); the name inside the envelope stays authoritative.
type NatsTransport struct {
	URL string
}

func NewNatsTransport(url string) *NatsTransport {
	return &NatsTransport{URL: url}
}

func (t *NatsTransport) Dial(ctx context.Context, token string) (Conn, error) {
	nc, err := nats.Connect(t.URL,
		nats.Token(token),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: nats connect: %v", ErrTransport, err)
	}

	inbound := make(chan *nats.Msg, 256)
	sub, err := nc.ChanSubscribe("events.>", inbound)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: nats subscribe: %v", ErrTransport, err)
	}

	return &natsConn{nc: nc, sub: sub, inbound: inbound}, nil
}

type natsConn struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	inbound chan *nats.Msg
}

func (c *natsConn) Read(ctx context.Context) (model.EventEnvelope, error) {
	select {
	case msg, ok := <-c.inbound:
		if !ok {
			return model.EventEnvelope{}, fmt.Errorf("%w: nats subscription closed", ErrTransport)
		}
		var env model.EventEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return model.EventEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return env, nil
	case <-ctx.Done():
		return model.EventEnvelope{}, ctx.Err()
	}
}

func (c *natsConn) Write(_ context.Context, env model.EventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	subject := "events." + strings.ReplaceAll(env.Name, ":", ".")
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrTransport, err)
	}
	return nil
}

func (c *natsConn) Close(string) error {
	if err := c.sub.Unsubscribe(); err != nil && !c.nc.IsClosed() {
		c.nc.Close()
		return err
	}
	c.nc.Close()
	return nil
}
