package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"pulse-feed-core/internal/model"
	"pulse-feed-core/internal/pkg/logger"
	"pulse-feed-core/internal/session"
)

// State is the channel lifecycle: Disconnected -> Connecting -> Connected,
// back to Disconnected on transport loss or teardown.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Handler receives the raw payload of one matching inbound event.
type Handler func(payload json.RawMessage)

// Subscription is the capability token for one registered handler; Cancel
// removes exactly that handler.
type Subscription struct {
	channel *Channel
	event   string
	id      uint64
}

func (s *Subscription) Cancel() {
	if s.channel != nil {
		s.channel.unsubscribe(s.event, s.id)
	}
}

// Channel owns one authenticated event connection per session. It is
// constructor-injected (no process-wide socket): the owner decides its
// lifecycle. Connection errors are absorbed and reported via IsConnected;
// reconnection happens only when the session credential (re)appears — there
// is no retry loop here, transport-level retries are the transport's
// business.
type Channel struct {
	transport Transport
	session   session.Provider
	publisher message.Publisher
	topic     string
	log       logger.ILogger

	mu         sync.Mutex
	state      State
	conn       Conn
	credential string
	cancelRead context.CancelFunc

	subMu   sync.Mutex
	subs    map[string]map[uint64]Handler
	nextSub uint64
}

func NewChannel(transport Transport, sess session.Provider, publisher message.Publisher, topic string, log logger.ILogger) *Channel {
	return &Channel{
		transport: transport,
		session:   sess,
		publisher: publisher,
		topic:     topic,
		log:       log,
		state:     StateDisconnected,
		subs:      make(map[string]map[uint64]Handler),
	}
}

// Connect establishes the connection with the current session credential.
// No-op when already connected with the same credential; a changed
// credential tears the old connection down first.
func (c *Channel) Connect(ctx context.Context) error {
	token := c.session.Token()
	if token == "" {
		c.log.Debug("Channel", "No session credential, not connecting", nil)
		return ErrNotConnected
	}

	c.mu.Lock()
	if c.state == StateConnected && c.credential == token {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.conn != nil {
		c.teardownLocked("credential changed")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.transport.Dial(ctx, token)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.log.Error("Channel", "Connection failed", map[string]interface{}{"error": err.Error()})
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.credential = token
	c.state = StateConnected
	c.cancelRead = cancel
	c.mu.Unlock()

	// Joining twice is a no-op server-side, so a reconnect may safely
	// re-emit this.
	c.joinIdentityRoom(ctx)

	go c.readLoop(readCtx, conn)

	c.log.Info("Channel", "Connected", map[string]interface{}{"user_id": c.session.UserID()})
	return nil
}

// Disconnect tears down the connection and clears all subscriptions.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.teardownLocked("client disconnect")
	c.mu.Unlock()

	c.subMu.Lock()
	c.subs = make(map[string]map[uint64]Handler)
	c.subMu.Unlock()

	c.log.Info("Channel", "Disconnected", nil)
}

// Watch drives the connect-when-session-present, disconnect-when-absent
// contract off the session change signal. Blocks until ctx is done.
func (c *Channel) Watch(ctx context.Context) {
	changes := c.session.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if c.session.Token() == "" {
				c.Disconnect()
				continue
			}
			if err := c.Connect(ctx); err != nil {
				c.log.Warn("Channel", "Reconnect on credential change failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Subscribe registers a handler invoked once per matching inbound event, in
// arrival order.
func (c *Channel) Subscribe(event string, h Handler) *Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.nextSub++
	id := c.nextSub
	if c.subs[event] == nil {
		c.subs[event] = make(map[uint64]Handler)
	}
	c.subs[event][id] = h
	return &Subscription{channel: c, event: event, id: id}
}

// Send enqueues an outbound event, fire-and-forget.
func (c *Channel) Send(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	env, err := model.NewEventEnvelope(event, payload)
	if err != nil {
		return err
	}
	return conn.Write(ctx, env)
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) joinIdentityRoom(ctx context.Context) {
	userID := c.session.UserID()
	if err := c.Send(ctx, "joinUserRoom", map[string]string{"userId": userID}); err != nil {
		c.log.Warn("Channel", "Failed to join identity room", map[string]interface{}{
			"user_id": userID, "error": err.Error(),
		})
	}
}

// readLoop pumps inbound envelopes to the event bus and local subscribers
// until the connection drops. A frame that fails to decode is skipped; only
// connection-level errors end the loop.
func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		env, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrMalformedEnvelope) {
				c.log.Warn("Channel", "Skipping undecodable inbound frame", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			c.mu.Lock()
			intentional := c.conn != conn // teardown already swapped us out
			if !intentional {
				c.state = StateDisconnected
				c.conn = nil
			}
			c.mu.Unlock()
			if !intentional {
				_ = conn.Close("transport lost")
				c.log.Warn("Channel", "Transport lost", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env model.EventEnvelope) {
	data, err := json.Marshal(env)
	if err == nil {
		msg := message.NewMessage(watermill.NewUUID(), data)
		msg.Metadata.Set("event", env.Name)
		if err := c.publisher.Publish(c.topic, msg); err != nil {
			c.log.Error("Channel", "Failed to publish inbound event", map[string]interface{}{
				"event": env.Name, "error": err.Error(),
			})
		}
	}

	c.subMu.Lock()
	handlers := make([]Handler, 0, len(c.subs[env.Name]))
	for _, h := range c.subs[env.Name] {
		handlers = append(handlers, h)
	}
	c.subMu.Unlock()

	for _, h := range handlers {
		h(env.Payload)
	}
}

func (c *Channel) unsubscribe(event string, id uint64) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if handlers, ok := c.subs[event]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(c.subs, event)
		}
	}
}

// teardownLocked closes the live connection. Caller holds c.mu.
func (c *Channel) teardownLocked(reason string) {
	if c.cancelRead != nil {
		c.cancelRead()
		c.cancelRead = nil
	}
	if c.conn != nil {
		_ = c.conn.Close(reason)
		c.conn = nil
	}
	c.state = StateDisconnected
	c.credential = ""
}
