package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse-feed-core/internal/model"
	"pulse-feed-core/internal/pkg/logger"
	"pulse-feed-core/internal/session"
)

type fakeConn struct {
	inbound  chan model.EventEnvelope
	readErrs chan error
	closed   chan struct{}

	mu     sync.Mutex
	writes []model.EventEnvelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan model.EventEnvelope, 16),
		readErrs: make(chan error, 16),
		closed:   make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) (model.EventEnvelope, error) {
	select {
	case env := <-f.inbound:
		return env, nil
	case err := <-f.readErrs:
		return model.EventEnvelope{}, err
	case <-f.closed:
		return model.EventEnvelope{}, errors.New("connection closed")
	case <-ctx.Done():
		return model.EventEnvelope{}, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, env model.EventEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, env)
	return nil
}

func (f *fakeConn) Close(string) error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakeConn) written() []model.EventEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.EventEnvelope, len(f.writes))
	copy(out, f.writes)
	return out
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (f *fakeTransport) Dial(context.Context, string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	conn := newFakeConn()
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeTransport) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeTransport) latest() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func newTestChannel(transport Transport, sess session.Provider) *Channel {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	return NewChannel(transport, sess, pubSub, "realtime.inbound", logger.NewNoopLogger())
}

func testToken(t *testing.T, sub string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestConnect_WithoutCredential(t *testing.T) {
	transport := &fakeTransport{}
	ch := newTestChannel(transport, session.StaticProvider{})

	err := ch.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, transport.dials())
	assert.False(t, ch.IsConnected())
}

func TestConnect_JoinsIdentityRoom(t *testing.T) {
	transport := &fakeTransport{}
	ch := newTestChannel(transport, session.StaticProvider{ID: "user-1", Bearer: "tok"})

	require.NoError(t, ch.Connect(context.Background()))
	assert.True(t, ch.IsConnected())
	assert.Equal(t, StateConnected, ch.State())

	writes := transport.latest().written()
	require.Len(t, writes, 1)
	assert.Equal(t, "joinUserRoom", writes[0].Name)
	var body map[string]string
	require.NoError(t, json.Unmarshal(writes[0].Payload, &body))
	assert.Equal(t, "user-1", body["userId"])
}

func TestConnect_SameCredentialIsNoOp(t *testing.T) {
	transport := &fakeTransport{}
	ch := newTestChannel(transport, session.StaticProvider{ID: "user-1", Bearer: "tok"})

	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Connect(context.Background()))
	assert.Equal(t, 1, transport.dials())
}

func TestConnect_DialFailure(t *testing.T) {
	transport := &fakeTransport{err: errors.New("refused")}
	ch := newTestChannel(transport, session.StaticProvider{ID: "user-1", Bearer: "tok"})

	err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, ch.IsConnected())
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestSubscribe_ReceivesMatchingEventsOnly(t *testing.T) {
	transport := &fakeTransport{}
	ch := newTestChannel(transport, session.StaticProvider{ID: "user-1", Bearer: "tok"})
	require.NoError(t, ch.Connect(context.Background()))

	var mu sync.Mutex
	var got []string
	sub := ch.Subscribe("typing", func(payload json.RawMessage) {
		mu.Lock()
		got = append(got, string(payload))
		mu.Unlock()
	})

	conn := transport.latest()
	typing, _ := model.NewEventEnvelope("typing", map[string]string{"userId": "u2"})
	other, _ := model.NewEventEnvelope("message", map[string]string{"id": "m1"})
	conn.inbound <- typing
	conn.inbound <- other

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	// After cancel, no further deliveries.
	sub.Cancel()
	conn.inbound <- typing
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()
}

func TestReadLoop_TransportLossFlipsState(t *testing.T) {
	transport := &fakeTransport{}
	ch := newTestChannel(transport, session.StaticProvider{ID: "user-1", Bearer: "tok"})
	require.NoError(t, ch.Connect(context.Background()))

	conn := transport.latest()
	conn.readErrs <- errors.New("broken pipe")

	require.Eventually(t, func() bool {
		return !ch.IsConnected()
	}, time.Second, 10*time.Millisecond)

	// The dead socket is released, not leaked.
	select {
	case <-conn.closed:
	default:
		t.Fatal("expected the lost connection to be closed")
	}

	err := ch.Send(context.Background(), "typing", map[string]string{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

// One undecodable frame must not take the whole channel down.
func TestReadLoop_MalformedFrameIsSkipped(t *testing.T) {
	transport := &fakeTransport{}
	ch := newTestChannel(transport, session.StaticProvider{ID: "user-1", Bearer: "tok"})
	require.NoError(t, ch.Connect(context.Background()))

	var mu sync.Mutex
	var got int
	ch.Subscribe("typing", func(json.RawMessage) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	conn := transport.latest()
	conn.readErrs <- fmt.Errorf("%w: invalid character 'x'", ErrMalformedEnvelope)
	typing, _ := model.NewEventEnvelope("typing", nil)
	conn.inbound <- typing

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 1
	}, time.Second, 10*time.Millisecond)
	assert.True(t, ch.IsConnected())
}

func TestDisconnect_ClearsSubscriptions(t *testing.T) {
	transport := &fakeTransport{}
	ch := newTestChannel(transport, session.StaticProvider{ID: "user-1", Bearer: "tok"})
	require.NoError(t, ch.Connect(context.Background()))

	var mu sync.Mutex
	calls := 0
	ch.Subscribe("typing", func(json.RawMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	ch.Disconnect()
	assert.False(t, ch.IsConnected())

	// Reconnect; the old handler must not fire.
	require.NoError(t, ch.Connect(context.Background()))
	typing, _ := model.NewEventEnvelope("typing", nil)
	transport.latest().inbound <- typing
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, calls)
	mu.Unlock()
}

func TestWatch_FollowsSessionChanges(t *testing.T) {
	transport := &fakeTransport{}
	sess := session.NewTokenProvider()
	ch := newTestChannel(transport, sess)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Watch(ctx)

	require.NoError(t, sess.SetToken(testToken(t, "user-1")))
	require.Eventually(t, ch.IsConnected, time.Second, 10*time.Millisecond)

	sess.Clear()
	require.Eventually(t, func() bool {
		return !ch.IsConnected()
	}, time.Second, 10*time.Millisecond)
}
