package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/pkg/wcengine/crypto"
	"github.com/relaymesh/wcengine/pkg/wcengine/transport"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// fakeTransport is an in-memory stand-in for transport.Client: Publish
// echoes nothing by itself, tests push onto inbound directly to simulate a
// peer's reply arriving over the relay.
type fakeTransport struct {
	inbound    chan transport.InboundMessage
	connEvents chan transport.ConnectionEvent
	published  []string
	failPublish bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:    make(chan transport.InboundMessage, 16),
		connEvents: make(chan transport.ConnectionEvent, 4),
	}
}

func (f *fakeTransport) Publish(_ context.Context, topic, messageHex string, _ time.Duration) error {
	if f.failPublish {
		return assertErr
	}
	f.published = append(f.published, topic+":"+messageHex)
	return nil
}
func (f *fakeTransport) Subscribe(context.Context, string) error   { return nil }
func (f *fakeTransport) Unsubscribe(context.Context, string) error { return nil }
func (f *fakeTransport) Inbound() <-chan transport.InboundMessage  { return f.inbound }
func (f *fakeTransport) ConnectionEvents() <-chan transport.ConnectionEvent {
	return f.connEvents
}

var assertErr = &fakeErr{"publish failed"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func TestFacade_PublishAndAwait_CorrelatesByID(t *testing.T) {
	ft := newFakeTransport()
	store := crypto.NewStore()
	f := New(ft, store, logger.NewDefaultLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Run(ctx)
	defer f.Close()

	req1, err := wire.NewRequest(1, wire.MethodSessionPayload, wire.SessionPayloadParams{ChainID: "eip155:1"})
	require.NoError(t, err)
	req2, err := wire.NewRequest(2, wire.MethodSessionPayload, wire.SessionPayloadParams{ChainID: "eip155:2"})
	require.NoError(t, err)

	done1 := make(chan *wire.Response, 1)
	done2 := make(chan *wire.Response, 1)
	go func() {
		resp, err := f.PublishAndAwait(context.Background(), "topic-a", req1, time.Second)
		require.NoError(t, err)
		done1 <- resp
	}()
	go func() {
		resp, err := f.PublishAndAwait(context.Background(), "topic-a", req2, time.Second)
		require.NoError(t, err)
		done2 <- resp
	}()

	// Give both publishes a moment to register before replies arrive, then
	// deliver responses out of order: id=2 first, id=1 second.
	time.Sleep(50 * time.Millisecond)
	resp2Hex, err := wire.Serialize("topic-a", &wire.Response{ID: 2, JSONRPC: "2.0", Result: []byte(`{"ok":true}`)}, store)
	require.NoError(t, err)
	resp1Hex, err := wire.Serialize("topic-a", &wire.Response{ID: 1, JSONRPC: "2.0", Result: []byte(`{"ok":true}`)}, store)
	require.NoError(t, err)
	ft.inbound <- transport.InboundMessage{Topic: "topic-a", Message: resp2Hex}
	ft.inbound <- transport.InboundMessage{Topic: "topic-a", Message: resp1Hex}

	select {
	case r := <-done1:
		require.EqualValues(t, 1, r.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("publish 1 never completed")
	}
	select {
	case r := <-done2:
		require.EqualValues(t, 2, r.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("publish 2 never completed")
	}
}

func TestFacade_ClassifiesInboundRequest(t *testing.T) {
	ft := newFakeTransport()
	store := crypto.NewStore()
	f := New(ft, store, logger.NewDefaultLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Run(ctx)
	defer f.Close()

	req, err := wire.NewRequest(9, wire.MethodSessionDelete, wire.SessionDeleteParams{Reason: wire.Reason{Code: 6000, Message: "user"}})
	require.NoError(t, err)
	payloadHex, err := wire.Serialize("topic-b", req, store)
	require.NoError(t, err)

	ft.inbound <- transport.InboundMessage{Topic: "topic-b", Message: payloadHex}

	select {
	case ir := <-f.InboundRequests():
		require.Equal(t, "topic-b", ir.Topic)
		require.Equal(t, wire.MethodSessionDelete, ir.Request.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound request never classified")
	}
}

func TestFacade_CorrelationTimeout(t *testing.T) {
	ft := newFakeTransport()
	store := crypto.NewStore()
	f := New(ft, store, logger.NewDefaultLogger())
	f.SetCorrelationTimeout(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Run(ctx)
	defer f.Close()

	req, err := wire.NewRequest(3, wire.MethodSessionPayload, wire.SessionPayloadParams{})
	require.NoError(t, err)

	_, err = f.PublishAndAwait(context.Background(), "topic-c", req, time.Second)
	require.Error(t, err)
}
