package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

func TestSubscriber_RoutesByTopicNoCrossTalk(t *testing.T) {
	ft := newFakeTransport()
	s := NewSubscriber(ft, logger.NewDefaultLogger())

	var gotA, gotB []*wire.Request
	require.NoError(t, s.SetSubscription(context.Background(), "topic-pairing", func(topic string, req *wire.Request) {
		gotA = append(gotA, req)
	}))
	require.NoError(t, s.SetSubscription(context.Background(), "topic-session", func(topic string, req *wire.Request) {
		gotB = append(gotB, req)
	}))

	reqA := &wire.Request{ID: 1, JSONRPC: "2.0", Method: wire.MethodPairingApprove}
	reqB := &wire.Request{ID: 2, JSONRPC: "2.0", Method: wire.MethodSessionPropose}

	s.Dispatch(InboundRequest{Topic: "topic-pairing", Request: reqA})
	s.Dispatch(InboundRequest{Topic: "topic-session", Request: reqB})

	require.Len(t, gotA, 1)
	require.Equal(t, wire.MethodPairingApprove, gotA[0].Method)
	require.Len(t, gotB, 1)
	require.Equal(t, wire.MethodSessionPropose, gotB[0].Method)
}

func TestSubscriber_DropsUnownedTopic(t *testing.T) {
	ft := newFakeTransport()
	s := NewSubscriber(ft, logger.NewDefaultLogger())

	// No SetSubscription call at all — Dispatch must not panic and must
	// simply drop the request for a topic with no registered handler.
	s.Dispatch(InboundRequest{Topic: "nobody-home", Request: &wire.Request{ID: 1}})
}

func TestSubscriber_RemoveSubscriptionStopsRouting(t *testing.T) {
	ft := newFakeTransport()
	s := NewSubscriber(ft, logger.NewDefaultLogger())

	var calls int
	require.NoError(t, s.SetSubscription(context.Background(), "topic-a", func(string, *wire.Request) {
		calls++
	}))
	require.NoError(t, s.RemoveSubscription(context.Background(), "topic-a"))

	s.Dispatch(InboundRequest{Topic: "topic-a", Request: &wire.Request{ID: 1}})
	require.Equal(t, 0, calls)
	require.Empty(t, s.Topics())
}

func TestSubscriber_RunConsumesInboundChannel(t *testing.T) {
	ft := newFakeTransport()
	s := NewSubscriber(ft, logger.NewDefaultLogger())

	received := make(chan *wire.Request, 1)
	require.NoError(t, s.SetSubscription(context.Background(), "topic-a", func(_ string, req *wire.Request) {
		received <- req
	}))

	inbound := make(chan InboundRequest, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, inbound)

	inbound <- InboundRequest{Topic: "topic-a", Request: &wire.Request{ID: 7, Method: wire.MethodSessionDelete}}

	select {
	case req := <-received:
		require.EqualValues(t, 7, req.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("Run never dispatched the inbound request")
	}
}
