package pairing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/pkg/wcengine/crypto"
	"github.com/relaymesh/wcengine/pkg/wcengine/relay"
	"github.com/relaymesh/wcengine/pkg/wcengine/store"
	"github.com/relaymesh/wcengine/pkg/wcengine/transport"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// bus is a loopback relay connecting two engines under test: a Publish on
// one side is delivered to the other side's Inbound() iff that side has
// subscribed to the topic, mirroring a real relay's fan-out.
type bus struct {
	a, b *busSide
}

type busSide struct {
	bus        *bus
	inbound    chan transport.InboundMessage
	connEvents chan transport.ConnectionEvent
	mu         sync.Mutex
	subs       map[string]bool
}

func newBus() *bus {
	b := &bus{}
	b.a = &busSide{bus: b, inbound: make(chan transport.InboundMessage, 32), connEvents: make(chan transport.ConnectionEvent, 4), subs: make(map[string]bool)}
	b.b = &busSide{bus: b, inbound: make(chan transport.InboundMessage, 32), connEvents: make(chan transport.ConnectionEvent, 4), subs: make(map[string]bool)}
	return b
}

func (s *busSide) other() *busSide {
	if s == s.bus.a {
		return s.bus.b
	}
	return s.bus.a
}

func (s *busSide) Publish(_ context.Context, topic, messageHex string, _ time.Duration) error {
	o := s.other()
	o.mu.Lock()
	subscribed := o.subs[topic]
	o.mu.Unlock()
	if subscribed {
		o.inbound <- transport.InboundMessage{Topic: topic, Message: messageHex}
	}
	return nil
}

func (s *busSide) Subscribe(_ context.Context, topic string) error {
	s.mu.Lock()
	s.subs[topic] = true
	s.mu.Unlock()
	return nil
}

func (s *busSide) Unsubscribe(_ context.Context, topic string) error {
	s.mu.Lock()
	delete(s.subs, topic)
	s.mu.Unlock()
	return nil
}

func (s *busSide) Inbound() <-chan transport.InboundMessage                 { return s.inbound }
func (s *busSide) ConnectionEvents() <-chan transport.ConnectionEvent { return s.connEvents }

type harness struct {
	crypto *crypto.Store
	store  store.SequenceStore
	relay  *relay.Facade
	sub    *relay.Subscriber
	engine *Engine
}

func newHarness(t *testing.T, side relay.TransportClient, isController bool, delegate Delegate) *harness {
	cryptoStore := crypto.NewStore()
	seqStore := store.NewMemoryStore()
	facade := relay.New(side, cryptoStore, logger.NewDefaultLogger())
	sub := relay.NewSubscriber(side, logger.NewDefaultLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	facade.Run(ctx)
	go sub.Run(ctx, facade.InboundRequests())

	engine := New(cryptoStore, seqStore, facade, sub, logger.NewDefaultLogger(), delegate, isController, nil, nil)
	return &harness{crypto: cryptoStore, store: seqStore, relay: facade, sub: sub, engine: engine}
}

type capturingDelegate struct {
	mu          sync.Mutex
	settled     []string
	pendingTops []string
}

func (d *capturingDelegate) OnPairingApproved(topic, pendingTopic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settled = append(d.settled, topic)
	d.pendingTops = append(d.pendingTops, pendingTopic)
}

func (d *capturingDelegate) last() (string, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.settled) == 0 {
		return "", ""
	}
	return d.settled[len(d.settled)-1], d.pendingTops[len(d.pendingTops)-1]
}

func TestPairing_ProposeAndPair_SettleOnBothSides(t *testing.T) {
	b := newBus()
	proposerDelegate := &capturingDelegate{}
	responderDelegate := &capturingDelegate{}
	proposer := newHarness(t, b.a, true, proposerDelegate)
	responder := newHarness(t, b.b, false, responderDelegate)

	uri, err := proposer.engine.Propose(context.Background(), ProposeParams{Metadata: wire.AppMetadata{Name: "dapp"}})
	require.NoError(t, err)
	require.Regexp(t, expectedURIShape, uri)

	require.NoError(t, responder.engine.Pair(context.Background(), uri, ProposeParams{Metadata: wire.AppMetadata{Name: "wallet"}}))

	require.Eventually(t, func() bool {
		topic, _ := proposerDelegate.last()
		return topic != ""
	}, 2*time.Second, 10*time.Millisecond)

	responderTopic, responderPending := responderDelegate.last()
	proposerTopic, proposerPending := proposerDelegate.last()
	require.Equal(t, responderTopic, proposerTopic)
	require.NotEqual(t, responderTopic, responderPending)
	require.NotEqual(t, proposerTopic, proposerPending)

	pSeq, ok, err := proposer.store.Get(context.Background(), proposerTopic)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, pSeq.IsSettled())

	rSeq, ok, err := responder.store.Get(context.Background(), responderTopic)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rSeq.IsSettled())

	pAgreement, ok := proposer.crypto.GetAgreement(proposerTopic)
	require.True(t, ok)
	rAgreement, ok := responder.crypto.GetAgreement(responderTopic)
	require.True(t, ok)
	require.Equal(t, pAgreement.SharedSecret, rAgreement.SharedSecret)
	require.Equal(t, crypto.SettledTopic(pAgreement.SharedSecret), proposerTopic)
}

func TestPairing_ControllerConflictRejected(t *testing.T) {
	b := newBus()
	proposer := newHarness(t, b.a, true, nil)
	responder := newHarness(t, b.b, true, nil) // both controller: true -> conflict

	uri, err := proposer.engine.Propose(context.Background(), ProposeParams{})
	require.NoError(t, err)

	err = responder.engine.Pair(context.Background(), uri, ProposeParams{})
	require.Error(t, err)
}
