package session

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/wcengine/internal/logger"
	wccrypto "github.com/relaymesh/wcengine/pkg/wcengine/crypto"
	"github.com/relaymesh/wcengine/pkg/wcengine/relay"
	"github.com/relaymesh/wcengine/pkg/wcengine/store"
	"github.com/relaymesh/wcengine/pkg/wcengine/transport"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// bus/busSide duplicate pairing's loopback relay fake: a Publish on one
// side is delivered to the other's Inbound() iff that side has subscribed
// to the topic.
type bus struct{ a, b *busSide }

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

func (s *busSide) Inbound() <-chan transport.InboundMessage             { return s.inbound }
func (s *busSide) ConnectionEvents() <-chan transport.ConnectionEvent { return s.connEvents }

type harness struct {
	crypto *wccrypto.Store
	store  store.SequenceStore
	relay  *relay.Facade
	sub    *relay.Subscriber
	engine *Engine
}

// newPairedHarnesses builds two session engines sitting atop an already
// settled pairing (manufactured directly in the crypto store, since
// pairing settlement itself is pairing.Engine's job, not session's).
func newPairedHarnesses(t *testing.T, isControllerA, isControllerB bool, delegateA, delegateB Delegate) (a, b *harness, pairingTopic string) {
	b2 := newBus()
	a = newSessionHarness(t, b2.a, isControllerA, delegateA)
	b = newSessionHarness(t, b2.b, isControllerB, delegateB)

	skA, err := a.crypto.GeneratePrivateKey()
	require.NoError(t, err)
	skB, err := b.crypto.GeneratePrivateKey()
	require.NoError(t, err)
	agreementA, err := wccrypto.DeriveAgreement(skA, skA.PublicKeyHex(), skB.PublicKeyHex(), true)
	require.NoError(t, err)
	agreementB, err := wccrypto.DeriveAgreement(skB, skB.PublicKeyHex(), skA.PublicKeyHex(), false)
	require.NoError(t, err)
	pairingTopic = wccrypto.SettledTopic(agreementA.SharedSecret)
	require.Equal(t, pairingTopic, wccrypto.SettledTopic(agreementB.SharedSecret))

	a.crypto.PutAgreement(pairingTopic, agreementA)
	b.crypto.PutAgreement(pairingTopic, agreementB)

	// Only b (the responder of the pairing) needs to route inbound
	// pairing_payload traffic to the session engine; a only ever publishes
	// on this topic in these tests.
	require.NoError(t, b.sub.SetSubscription(context.Background(), pairingTopic, b.engine.HandlePairingPayload))

	return a, b, pairingTopic
}

// newPairedHarnessesWithHPKE is newPairedHarnesses with both sides'
// engines constructed for the HPKE pre-settlement channel (§11.1) instead
// of the default reused-agreement one.
func newPairedHarnessesWithHPKE(t *testing.T, isControllerA, isControllerB bool, delegateA, delegateB Delegate) (a, b *harness, pairingTopic string) {
	b2 := newBus()
	a = newSessionHarnessWithHPKE(t, b2.a, isControllerA, delegateA, true)
	b = newSessionHarnessWithHPKE(t, b2.b, isControllerB, delegateB, true)

	skA, err := a.crypto.GeneratePrivateKey()
	require.NoError(t, err)
	skB, err := b.crypto.GeneratePrivateKey()
	require.NoError(t, err)
	agreementA, err := wccrypto.DeriveAgreement(skA, skA.PublicKeyHex(), skB.PublicKeyHex(), true)
	require.NoError(t, err)
	agreementB, err := wccrypto.DeriveAgreement(skB, skB.PublicKeyHex(), skA.PublicKeyHex(), false)
	require.NoError(t, err)
	pairingTopic = wccrypto.SettledTopic(agreementA.SharedSecret)
	require.Equal(t, pairingTopic, wccrypto.SettledTopic(agreementB.SharedSecret))

	a.crypto.PutAgreement(pairingTopic, agreementA)
	b.crypto.PutAgreement(pairingTopic, agreementB)

	require.NoError(t, b.sub.SetSubscription(context.Background(), pairingTopic, b.engine.HandlePairingPayload))

	return a, b, pairingTopic
}

func newSessionHarness(t *testing.T, side relay.TransportClient, isController bool, delegate Delegate) *harness {
	return newSessionHarnessWithHPKE(t, side, isController, delegate, false)
}

func newSessionHarnessWithHPKE(t *testing.T, side relay.TransportClient, isController bool, delegate Delegate, useHPKEPresettlement bool) *harness {
	cryptoStore := wccrypto.NewStore()
	seqStore := store.NewMemoryStore()
	facade := relay.New(side, cryptoStore, logger.NewDefaultLogger())
	sub := relay.NewSubscriber(side, logger.NewDefaultLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	facade.Run(ctx)
	go sub.Run(ctx, facade.InboundRequests())

	engine := New(cryptoStore, seqStore, facade, sub, logger.NewDefaultLogger(), delegate, isController, useHPKEPresettlement)
	return &harness{crypto: cryptoStore, store: seqStore, relay: facade, sub: sub, engine: engine}
}

type capturingDelegate struct {
	mu        sync.Mutex
	proposed  []string
	proposals []wire.SessionProposeParams
	approved  []string
	pending   []string
	rejected  []string
	reasons   []wire.Reason
	deleted   []string

	// onRequest, if set, lets a test auto-respond to an inbound
	// session_payload the way a host application would.
	onRequest func(topic string, requestID int64, req wire.SessionRequest, chainID string)
}

func (d *capturingDelegate) OnSessionProposed(topic string, proposal wire.SessionProposeParams) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.proposed = append(d.proposed, topic)
	d.proposals = append(d.proposals, proposal)
}

func (d *capturingDelegate) OnSessionApproved(settledTopic, pendingTopic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.approved = append(d.approved, settledTopic)
	d.pending = append(d.pending, pendingTopic)
}

func (d *capturingDelegate) OnSessionRejected(topic string, reason wire.Reason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejected = append(d.rejected, topic)
	d.reasons = append(d.reasons, reason)
}

func (d *capturingDelegate) OnSessionRequest(topic string, requestID int64, req wire.SessionRequest, chainID string) {
	if d.onRequest != nil {
		d.onRequest(topic, requestID, req, chainID)
	}
}

func (d *capturingDelegate) OnSessionDeleted(topic string, reason wire.Reason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, topic)
}

func (d *capturingDelegate) lastProposed() (string, wire.SessionProposeParams) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.proposed) == 0 {
		return "", wire.SessionProposeParams{}
	}
	return d.proposed[len(d.proposed)-1], d.proposals[len(d.proposals)-1]
}

func (d *capturingDelegate) lastApproved() (string, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.approved) == 0 {
		return "", ""
	}
	return d.approved[len(d.approved)-1], d.pending[len(d.pending)-1]
}

func (d *capturingDelegate) lastRejected() (string, wire.Reason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rejected) == 0 {
		return "", wire.Reason{}
	}
	return d.rejected[len(d.rejected)-1], d.reasons[len(d.reasons)-1]
}

func (d *capturingDelegate) lastDeleted() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.deleted) == 0 {
		return ""
	}
	return d.deleted[len(d.deleted)-1]
}

func defaultProposeParams() ProposeSessionParams {
	return ProposeSessionParams{
		Metadata:    wire.AppMetadata{Name: "dapp"},
		Blockchains: wire.Blockchains{Chains: []string{"eip155:1"}},
		JSONRPC:     wire.JSONRPCPermission{Methods: []string{"eth_sign", "eth_sendTransaction"}},
	}
}

func TestSession_ProposeApprove_SettleOnBothSides(t *testing.T) {
	proposerDelegate := &capturingDelegate{}
	responderDelegate := &capturingDelegate{}
	proposer, responder, pairingTopic := newPairedHarnesses(t, false, true, proposerDelegate, responderDelegate)

	proposalTopic, err := proposer.engine.ProposeSession(context.Background(), pairingTopic, defaultProposeParams())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		topic, _ := responderDelegate.lastProposed()
		return topic == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, responder.engine.Approve(context.Background(), proposalTopic, nil))

	require.Eventually(t, func() bool {
		_, pending := proposerDelegate.lastApproved()
		return pending == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)

	proposerSettled, _ := proposerDelegate.lastApproved()
	responderSettled, responderPending := responderDelegate.lastApproved()
	require.Equal(t, proposerSettled, responderSettled)
	require.Equal(t, proposalTopic, responderPending)

	pSeq, ok, err := proposer.store.Get(context.Background(), proposerSettled)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, pSeq.IsSettled())

	rSeq, ok, err := responder.store.Get(context.Background(), responderSettled)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rSeq.IsSettled())

	pAgreement, ok := proposer.crypto.GetAgreement(proposerSettled)
	require.True(t, ok)
	rAgreement, ok := responder.crypto.GetAgreement(responderSettled)
	require.True(t, ok)
	require.Equal(t, pAgreement.SharedSecret, rAgreement.SharedSecret)

	// Responder declared isController=true, proposer left it blank: the
	// controller public key must resolve to the responder's fresh session
	// key on both sides.
	require.NotEmpty(t, pSeq.Settled.Permissions.Controller.PublicKey)
	require.Equal(t, pSeq.Settled.Permissions.Controller.PublicKey, rSeq.Settled.Permissions.Controller.PublicKey)
	require.Equal(t, rSeq.Settled.Self.PublicKey, rSeq.Settled.Permissions.Controller.PublicKey)
}

func TestSession_ProposeApprove_HPKEPresettlement_SettleOnBothSides(t *testing.T) {
	proposerDelegate := &capturingDelegate{}
	responderDelegate := &capturingDelegate{}
	proposer, responder, pairingTopic := newPairedHarnessesWithHPKE(t, false, true, proposerDelegate, responderDelegate)

	proposalTopic, err := proposer.engine.ProposeSession(context.Background(), pairingTopic, defaultProposeParams())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		topic, _ := responderDelegate.lastProposed()
		return topic == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)

	_, proposal := responderDelegate.lastProposed()
	require.NotEmpty(t, proposal.HPKEPresettlement, "responder must see the sealed HPKE presettlement packet")

	// Both sides should already have derived the same T_s pre-settlement
	// agreement from the HPKE exporter secret, before any approval.
	proposerPresettle, ok := proposer.crypto.GetAgreement(proposalTopic)
	require.True(t, ok)
	responderPresettle, ok := responder.crypto.GetAgreement(proposalTopic)
	require.True(t, ok)
	require.Equal(t, proposerPresettle.SharedSecret, responderPresettle.SharedSecret)

	require.NoError(t, responder.engine.Approve(context.Background(), proposalTopic, nil))

	require.Eventually(t, func() bool {
		_, pending := proposerDelegate.lastApproved()
		return pending == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)

	proposerSettled, _ := proposerDelegate.lastApproved()
	responderSettled, _ := responderDelegate.lastApproved()
	require.Equal(t, proposerSettled, responderSettled)

	pAgreement, ok := proposer.crypto.GetAgreement(proposerSettled)
	require.True(t, ok)
	rAgreement, ok := responder.crypto.GetAgreement(responderSettled)
	require.True(t, ok)
	require.Equal(t, pAgreement.SharedSecret, rAgreement.SharedSecret)
}

func TestSession_ControllerConflict_RejectedWithNoStateChange(t *testing.T) {
	proposerDelegate := &capturingDelegate{}
	responderDelegate := &capturingDelegate{}
	proposer, responder, pairingTopic := newPairedHarnesses(t, true, true, proposerDelegate, responderDelegate)

	proposalTopic, err := proposer.engine.ProposeSession(context.Background(), pairingTopic, defaultProposeParams())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		topic, _ := responderDelegate.lastProposed()
		return topic == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)

	err = responder.engine.Approve(context.Background(), proposalTopic, nil)
	require.Error(t, err)

	seq, ok, err := responder.store.Get(context.Background(), proposalTopic)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.StatusProposed, seq.Pending.Status)
}

func TestSession_AccountProofRejected_AbortsSettlement(t *testing.T) {
	proposerDelegate := &capturingDelegate{}
	responderDelegate := &capturingDelegate{}
	proposer, responder, pairingTopic := newPairedHarnesses(t, false, true, proposerDelegate, responderDelegate)

	proposalTopic, err := proposer.engine.ProposeSession(context.Background(), pairingTopic, defaultProposeParams())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		topic, _ := responderDelegate.lastProposed()
		return topic == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)

	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(sk.PublicKey)
	wrongSK, err := crypto.GenerateKey()
	require.NoError(t, err)
	badSig, err := crypto.Sign(crypto.Keccak256([]byte("not the right challenge")), wrongSK)
	require.NoError(t, err)

	badProof := wire.AccountProof{Account: "eip155:1:" + address.Hex(), Signature: "0x" + hex.EncodeToString(badSig)}

	err = responder.engine.Approve(context.Background(), proposalTopic, []wire.AccountProof{badProof})
	require.Error(t, err)

	seq, ok, err := responder.store.Get(context.Background(), proposalTopic)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.StatusProposed, seq.Pending.Status)
}

func TestSession_PayloadValidation_RejectsOutOfScopeChainAndMethod(t *testing.T) {
	proposerDelegate := &capturingDelegate{}
	responderDelegate := &capturingDelegate{}
	proposer, responder, pairingTopic := newPairedHarnesses(t, false, true, proposerDelegate, responderDelegate)

	proposalTopic, err := proposer.engine.ProposeSession(context.Background(), pairingTopic, defaultProposeParams())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		topic, _ := responderDelegate.lastProposed()
		return topic == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, responder.engine.Approve(context.Background(), proposalTopic, nil))
	require.Eventually(t, func() bool {
		_, pending := proposerDelegate.lastApproved()
		return pending == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)
	settledTopic, _ := proposerDelegate.lastApproved()
	responderDelegate.onRequest = func(topic string, requestID int64, _ wire.SessionRequest, _ string) {
		_ = responder.engine.Respond(context.Background(), topic, requestID, []byte(`"ok"`), nil)
	}

	resp, err := proposer.engine.Request(context.Background(), settledTopic, "eth_sign", nil, "eip155:999")
	require.NoError(t, err)
	require.True(t, resp.IsError())

	resp, err = proposer.engine.Request(context.Background(), settledTopic, "eth_unknownMethod", nil, "")
	require.NoError(t, err)
	require.True(t, resp.IsError())

	resp, err = proposer.engine.Request(context.Background(), settledTopic, "eth_sign", nil, "eip155:1")
	require.NoError(t, err)
	require.False(t, resp.IsError())
}

func TestSession_Reject_NotifiesProposerAndLeavesNoState(t *testing.T) {
	proposerDelegate := &capturingDelegate{}
	responderDelegate := &capturingDelegate{}
	proposer, responder, pairingTopic := newPairedHarnesses(t, false, true, proposerDelegate, responderDelegate)

	proposalTopic, err := proposer.engine.ProposeSession(context.Background(), pairingTopic, defaultProposeParams())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		topic, _ := responderDelegate.lastProposed()
		return topic == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)

	reason := wire.Reason{Code: 1, Message: "user declined"}
	require.NoError(t, responder.engine.Reject(context.Background(), proposalTopic, reason))

	require.Eventually(t, func() bool {
		topic, _ := proposerDelegate.lastRejected()
		return topic == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)

	_, rejectedReason := proposerDelegate.lastRejected()
	require.Equal(t, reason, rejectedReason)

	_, ok, err := proposer.store.Get(context.Background(), proposalTopic)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSession_Delete_TearsDownBothSides(t *testing.T) {
	proposerDelegate := &capturingDelegate{}
	responderDelegate := &capturingDelegate{}
	proposer, responder, pairingTopic := newPairedHarnesses(t, false, true, proposerDelegate, responderDelegate)

	proposalTopic, err := proposer.engine.ProposeSession(context.Background(), pairingTopic, defaultProposeParams())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		topic, _ := responderDelegate.lastProposed()
		return topic == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, responder.engine.Approve(context.Background(), proposalTopic, nil))
	require.Eventually(t, func() bool {
		_, pending := proposerDelegate.lastApproved()
		return pending == proposalTopic
	}, 2*time.Second, 10*time.Millisecond)
	settledTopic, _ := proposerDelegate.lastApproved()

	require.NoError(t, proposer.engine.Delete(context.Background(), settledTopic, wire.Reason{Code: 0, Message: "done"}))

	_, ok, err := proposer.store.Get(context.Background(), settledTopic)
	require.NoError(t, err)
	require.False(t, ok)

	require.Eventually(t, func() bool {
		return responderDelegate.lastDeleted() == settledTopic
	}, 2*time.Second, 10*time.Millisecond)

	_, ok, err = responder.store.Get(context.Background(), settledTopic)
	require.NoError(t, err)
	require.False(t, ok)
}
