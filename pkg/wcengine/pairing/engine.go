// Package pairing implements the pairing proposal/approve/settle state
// machine (§4.6) and the pairing URI codec (§6) that bootstraps it.
package pairing

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/pkg/wcengine/crypto"
	"github.com/relaymesh/wcengine/pkg/wcengine/relay"
	"github.com/relaymesh/wcengine/pkg/wcengine/store"
	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// DefaultExpiry is how far out a newly settled pairing's expiry is set,
// absent any other signal from the host application.
const DefaultExpiry = 30 * 24 * time.Hour

// handshakeTTL is the relay TTL carried by pairing_approve (§5).
const handshakeTTL = 30 * time.Second

// discardRequest is the placeholder handler registered on a topic that's
// only subscribed to receive a correlated JSON-RPC response, never an
// inbound request.
func discardRequest(string, *wire.Request) {}

// Engine runs the pairing side of the protocol (§4.6): Propose generates a
// URI for the proposer, Pair consumes one for the responder, and
// handleProposalTopic completes the proposer's half when the approve
// arrives over the relay.
type Engine struct {
	crypto *crypto.Store
	store  store.SequenceStore
	relay  *relay.Facade
	sub    *relay.Subscriber
	log    logger.Logger

	delegate     Delegate
	isController bool
	identity     *crypto.IdentityKeyPair
	trustPeerKey func(identityKeyHex string) bool

	nextID atomic.Int64
}

// New creates a pairing engine. isController is this peer's fixed preference
// for the controller role in every pairing it proposes or accepts; exactly
// one side of every pairing must set it true (§4.6 step 1 of Pair, enforced
// there). identity and trustPeerKey are both optional: a nil identity means
// this engine never signs proposals/approvals (§4.8); a nil trustPeerKey
// means it never verifies a peer's identity signature, which is a safe
// default since identity signing is additive authentication, never a
// substitute for the X25519 handshake.
func New(
	cryptoStore *crypto.Store,
	seqStore store.SequenceStore,
	relayFacade *relay.Facade,
	subscriber *relay.Subscriber,
	log logger.Logger,
	delegate Delegate,
	isController bool,
	identity *crypto.IdentityKeyPair,
	trustPeerKey func(identityKeyHex string) bool,
) *Engine {
	if delegate == nil {
		delegate = noopDelegate{}
	}
	return &Engine{
		crypto:       cryptoStore,
		store:        seqStore,
		relay:        relayFacade,
		sub:          subscriber,
		log:          log,
		delegate:     delegate,
		isController: isController,
		identity:     identity,
		trustPeerKey: trustPeerKey,
	}
}

// Propose generates a new pairing proposal, subscribes to its topic, and
// returns the pairing URI to hand to the peer out of band (§4.6 steps 1-3).
func (e *Engine) Propose(ctx context.Context, params ProposeParams) (string, error) {
	topic, err := crypto.NewTopic()
	if err != nil {
		return "", err
	}
	sk, err := e.crypto.GeneratePrivateKey()
	if err != nil {
		return "", err
	}

	self := wire.Participant{PublicKey: sk.PublicKeyHex(), Metadata: params.Metadata}
	if e.identity != nil {
		self.IdentityKey = e.identity.PublicHex()
	}

	proposal := wire.Proposal{
		Topic:      topic,
		Relay:      wire.RelayProtocol{Protocol: "waku"},
		Proposer:   self,
		Controller: e.isController,
	}
	if e.identity != nil {
		canonical, err := json.Marshal(proposal)
		if err != nil {
			return "", wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "marshal proposal for signing", err)
		}
		proposal.Proposer.IdentitySig = hexSignature(e.identity.Sign(canonical))
	}

	proposalRaw, err := json.Marshal(proposal)
	if err != nil {
		return "", wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "marshal pending proposal", err)
	}

	seq := &store.Sequence{
		Topic: topic,
		Kind:  store.KindPairing,
		Pending: &store.Pending{
			Status:   store.StatusProposed,
			Relay:    proposal.Relay,
			Self:     self,
			Proposal: proposalRaw,
		},
	}
	if err := e.store.Put(ctx, seq); err != nil {
		return "", err
	}

	if err := e.sub.SetSubscription(ctx, topic, e.handleProposalTopic); err != nil {
		return "", err
	}

	uri := URI{
		Topic:      topic,
		Version:    Version,
		Controller: e.isController,
		PublicKey:  self.PublicKey,
		Relay:      proposal.Relay,
	}
	formatted, err := uri.Format()
	if err != nil {
		return "", err
	}
	return formatted, nil
}

// Pair consumes a pairing URI on the responder side (§4.6 Pair steps 1-5).
func (e *Engine) Pair(ctx context.Context, rawURI string, params ProposeParams) error {
	u, err := ParseURI(rawURI)
	if err != nil {
		return err
	}
	if u.Controller == e.isController {
		return wcerr.New(wcerr.CodeUnauthorizedMatchingController, "proposer and responder cannot both be controller")
	}

	skR, err := e.crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	agreement, err := crypto.DeriveAgreement(skR, skR.PublicKeyHex(), u.PublicKey, false)
	if err != nil {
		return err
	}
	settledTopic := crypto.SettledTopic(agreement.SharedSecret)
	e.crypto.PutAgreement(settledTopic, agreement)

	if err := e.sub.SetSubscription(ctx, settledTopic, e.handleSettledTopic); err != nil {
		return err
	}

	self := wire.Participant{PublicKey: skR.PublicKeyHex(), Metadata: params.Metadata}
	if e.identity != nil {
		self.IdentityKey = e.identity.PublicHex()
	}

	expiry := time.Now().Add(DefaultExpiry).Unix()
	approveParams := wire.PairingApproveParams{Responder: self, Expiry: expiry}
	if e.identity != nil {
		canonical, merr := json.Marshal(approveParams)
		if merr != nil {
			return wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "marshal approve for signing", merr)
		}
		approveParams.Responder.IdentitySig = hexSignature(e.identity.Sign(canonical))
	}

	req, err := wire.NewRequest(e.nextID.Add(1), wire.MethodPairingApprove, approveParams)
	if err != nil {
		return wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "build pairing_approve request", err)
	}

	// The proposal topic is the proposer's, not ours; subscribe just long
	// enough to receive its JSON-RPC ack of pairing_approve (no request
	// ever legitimately arrives here afterwards, so a discarding handler
	// is enough).
	if err := e.sub.SetSubscription(ctx, u.Topic, discardRequest); err != nil {
		return err
	}
	resp, err := e.relay.PublishAndAwait(ctx, u.Topic, req, handshakeTTL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return wcerr.New(wcerr.CodePairingProposalGenFailed, "peer rejected pairing_approve: "+resp.Error.Message)
	}

	peer := wire.Participant{PublicKey: u.PublicKey}
	settled := &store.Sequence{
		Topic: settledTopic,
		Kind:  store.KindPairing,
		Settled: &store.Settled{
			Relay:  u.Relay,
			Self:   self,
			Peer:   peer,
			Expiry: expiry,
		},
	}
	if err := e.store.Put(ctx, settled); err != nil {
		return err
	}
	_ = e.sub.RemoveSubscription(ctx, u.Topic)

	e.delegate.OnPairingApproved(settledTopic, u.Topic)
	return nil
}

// handleProposalTopic is registered on the proposer's pending topic; it
// handles an inbound pairing_approve request (§4.6 Proposer steps 1-4).
func (e *Engine) handleProposalTopic(topic string, req *wire.Request) {
	ctx := context.Background()
	if req.Method != wire.MethodPairingApprove {
		e.log.Warn("unexpected method on pairing proposal topic", logger.Field{Key: "method", Value: string(req.Method)})
		return
	}

	var params wire.PairingApproveParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		e.log.Warn("malformed pairing_approve params", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	seq, ok, err := e.store.Get(ctx, topic)
	if err != nil || !ok || seq.Pending == nil {
		e.log.Warn("pairing_approve for unknown pending topic", logger.Field{Key: "topic", Value: topic})
		return
	}

	var proposal wire.Proposal
	if err := json.Unmarshal(seq.Pending.Proposal, &proposal); err != nil {
		e.log.Warn("corrupt stored proposal", logger.Field{Key: "topic", Value: topic})
		return
	}

	if params.Responder.IdentityKey != "" && e.trustPeerKey != nil && e.trustPeerKey(params.Responder.IdentityKey) {
		unsigned := params
		unsigned.Responder.IdentitySig = ""
		canonical, merr := json.Marshal(unsigned)
		if merr == nil {
			if verr := crypto.VerifyIdentity(params.Responder.IdentityKey, canonical, hexDecodeSignature(params.Responder.IdentitySig)); verr != nil {
				e.log.Warn("identity signature verification failed for pairing_approve", logger.Field{Key: "topic", Value: topic})
				return
			}
		}
	}

	selfSK, ok := e.crypto.GetPrivateKey(proposal.Proposer.PublicKey)
	if !ok {
		e.log.Warn("no stored private key for pending pairing", logger.Field{Key: "topic", Value: topic})
		return
	}
	agreement, err := crypto.DeriveAgreement(selfSK, proposal.Proposer.PublicKey, params.Responder.PublicKey, true)
	if err != nil {
		e.log.Warn("derive agreement failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	settledTopic := crypto.SettledTopic(agreement.SharedSecret)
	e.crypto.PutAgreement(settledTopic, agreement)

	settled := &store.Sequence{
		Topic: settledTopic,
		Kind:  store.KindPairing,
		Settled: &store.Settled{
			Relay:  proposal.Relay,
			Self:   proposal.Proposer,
			Peer:   params.Responder,
			Expiry: params.Expiry,
			State:  params.State,
		},
	}
	if err := e.store.Migrate(ctx, topic, settled); err != nil {
		e.log.Warn("migrate pending pairing to settled topic failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	if err := e.sub.SetSubscription(ctx, settledTopic, e.handleSettledTopic); err != nil {
		e.log.Warn("subscribe settled pairing topic failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	_ = e.sub.RemoveSubscription(ctx, topic)

	ack := &wire.Response{ID: req.ID, JSONRPC: "2.0", Result: json.RawMessage("true")}
	if err := e.relay.Publish(ctx, topic, ack, handshakeTTL); err != nil {
		e.log.Warn("ack pairing_approve failed", logger.Field{Key: "error", Value: err.Error()})
	}

	e.delegate.OnPairingApproved(settledTopic, topic)
}

// handleSettledTopic is registered on a settled pairing topic; post-
// settlement the pairing only ever carries pairing_payload requests, which
// the session engine's own subscription handles by routing through the
// same settled topic. This handler exists so the subscriber never logs a
// dropped-request warning for traffic the session engine has not yet
// registered a handler for (e.g. a replayed pairing_approve).
func (e *Engine) handleSettledTopic(topic string, req *wire.Request) {
	if req.Method == wire.MethodPairingApprove {
		return
	}
	e.log.Warn("unrouted request on settled pairing topic", logger.Field{Key: "method", Value: string(req.Method)}, logger.Field{Key: "topic", Value: topic})
}

// RestoreSubscriptions re-subscribes to every stored pairing topic; called
// on a transport reconnect event (§4.7's "Restore on reconnect").
func (e *Engine) RestoreSubscriptions(ctx context.Context) error {
	topics, err := e.store.ListTopics(ctx)
	if err != nil {
		return err
	}
	for _, topic := range topics {
		seq, ok, err := e.store.Get(ctx, topic)
		if err != nil || !ok || seq.Kind != store.KindPairing {
			continue
		}
		handler := e.handleSettledTopic
		if seq.Pending != nil {
			handler = e.handleProposalTopic
		}
		if err := e.sub.SetSubscription(ctx, topic, handler); err != nil {
			return err
		}
	}
	return nil
}
