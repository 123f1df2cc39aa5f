// Package session implements the session propose/approve/settle state
// machine (§4.7): identical shape to pairing, but carried over a pairing's
// settled topic instead of a pairing URI, and with a permission grant and
// account ownership proofs attached at settlement.
package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/internal/metrics"
	"github.com/relaymesh/wcengine/pkg/wcengine/accountproof"
	"github.com/relaymesh/wcengine/pkg/wcengine/crypto"
	"github.com/relaymesh/wcengine/pkg/wcengine/relay"
	"github.com/relaymesh/wcengine/pkg/wcengine/store"
	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// DefaultExpiry is how far out a newly settled session's expiry is set,
// absent any other signal from the host application.
const DefaultExpiry = 7 * 24 * time.Hour

// handshakeTTL is the relay TTL carried by session_propose/approve/reject (§5).
const handshakeTTL = 30 * time.Second

// payloadTTL is the relay TTL carried by session_payload (§5).
const payloadTTL = 7 * 24 * time.Hour

func discardRequest(string, *wire.Request) {}

// Engine runs the session side of the protocol (§4.7). It shares the crypto
// store, sequence store, relay façade and subscriber with a pairing.Engine,
// but never references it directly: the pairing settled topic it rides on
// is passed in by the caller, closing the loop only through that shared
// state, per the delegate-based wiring discipline (§9).
type Engine struct {
	crypto *crypto.Store
	store  store.SequenceStore
	relay  *relay.Facade
	sub    *relay.Subscriber
	log    logger.Logger

	delegate     Delegate
	isController bool

	// useHPKEPresettlement selects the HPKE one-shot-encapsulation
	// pre-settlement channel over reusing the pairing's raw agreement
	// keys (§11.1, config.RelayConfig.UseHPKEPresettlement).
	useHPKEPresettlement bool

	nextID atomic.Int64
}

// New creates a session engine. isController is this peer's fixed
// preference for the controller role in every session it proposes or
// approves; exactly one side of every session must set it true, enforced
// at Approve time. useHPKEPresettlement selects the HPKE
// pre-settlement channel (§11.1) over reusing the pairing's agreement keys.
func New(
	cryptoStore *crypto.Store,
	seqStore store.SequenceStore,
	relayFacade *relay.Facade,
	subscriber *relay.Subscriber,
	log logger.Logger,
	delegate Delegate,
	isController bool,
	useHPKEPresettlement bool,
) *Engine {
	if delegate == nil {
		delegate = noopDelegate{}
	}
	return &Engine{
		crypto:               cryptoStore,
		store:                seqStore,
		relay:                relayFacade,
		sub:                  subscriber,
		log:                  log,
		delegate:             delegate,
		isController:         isController,
		useHPKEPresettlement: useHPKEPresettlement,
	}
}

// ProposeSession generates a session proposal on a fresh topic T_s and
// carries it to the peer as a pairing_payload over the pairing's already
// settled topic (§4.7).
func (e *Engine) ProposeSession(ctx context.Context, pairingSettledTopic string, params ProposeSessionParams) (string, error) {
	pairingAgreement, ok := e.crypto.GetAgreement(pairingSettledTopic)
	if !ok {
		return "", wcerr.New(wcerr.CodeNoSequenceForTopic, "no pairing agreement installed for topic "+pairingSettledTopic)
	}

	topic, err := crypto.NewTopic()
	if err != nil {
		return "", err
	}
	sk, err := e.crypto.GeneratePrivateKey()
	if err != nil {
		return "", err
	}
	self := wire.Participant{PublicKey: sk.PublicKeyHex(), Metadata: params.Metadata}

	controller := wire.ControllerPermission{}
	if e.isController {
		controller.PublicKey = self.PublicKey
	}
	permissions := wire.Permissions{
		Blockchains:         params.Blockchains,
		JSONRPC:             params.JSONRPC,
		Controller:          controller,
		RequireAccountProof: params.RequireAccountProof,
	}

	proposal := wire.SessionProposeParams{
		Topic:       topic,
		Relay:       wire.RelayProtocol{Protocol: "waku"},
		Proposer:    self,
		Permissions: permissions,
	}

	// Install the pre-settlement channel under T_s so both sides can
	// encrypt/decrypt the session_approve exchange before a
	// session-specific agreement exists (§4.7's "pre-settlement channel").
	// §11.1's HPKE mode seals a one-shot exporter secret to the pairing's
	// own public key instead of reusing the pairing's raw agreement keys.
	if e.useHPKEPresettlement {
		packet, exporterSecret, err := crypto.SealPresettlement(pairingAgreement.PeerPub, []byte(topic))
		if err != nil {
			return "", wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "seal hpke presettlement", err)
		}
		ak, err := crypto.NewPresettlementAgreement(exporterSecret, self.PublicKey, pairingAgreement.PeerPub, true)
		if err != nil {
			return "", wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "derive hpke presettlement agreement", err)
		}
		proposal.HPKEPresettlement = hex.EncodeToString(packet)
		e.crypto.PutAgreement(topic, ak)
	} else {
		e.crypto.PutAgreement(topic, pairingAgreement)
	}

	proposalRaw, err := json.Marshal(proposal)
	if err != nil {
		return "", wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "marshal pending session proposal", err)
	}

	seq := &store.Sequence{
		Topic: topic,
		Kind:  store.KindSession,
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

	inner, err := wire.NewRequest(e.nextID.Add(1), wire.MethodSessionPropose, proposal)
	if err != nil {
		return "", wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "build session_propose request", err)
	}
	wrapper, err := wire.NewRequest(e.nextID.Add(1), wire.MethodPairingPayload, wire.PairingPayloadParams{Request: *inner})
	if err != nil {
		return "", wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "build pairing_payload wrapper", err)
	}
	if err := e.relay.Publish(ctx, pairingSettledTopic, wrapper, handshakeTTL); err != nil {
		return "", err
	}
	return topic, nil
}

// HandlePairingPayload processes an inbound pairing_payload request arriving
// on a settled pairing topic; it is registered on that topic by the client
// facade once the corresponding pairing settles (§4.7). Payloads other than
// session_propose are logged and dropped, since no other method is wrapped
// in a pairing_payload today.
func (e *Engine) HandlePairingPayload(pairingTopic string, req *wire.Request) {
	if req.Method != wire.MethodPairingPayload {
		e.log.Warn("unexpected method on settled pairing topic", logger.Field{Key: "method", Value: string(req.Method)})
		return
	}
	var wrapper wire.PairingPayloadParams
	if err := json.Unmarshal(req.Params, &wrapper); err != nil {
		e.log.Warn("malformed pairing_payload params", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	if wrapper.Request.Method != wire.MethodSessionPropose {
		e.log.Warn("unsupported pairing_payload inner method", logger.Field{Key: "method", Value: string(wrapper.Request.Method)})
		return
	}

	var proposal wire.SessionProposeParams
	if err := json.Unmarshal(wrapper.Request.Params, &proposal); err != nil {
		e.log.Warn("malformed session_propose params", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	ctx := context.Background()
	pairingAgreement, ok := e.crypto.GetAgreement(pairingTopic)
	if !ok {
		e.log.Warn("no pairing agreement installed for session_propose topic", logger.Field{Key: "topic", Value: pairingTopic})
		return
	}

	if e.useHPKEPresettlement && proposal.HPKEPresettlement != "" {
		packet, err := hex.DecodeString(proposal.HPKEPresettlement)
		if err != nil {
			e.log.Warn("malformed hpke presettlement packet", logger.Field{Key: "error", Value: err.Error()})
			return
		}
		selfSK, ok := e.crypto.GetPrivateKey(pairingAgreement.SelfPub)
		if !ok {
			e.log.Warn("no pairing private key for hpke presettlement", logger.Field{Key: "topic", Value: pairingTopic})
			return
		}
		_, exporterSecret, err := crypto.OpenPresettlement(selfSK, packet)
		if err != nil {
			e.log.Warn("open hpke presettlement failed", logger.Field{Key: "error", Value: err.Error()})
			return
		}
		ak, err := crypto.NewPresettlementAgreement(exporterSecret, pairingAgreement.SelfPub, proposal.Proposer.PublicKey, false)
		if err != nil {
			e.log.Warn("derive hpke presettlement agreement failed", logger.Field{Key: "error", Value: err.Error()})
			return
		}
		e.crypto.PutAgreement(proposal.Topic, ak)
	} else {
		e.crypto.PutAgreement(proposal.Topic, pairingAgreement)
	}

	proposalRaw, err := json.Marshal(proposal)
	if err != nil {
		e.log.Warn("marshal session proposal failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	seq := &store.Sequence{
		Topic: proposal.Topic,
		Kind:  store.KindSession,
		Pending: &store.Pending{
			Status:   store.StatusProposed,
			Relay:    proposal.Relay,
			Self:     wire.Participant{},
			Proposal: proposalRaw,
		},
	}
	if err := e.store.Put(ctx, seq); err != nil {
		e.log.Warn("store pending session proposal failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	// Subscribe T_s now so the eventual Approve/Reject publish on it has
	// somewhere to receive its ack; a discarding handler is enough since
	// the ack is a JSON-RPC response, intercepted by the façade before it
	// ever reaches the subscriber's routing table.
	if err := e.sub.SetSubscription(ctx, proposal.Topic, discardRequest); err != nil {
		e.log.Warn("subscribe session proposal topic failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	e.delegate.OnSessionProposed(proposal.Topic, proposal)
}

// Approve accepts a pending session proposal on the responder side (§4.7,
// §4.9). accounts is verified against the settled session topic's challenge
// before any state is mutated; a failed proof leaves both sides untouched.
func (e *Engine) Approve(ctx context.Context, proposalTopic string, accounts []wire.AccountProof) error {
	seq, ok, err := e.store.Get(ctx, proposalTopic)
	if err != nil {
		return err
	}
	if !ok || seq.Pending == nil || seq.Kind != store.KindSession {
		return wcerr.New(wcerr.CodeNoSequenceForTopic, "no pending session for topic "+proposalTopic)
	}
	var proposal wire.SessionProposeParams
	if err := json.Unmarshal(seq.Pending.Proposal, &proposal); err != nil {
		return wcerr.Wrap(wcerr.CodeDeserializationFailed, "corrupt stored session proposal", err)
	}

	finalPermissions := proposal.Permissions
	if e.isController {
		if finalPermissions.Controller.PublicKey != "" {
			return wcerr.New(wcerr.CodeUnauthorizedMatchingController, "proposer and responder cannot both be controller")
		}
	} else if finalPermissions.Controller.PublicKey == "" {
		return wcerr.New(wcerr.CodeUnauthorizedMatchingController, "neither proposer nor responder designated controller")
	}

	skR, err := e.crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	agreement, err := crypto.DeriveAgreement(skR, skR.PublicKeyHex(), proposal.Proposer.PublicKey, false)
	if err != nil {
		return err
	}
	settledTopic := crypto.SettledTopic(agreement.SharedSecret)

	for _, proof := range accounts {
		if err := accountproof.Verify(proof, settledTopic, finalPermissions.RequireAccountProofOrDefault()); err != nil {
			return err
		}
	}

	if e.isController {
		finalPermissions.Controller.PublicKey = skR.PublicKeyHex()
	}

	self := wire.Participant{PublicKey: skR.PublicKeyHex()}
	expiry := time.Now().Add(DefaultExpiry).Unix()
	approveParams := wire.SessionApproveParams{
		Relay:     proposal.Relay,
		Responder: self,
		Expiry:    expiry,
		Accounts:  accounts,
	}

	respondedProposal := seq.Pending.Proposal
	responded := &store.Sequence{
		Topic: proposalTopic,
		Kind:  store.KindSession,
		Pending: &store.Pending{
			Status:   store.StatusResponded,
			Relay:    proposal.Relay,
			Self:     self,
			Proposal: respondedProposal,
		},
	}
	if err := e.store.Put(ctx, responded); err != nil {
		return err
	}

	req, err := wire.NewRequest(e.nextID.Add(1), wire.MethodSessionApprove, approveParams)
	if err != nil {
		return wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "build session_approve request", err)
	}
	resp, err := e.relay.PublishAndAwait(ctx, proposalTopic, req, handshakeTTL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return wcerr.New(wcerr.CodePairingProposalGenFailed, "peer rejected session_approve: "+resp.Error.Message)
	}

	e.crypto.PutAgreement(settledTopic, agreement)
	e.crypto.Drop(proposalTopic)

	settled := &store.Sequence{
		Topic: settledTopic,
		Kind:  store.KindSession,
		Settled: &store.Settled{
			Relay:       proposal.Relay,
			Self:        self,
			Peer:        proposal.Proposer,
			Permissions: &finalPermissions,
			Expiry:      expiry,
		},
	}
	if err := e.store.Put(ctx, settled); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, proposalTopic); err != nil {
		return err
	}
	if err := e.sub.SetSubscription(ctx, settledTopic, e.handleSettledTopic); err != nil {
		return err
	}
	_ = e.sub.RemoveSubscription(ctx, proposalTopic)

	e.delegate.OnSessionApproved(settledTopic, proposalTopic)
	return nil
}

// Reject declines a pending session proposal (§4.7): no state is persisted
// beyond what propose_session already stored, which is cleaned up here.
func (e *Engine) Reject(ctx context.Context, proposalTopic string, reason wire.Reason) error {
	req, err := wire.NewRequest(e.nextID.Add(1), wire.MethodSessionReject, wire.SessionRejectParams{Reason: reason})
	if err != nil {
		return wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "build session_reject request", err)
	}
	if err := e.relay.Publish(ctx, proposalTopic, req, handshakeTTL); err != nil {
		return err
	}
	_ = e.store.Delete(ctx, proposalTopic)
	_ = e.sub.RemoveSubscription(ctx, proposalTopic)
	e.crypto.Drop(proposalTopic)
	return nil
}

// handleProposalTopic is registered on the proposer's T_s; it handles the
// responder's session_approve or session_reject (§4.7).
func (e *Engine) handleProposalTopic(topic string, req *wire.Request) {
	ctx := context.Background()
	switch req.Method {
	case wire.MethodSessionReject:
		var params wire.SessionRejectParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			e.log.Warn("malformed session_reject params", logger.Field{Key: "error", Value: err.Error()})
			return
		}
		_ = e.store.Delete(ctx, topic)
		_ = e.sub.RemoveSubscription(ctx, topic)
		e.crypto.Drop(topic)
		e.delegate.OnSessionRejected(topic, params.Reason)
		return
	case wire.MethodSessionApprove:
		e.handleSessionApprove(ctx, topic, req)
	default:
		e.log.Warn("unexpected method on session proposal topic", logger.Field{Key: "method", Value: string(req.Method)})
	}
}

func (e *Engine) handleSessionApprove(ctx context.Context, topic string, req *wire.Request) {
	var params wire.SessionApproveParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		e.log.Warn("malformed session_approve params", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	seq, ok, err := e.store.Get(ctx, topic)
	if err != nil || !ok || seq.Pending == nil {
		e.log.Warn("session_approve for unknown pending topic", logger.Field{Key: "topic", Value: topic})
		return
	}
	var proposal wire.SessionProposeParams
	if err := json.Unmarshal(seq.Pending.Proposal, &proposal); err != nil {
		e.log.Warn("corrupt stored session proposal", logger.Field{Key: "topic", Value: topic})
		return
	}

	selfSK, ok := e.crypto.GetPrivateKey(proposal.Proposer.PublicKey)
	if !ok {
		e.log.Warn("no stored private key for pending session", logger.Field{Key: "topic", Value: topic})
		return
	}
	agreement, err := crypto.DeriveAgreement(selfSK, proposal.Proposer.PublicKey, params.Responder.PublicKey, true)
	if err != nil {
		e.log.Warn("derive session agreement failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	settledTopic := crypto.SettledTopic(agreement.SharedSecret)

	finalPermissions := proposal.Permissions
	if finalPermissions.Controller.PublicKey == "" {
		finalPermissions.Controller.PublicKey = params.Responder.PublicKey
	}

	e.crypto.PutAgreement(settledTopic, agreement)

	settled := &store.Sequence{
		Topic: settledTopic,
		Kind:  store.KindSession,
		Settled: &store.Settled{
			Relay:       proposal.Relay,
			Self:        proposal.Proposer,
			Peer:        params.Responder,
			Permissions: &finalPermissions,
			Expiry:      params.Expiry,
			State:       params.State,
		},
	}
	if err := e.store.Migrate(ctx, topic, settled); err != nil {
		e.log.Warn("migrate pending session to settled topic failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	if err := e.sub.SetSubscription(ctx, settledTopic, e.handleSettledTopic); err != nil {
		e.log.Warn("subscribe settled session topic failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	_ = e.sub.RemoveSubscription(ctx, topic)

	ack := &wire.Response{ID: req.ID, JSONRPC: "2.0", Result: json.RawMessage("true")}
	if err := e.relay.Publish(ctx, topic, ack, handshakeTTL); err != nil {
		e.log.Warn("ack session_approve failed", logger.Field{Key: "error", Value: err.Error()})
	}
	// Only drop the pre-settlement channel once the ack carrying it has
	// actually gone out; the responder is still decrypting with it.
	e.crypto.Drop(topic)

	e.delegate.OnSessionApproved(settledTopic, topic)
}

// handleSettledTopic is registered on a settled session topic; it handles
// inbound session_payload, session_delete, and rejects the stubbed
// extension methods (§9).
func (e *Engine) handleSettledTopic(topic string, req *wire.Request) {
	ctx := context.Background()
	switch req.Method {
	case wire.MethodSessionPayload:
		e.handleSessionPayload(ctx, topic, req)
	case wire.MethodSessionDelete:
		e.handleSessionDelete(ctx, topic, req)
	case wire.MethodSessionUpdate, wire.MethodSessionUpgrade:
		resp := &wire.Response{ID: req.ID, JSONRPC: "2.0", Error: &wire.RPCError{
			Code:    -32601,
			Message: string(wcerr.CodeExtensionNotImplemented),
		}}
		if err := e.relay.Publish(ctx, topic, resp, handshakeTTL); err != nil {
			e.log.Warn("reject unimplemented extension failed", logger.Field{Key: "method", Value: string(req.Method)}, logger.Field{Key: "error", Value: err.Error()})
		}
	case wire.MethodSessionPing, wire.MethodPairingPing, wire.MethodPairingNotification:
		e.log.Info("reserved method received, not yet implemented", logger.Field{Key: "method", Value: string(req.Method)})
	default:
		e.log.Warn("unrouted request on settled session topic", logger.Field{Key: "method", Value: string(req.Method)}, logger.Field{Key: "topic", Value: topic})
	}
}

// handleSessionPayload validates and surfaces an inbound application
// request (§4.7's Payload validation list).
func (e *Engine) handleSessionPayload(ctx context.Context, topic string, req *wire.Request) {
	var params wire.SessionPayloadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		e.log.Warn("malformed session_payload params", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	seq, ok, err := e.store.Get(ctx, topic)
	if err != nil || !ok || !seq.IsSettled() {
		e.respondError(ctx, topic, req.ID, wcerr.CodeNoSequenceForTopic, "no settled session for topic "+topic)
		return
	}
	permissions := seq.Settled.Permissions
	if params.ChainID != "" && !containsString(permissions.Blockchains.Chains, params.ChainID) {
		e.respondError(ctx, topic, req.ID, wcerr.CodeUnauthorizedTargetChain, "chain not permitted: "+params.ChainID)
		return
	}
	if !containsString(permissions.JSONRPC.Methods, params.Request.Method) {
		e.respondError(ctx, topic, req.ID, wcerr.CodeUnauthorizedJSONRPCMethod, "method not permitted: "+params.Request.Method)
		return
	}

	e.delegate.OnSessionRequest(topic, req.ID, params.Request, params.ChainID)
}

func (e *Engine) respondError(ctx context.Context, topic string, id int64, code wcerr.Code, message string) {
	resp := &wire.Response{ID: id, JSONRPC: "2.0", Error: &wire.RPCError{Code: -32000, Message: string(code) + ": " + message}}
	if err := e.relay.Publish(ctx, topic, resp, handshakeTTL); err != nil {
		e.log.Warn("publish session_payload validation error failed", logger.Field{Key: "code", Value: string(code)}, logger.Field{Key: "error", Value: err.Error()})
	}
}

func (e *Engine) handleSessionDelete(ctx context.Context, topic string, req *wire.Request) {
	var params wire.SessionDeleteParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		e.log.Warn("malformed session_delete params", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	_ = e.store.Delete(ctx, topic)
	_ = e.sub.RemoveSubscription(ctx, topic)
	e.crypto.Drop(topic)
	e.delegate.OnSessionDeleted(topic, params.Reason)
}

// Request sends an application-level JSON-RPC request over a settled
// session and returns the peer's decoded response (§4.7).
func (e *Engine) Request(ctx context.Context, topic string, method string, params json.RawMessage, chainID string) (*wire.Response, error) {
	seq, ok, err := e.store.Get(ctx, topic)
	if err != nil {
		return nil, err
	}
	if !ok || !seq.IsSettled() {
		return nil, wcerr.New(wcerr.CodeNoSequenceForTopic, "no settled session for topic "+topic)
	}
	payload := wire.SessionPayloadParams{Request: wire.SessionRequest{Method: method, Params: params}, ChainID: chainID}
	req, err := wire.NewRequest(e.nextID.Add(1), wire.MethodSessionPayload, payload)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "build session_payload request", err)
	}
	start := time.Now()
	resp, err := e.relay.PublishAndAwait(ctx, topic, req, payloadTTL)
	metrics.SessionRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	return resp, err
}

// Respond publishes a JSON-RPC response to an inbound session_payload,
// correlated by requestID (§4.7).
func (e *Engine) Respond(ctx context.Context, topic string, requestID int64, result json.RawMessage, rpcErr *wire.RPCError) error {
	resp := &wire.Response{ID: requestID, JSONRPC: "2.0", Result: result, Error: rpcErr}
	return e.relay.Publish(ctx, topic, resp, payloadTTL)
}

// Delete tears down a settled session and notifies the peer (§4.7).
func (e *Engine) Delete(ctx context.Context, topic string, reason wire.Reason) error {
	req, err := wire.NewRequest(e.nextID.Add(1), wire.MethodSessionDelete, wire.SessionDeleteParams{Reason: reason})
	if err != nil {
		return wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "build session_delete request", err)
	}
	if err := e.relay.Publish(ctx, topic, req, handshakeTTL); err != nil {
		return err
	}
	_ = e.store.Delete(ctx, topic)
	_ = e.sub.RemoveSubscription(ctx, topic)
	e.crypto.Drop(topic)
	e.delegate.OnSessionDeleted(topic, reason)
	return nil
}

// RestoreSubscriptions re-subscribes to every stored session topic; called
// on a transport reconnect event (§4.7's "Restore on reconnect").
func (e *Engine) RestoreSubscriptions(ctx context.Context) error {
	topics, err := e.store.ListTopics(ctx)
	if err != nil {
		return err
	}
	for _, topic := range topics {
		seq, ok, err := e.store.Get(ctx, topic)
		if err != nil || !ok || seq.Kind != store.KindSession {
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

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
