package session

import "github.com/relaymesh/wcengine/pkg/wcengine/wire"

// ProposeSessionParams carries the caller's side of propose_session (§4.7):
// the permission grant to request and the metadata to introduce this peer
// with. Permissions.Controller.PublicKey is left blank here; the engine
// fills it in once the controller role is known (propose time for the
// controller side, approve time for the other).
type ProposeSessionParams struct {
	Metadata    wire.AppMetadata
	Blockchains wire.Blockchains
	JSONRPC     wire.JSONRPCPermission
	// RequireAccountProof defaults to true when nil (§4.9).
	RequireAccountProof *bool
}

// Delegate receives session lifecycle events. A nil Delegate is replaced
// with a no-op implementation so the engine never has to nil-check it, and
// the host application is never forced to implement events it doesn't care
// about.
type Delegate interface {
	// OnSessionProposed fires on the responder side when an inbound
	// session_propose arrives; the host decides whether to Approve or
	// Reject proposalTopic.
	OnSessionProposed(proposalTopic string, proposal wire.SessionProposeParams)

	// OnSessionApproved fires on both sides once a session settles.
	// pendingTopic is T_s, the topic that is superseded by settledTopic.
	OnSessionApproved(settledTopic string, pendingTopic string)

	// OnSessionRejected fires on the proposer side when the responder
	// rejects. A local Approve that fails its own validation returns an
	// error and does not fire it.
	OnSessionRejected(proposalTopic string, reason wire.Reason)

	// OnSessionRequest fires when an inbound, validated session_payload
	// arrives; the host calls Respond with the matching requestID.
	OnSessionRequest(topic string, requestID int64, request wire.SessionRequest, chainID string)

	// OnSessionDeleted fires when a session is torn down, locally or by
	// the peer.
	OnSessionDeleted(topic string, reason wire.Reason)
}

type noopDelegate struct{}

func (noopDelegate) OnSessionProposed(string, wire.SessionProposeParams)         {}
func (noopDelegate) OnSessionApproved(string, string)                           {}
func (noopDelegate) OnSessionRejected(string, wire.Reason)                      {}
func (noopDelegate) OnSessionRequest(string, int64, wire.SessionRequest, string) {}
func (noopDelegate) OnSessionDeleted(string, wire.Reason)                       {}
