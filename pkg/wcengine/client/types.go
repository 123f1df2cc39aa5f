package client

import (
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// Delegate receives every pairing and session lifecycle event this client
// produces. It is the single upward channel from the engines to the host
// application (§9's "cyclic callbacks" note): the engines never hold a
// reference back to the Client, only to this interface.
type Delegate interface {
	// OnPairingApproved fires on both sides once a pairing settles.
	OnPairingApproved(settledTopic string, pendingTopic string)

	// OnSessionProposed fires on the responder side when an inbound
	// session_propose arrives.
	OnSessionProposed(proposalTopic string, proposal wire.SessionProposeParams)

	// OnSessionApproved fires on both sides once a session settles.
	OnSessionApproved(settledTopic string, pendingTopic string)

	// OnSessionRejected fires on the proposer side when the responder
	// rejects. A local Approve that fails its own validation returns an
	// error and does not fire it.
	OnSessionRejected(proposalTopic string, reason wire.Reason)

	// OnSessionRequest fires when an inbound, validated session_payload
	// arrives; the host calls Respond with the matching requestID.
	OnSessionRequest(topic string, requestID int64, request wire.SessionRequest, chainID string)

	// OnSessionDeleted fires when a session is torn down, locally, by the
	// peer, or by the expiry sweeper.
	OnSessionDeleted(topic string, reason wire.Reason)

	// OnPairingDeleted fires when a pairing is torn down by the expiry
	// sweeper (the only path that deletes a settled pairing today — there
	// is no host-initiated pairing delete in §4.6).
	OnPairingDeleted(topic string, reason wire.Reason)
}

// noopDelegate is installed when the host never sets one, so dispatch is
// always safe to call unconditionally.
type noopDelegate struct{}

func (noopDelegate) OnPairingApproved(string, string)                            {}
func (noopDelegate) OnSessionProposed(string, wire.SessionProposeParams)         {}
func (noopDelegate) OnSessionApproved(string, string)                            {}
func (noopDelegate) OnSessionRejected(string, wire.Reason)                       {}
func (noopDelegate) OnSessionRequest(string, int64, wire.SessionRequest, string) {}
func (noopDelegate) OnSessionDeleted(string, wire.Reason)                        {}
func (noopDelegate) OnPairingDeleted(string, wire.Reason)                        {}

// expiredReason is the reason code/message the sweeper attaches to entries
// it evicts (§10.5).
var expiredReason = wire.Reason{Code: 6000, Message: "expired"}
