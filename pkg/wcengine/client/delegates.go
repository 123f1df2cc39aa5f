package client

import (
	"context"

	"github.com/relaymesh/wcengine/internal/logger"
	"github.com/relaymesh/wcengine/internal/metrics"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// pairingDelegateAdapter satisfies pairing.Delegate. Besides forwarding to
// the host delegate, it performs the settled-pairing-topic handoff: once a
// pairing settles, the session engine's HandlePairingPayload takes over
// that topic's subscription so an eventual session_propose wrapped in a
// pairing_payload has somewhere to land (pairing.Engine's own
// handleSettledTopic doc comment describes this split).
type pairingDelegateAdapter struct {
	c *Client
}

func (a *pairingDelegateAdapter) OnPairingApproved(settledTopic, pendingTopic string) {
	metrics.PairingsCreated.WithLabelValues("settled").Inc()
	metrics.PairingsActive.Inc()
	ctx := context.Background()
	if err := a.c.sub.SetSubscription(ctx, settledTopic, a.c.session.HandlePairingPayload); err != nil {
		a.c.log.Warn("bind settled pairing topic to session engine failed",
			logger.Field{Key: "topic", Value: settledTopic}, logger.Field{Key: "error", Value: err.Error()})
	}
	a.c.delegateRef().OnPairingApproved(settledTopic, pendingTopic)
}

// sessionDelegateAdapter satisfies session.Delegate, forwarding every event
// to the host delegate and updating the corresponding metrics.
type sessionDelegateAdapter struct {
	c *Client
}

func (a *sessionDelegateAdapter) OnSessionProposed(proposalTopic string, proposal wire.SessionProposeParams) {
	a.c.delegateRef().OnSessionProposed(proposalTopic, proposal)
}

func (a *sessionDelegateAdapter) OnSessionApproved(settledTopic, pendingTopic string) {
	metrics.SessionsCreated.WithLabelValues("settled").Inc()
	metrics.SessionsActive.Inc()
	a.c.delegateRef().OnSessionApproved(settledTopic, pendingTopic)
}

func (a *sessionDelegateAdapter) OnSessionRejected(proposalTopic string, reason wire.Reason) {
	metrics.SessionsCreated.WithLabelValues("rejected").Inc()
	a.c.delegateRef().OnSessionRejected(proposalTopic, reason)
}

func (a *sessionDelegateAdapter) OnSessionRequest(topic string, requestID int64, request wire.SessionRequest, chainID string) {
	a.c.delegateRef().OnSessionRequest(topic, requestID, request, chainID)
}

func (a *sessionDelegateAdapter) OnSessionDeleted(topic string, reason wire.Reason) {
	metrics.SessionsActive.Dec()
	metrics.SessionsDeleted.WithLabelValues(deleteReasonLabel(reason)).Inc()
	a.c.delegateRef().OnSessionDeleted(topic, reason)
}

// deleteReasonLabel collapses a wire.Reason into the coarse label the
// sessions_deleted_total/pairings_deleted_total vecs carry.
func deleteReasonLabel(reason wire.Reason) string {
	if reason == expiredReason {
		return "expired"
	}
	return "user"
}
