package main

import (
	"encoding/json"
	"fmt"

	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// cliDelegate prints every lifecycle event to stdout as one JSON line, so
// the CLI stays scriptable (pipe to jq) rather than relying on formatted
// prose output.
type cliDelegate struct{}

func (cliDelegate) emit(event string, fields map[string]any) {
	fields["event"] = event
	b, err := json.Marshal(fields)
	if err != nil {
		fmt.Println(`{"event":"marshal_error"}`)
		return
	}
	fmt.Println(string(b))
}

func (d cliDelegate) OnPairingApproved(settledTopic, pendingTopic string) {
	d.emit("pairing_approved", map[string]any{"settledTopic": settledTopic, "pendingTopic": pendingTopic})
}

func (d cliDelegate) OnSessionProposed(proposalTopic string, proposal wire.SessionProposeParams) {
	d.emit("session_proposed", map[string]any{"proposalTopic": proposalTopic, "proposal": proposal})
}

func (d cliDelegate) OnSessionApproved(settledTopic, pendingTopic string) {
	d.emit("session_approved", map[string]any{"settledTopic": settledTopic, "pendingTopic": pendingTopic})
}

func (d cliDelegate) OnSessionRejected(proposalTopic string, reason wire.Reason) {
	d.emit("session_rejected", map[string]any{"proposalTopic": proposalTopic, "reason": reason})
}

func (d cliDelegate) OnSessionRequest(topic string, requestID int64, request wire.SessionRequest, chainID string) {
	d.emit("session_request", map[string]any{"topic": topic, "requestID": requestID, "request": request, "chainID": chainID})
}

func (d cliDelegate) OnSessionDeleted(topic string, reason wire.Reason) {
	d.emit("session_deleted", map[string]any{"topic": topic, "reason": reason})
}

func (d cliDelegate) OnPairingDeleted(topic string, reason wire.Reason) {
	d.emit("pairing_deleted", map[string]any{"topic": topic, "reason": reason})
}
