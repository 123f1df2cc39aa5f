// Package wire defines the JSON-RPC 2.0 envelope and protocol-level
// payload types exchanged between pairing/session engines, plus the
// hex/AEAD serializer described in §4.2 of the spec.
package wire

import "encoding/json"

// Method names a protocol operation carried as a ClientSyncJSONRPC request's
// "method" field (§3).
type Method string

const (
	MethodPairingApprove Method = "wc_pairingApprove"
	MethodPairingPayload Method = "wc_pairingPayload"
	MethodSessionPropose Method = "wc_sessionPropose"
	MethodSessionApprove Method = "wc_sessionApprove"
	MethodSessionReject  Method = "wc_sessionReject"
	MethodSessionDelete  Method = "wc_sessionDelete"
	MethodSessionPayload Method = "wc_sessionPayload"

	// Reserved extension points (§9 open questions), wired as constants.
	// The session engine rejects update/upgrade with a JSON-RPC error
	// carrying wcerr.CodeExtensionNotImplemented; ping and notification
	// requests are logged and not answered.
	MethodSessionUpdate       Method = "wc_sessionUpdate"
	MethodSessionUpgrade      Method = "wc_sessionUpgrade"
	MethodSessionPing         Method = "wc_sessionPing"
	MethodPairingPing         Method = "wc_pairingPing"
	MethodPairingNotification Method = "wc_pairingNotification"
)

// Request is the discriminated ClientSyncJSONRPC envelope (§3).
type Request struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  Method          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// NewRequest marshals params and wraps it in a Request envelope.
func NewRequest(id int64, method Method, params any) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{ID: id, JSONRPC: "2.0", Method: method, Params: raw}, nil
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Response is a JSON-RPC 2.0 response: either Result or Error is set.
type Response struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsError reports whether this response carries a JSON-RPC error.
func (r *Response) IsError() bool { return r.Error != nil }

// AppMetadata is opaque to the protocol (§3).
type AppMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons,omitempty"`
}

// RelayProtocol identifies the relay transport, e.g. {"protocol":"waku"}.
type RelayProtocol struct {
	Protocol string `json:"protocol"`
}

// Participant is one side of a sequence (§3). IdentityKey/IdentitySig are
// the optional domain-stack addition from §4.8: when IdentityKey is set,
// IdentitySig must verify over the canonical JSON of the payload that
// carries this Participant.
type Participant struct {
	PublicKey   string      `json:"publicKey"`
	Metadata    AppMetadata `json:"metadata"`
	IdentityKey string      `json:"identityKey,omitempty"`
	IdentitySig string      `json:"identitySig,omitempty"`
}

// Proposal is the pairing proposal encoded into the pairing URI (§3, §4.6).
type Proposal struct {
	Topic      string        `json:"topic"`
	Relay      RelayProtocol `json:"relay"`
	Proposer   Participant   `json:"proposer"`
	Controller bool          `json:"controller"`
}

// PairingApproveParams is wc_pairingApprove's params (§4.6 step 4).
type PairingApproveParams struct {
	Responder Participant    `json:"responder"`
	Expiry    int64          `json:"expiry"`
	State     map[string]any `json:"state,omitempty"`
}

// Blockchains is the CAIP-2 chain permission set (§3).
type Blockchains struct {
	Chains []string `json:"chains"`
}

// JSONRPCPermission is the allowed JSON-RPC method set (§3).
type JSONRPCPermission struct {
	Methods []string `json:"methods"`
}

// ControllerPermission names the controller's public key (§3).
type ControllerPermission struct {
	PublicKey string `json:"publicKey"`
}

// Permissions is a session's full permission grant (§3).
type Permissions struct {
	Blockchains          Blockchains          `json:"blockchains"`
	JSONRPC              JSONRPCPermission    `json:"jsonrpc"`
	Controller           ControllerPermission `json:"controller"`
	RequireAccountProof  *bool                `json:"requireAccountProof,omitempty"`
}

// RequireAccountProof defaults to true (§4.9): absence of the field means proof required.
func (p Permissions) RequireAccountProofOrDefault() bool {
	if p.RequireAccountProof == nil {
		return true
	}
	return *p.RequireAccountProof
}

// AccountProof binds a CAIP-10 account to a settled session topic (§4.9).
type AccountProof struct {
	Account   string `json:"account"`
	Signature string `json:"signature"`
}

// SessionProposeParams is wc_pairingPayload's inner wc_sessionPropose params (§4.7).
type SessionProposeParams struct {
	Topic       string        `json:"topic"`
	Relay       RelayProtocol `json:"relay"`
	Proposer    Participant   `json:"proposer"`
	Permissions Permissions   `json:"permissions"`

	// HPKEPresettlement carries a hex-encoded HPKE encapsulation
	// (enc||ciphertext) sealed to the responder's pairing public key,
	// present only when the proposer has UseHPKEPresettlement enabled
	// (§11.1). Omitted otherwise, in which case both sides fall back to
	// reusing the pairing's own agreement keys for the pre-settlement
	// channel.
	HPKEPresettlement string `json:"hpkePresettlement,omitempty"`
}

// PairingPayloadParams wraps another request on the pairing's settled topic (§4.7).
type PairingPayloadParams struct {
	Request Request `json:"request"`
}

// SessionApproveParams is wc_sessionApprove's params (§4.7).
type SessionApproveParams struct {
	Relay     RelayProtocol  `json:"relay"`
	Responder Participant    `json:"responder"`
	Expiry    int64          `json:"expiry"`
	State     map[string]any `json:"state,omitempty"`
	Accounts  []AccountProof `json:"accounts,omitempty"`
}

// Reason is a JSON-RPC-adjacent {code,message} pair used by reject/delete.
type Reason struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SessionRejectParams is wc_sessionReject's params.
type SessionRejectParams struct {
	Reason Reason `json:"reason"`
}

// SessionDeleteParams is wc_sessionDelete's params.
type SessionDeleteParams struct {
	Reason Reason `json:"reason"`
}

// SessionRequest is the inner request carried by a session_payload.
type SessionRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// SessionPayloadParams is wc_sessionPayload's params (§4.7).
type SessionPayloadParams struct {
	Request SessionRequest `json:"request"`
	ChainID string         `json:"chainId,omitempty"`
}

// SessionUpdateParams and SessionUpgradeParams reserve the wire shape for
// the stubbed extension points (§9); the session engine rejects both with
// wcerr.CodeExtensionNotImplemented.
type SessionUpdateParams struct {
	State map[string]any `json:"state"`
}

type SessionUpgradeParams struct {
	Permissions Permissions `json:"permissions"`
}
