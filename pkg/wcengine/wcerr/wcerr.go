// Package wcerr defines the typed error taxonomy shared by every layer of
// the pairing/session engine: crypto, transport, relay, pairing and
// session. Call sites that need to branch on failure kind should use
// errors.As to recover a *Error and switch on its Code, rather than
// matching on formatted strings.
package wcerr

import "fmt"

// Code identifies an error kind from the protocol's error taxonomy.
type Code string

const (
	CodeTransport                     Code = "transport"
	CodeKeyNotFound                   Code = "key_not_found"
	CodeNoSequenceForTopic            Code = "no_sequence_for_topic"
	CodeUnauthorizedMatchingController Code = "unauthorized_matching_controller"
	CodeUnauthorizedTargetChain       Code = "unauthorized_target_chain"
	CodeUnauthorizedJSONRPCMethod     Code = "unauthorized_jsonrpc_method"
	CodeUnauthorizedAccountProof      Code = "unauthorized_account_proof"
	CodePairingParamsURIInit          Code = "pairing_params_uri_init"
	CodePairingProposalGenFailed      Code = "pairing_proposal_generation_failed"
	CodeDeserializationFailed         Code = "deserialization_failed"
	CodeExtensionNotImplemented       Code = "extension_not_implemented"
	CodeIdentitySignatureInvalid      Code = "identity_signature_invalid"
)

// Error is a code-tagged, detail-bearing, wrappable error.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error with the given code, message, and cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value detail and returns the same error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Is lets errors.Is match two *Error values that share a Code, which is
// the granularity callers actually branch on.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
