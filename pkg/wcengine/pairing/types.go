package pairing

import "github.com/relaymesh/wcengine/pkg/wcengine/wire"

// ProposeParams carries the caller-supplied metadata for a new pairing
// proposal (§4.6 step 1-2); everything else (topic, key, controller flag)
// is filled in by the engine.
type ProposeParams struct {
	Metadata    wire.AppMetadata
	IdentityKey string // optional hex Ed25519 public key (§4.8)
}

// Delegate receives pairing lifecycle events (§6's host-facing delegate
// events, pairing slice). A nil Delegate makes every callback a no-op.
type Delegate interface {
	OnPairingApproved(topic string, pendingTopic string)
}

type noopDelegate struct{}

func (noopDelegate) OnPairingApproved(string, string) {}
