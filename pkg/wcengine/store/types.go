// Package store holds the sequence store: the persistent map from topic to
// pending/settled pairing or session (§3, §4's "Sequence store" line item).
// Both engines share one SequenceStore, discriminated by Kind.
package store

import (
	"encoding/json"

	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// Kind distinguishes a pairing sequence from a session sequence; both share
// the same Pending/Settled shape but carry different proposal/permission
// payloads.
type Kind string

const (
	KindPairing Kind = "pairing"
	KindSession Kind = "session"
)

// Status is a Pending sequence's sub-state (§3).
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusResponded Status = "responded"
)

// Pending is the proposed-but-not-yet-settled half of a sequence (§3).
// Proposal carries the kind-specific proposal payload (wire.Proposal for a
// pairing, wire.SessionProposeParams for a session) as raw JSON so the store
// itself stays kind-agnostic; each engine marshals/unmarshals its own shape.
type Pending struct {
	Status   Status          `json:"status"`
	Relay    wire.RelayProtocol `json:"relay"`
	Self     wire.Participant   `json:"self"`
	Proposal json.RawMessage `json:"proposal"`
}

// Settled is the steady-state half of a sequence (§3). Permissions is nil
// for a pairing (pairings carry no permission grant) and always set for a
// session.
type Settled struct {
	Relay       wire.RelayProtocol `json:"relay"`
	Self        wire.Participant   `json:"self"`
	Peer        wire.Participant   `json:"peer"`
	Permissions *wire.Permissions  `json:"permissions,omitempty"`
	Expiry      int64              `json:"expiry"`
	State       map[string]any     `json:"state,omitempty"`
}

// Sequence is the tagged union stored under one topic: exactly one of
// Pending/Settled is non-nil (§3, §9's "state-machine shape over
// inheritance").
type Sequence struct {
	Topic   string   `json:"topic"`
	Kind    Kind     `json:"kind"`
	Pending *Pending `json:"pending,omitempty"`
	Settled *Settled `json:"settled,omitempty"`
}

// IsSettled reports whether this sequence has reached the Settled variant.
func (s *Sequence) IsSettled() bool { return s.Settled != nil }

// ExpiredEntry identifies one sequence removed by DeleteExpired, enough for
// a caller to also drop its crypto agreement and unsubscribe its topic.
type ExpiredEntry struct {
	Topic string
	Kind  Kind
}
