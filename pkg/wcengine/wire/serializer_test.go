package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/wcengine/pkg/wcengine/crypto"
)

func TestSerialize_PlaintextRoundTrip(t *testing.T) {
	store := crypto.NewStore()
	params := SessionProposeParams{
		Topic: "pending-topic",
		Relay: RelayProtocol{Protocol: "waku"},
		Proposer: Participant{
			PublicKey: "abc123",
			Metadata:  AppMetadata{Name: "dapp"},
		},
	}

	payloadHex, err := Serialize("pending-topic", params, store)
	require.NoError(t, err)

	var out SessionProposeParams
	require.NoError(t, Deserialize("pending-topic", payloadHex, store, &out))
	require.Equal(t, params, out)
}

func TestSerialize_EncryptedRoundTrip(t *testing.T) {
	store := crypto.NewStore()
	proposerSK, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	responderSK, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	proposerAgreement, err := crypto.DeriveAgreement(proposerSK, proposerSK.PublicKeyHex(), responderSK.PublicKeyHex(), true)
	require.NoError(t, err)
	responderAgreement, err := crypto.DeriveAgreement(responderSK, responderSK.PublicKeyHex(), proposerSK.PublicKeyHex(), false)
	require.NoError(t, err)

	topic := crypto.SettledTopic(proposerAgreement.SharedSecret)
	store.PutAgreement(topic, proposerAgreement)

	responderStore := crypto.NewStore()
	responderStore.PutAgreement(topic, responderAgreement)

	params := SessionPayloadParams{
		Request: SessionRequest{Method: "eth_sign", Params: []byte(`["0x1","0x2"]`)},
		ChainID: "eip155:1",
	}

	payloadHex, err := Serialize(topic, params, store)
	require.NoError(t, err)

	var out SessionPayloadParams
	require.NoError(t, Deserialize(topic, payloadHex, responderStore, &out))
	require.Equal(t, params.ChainID, out.ChainID)
	require.JSONEq(t, string(params.Request.Params), string(out.Request.Params))
}

func TestDeserialize_RejectsBadHex(t *testing.T) {
	store := crypto.NewStore()
	var out SessionProposeParams
	err := Deserialize("topic", "not-hex", store, &out)
	require.Error(t, err)
}

func TestDeserialize_RejectsTamperedCiphertext(t *testing.T) {
	store := crypto.NewStore()
	proposerSK, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	responderSK, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	ak, err := crypto.DeriveAgreement(proposerSK, proposerSK.PublicKeyHex(), responderSK.PublicKeyHex(), true)
	require.NoError(t, err)
	topic := crypto.SettledTopic(ak.SharedSecret)
	store.PutAgreement(topic, ak)

	payloadHex, err := Serialize(topic, SessionRejectParams{Reason: Reason{Code: 1, Message: "no"}}, store)
	require.NoError(t, err)

	tampered := payloadHex[:len(payloadHex)-2] + "00"
	var out SessionRejectParams
	require.Error(t, Deserialize(topic, tampered, store, &out))
}
