package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveAgreement_SharedSettledTopic(t *testing.T) {
	proposerSK, err := GeneratePrivateKey()
	require.NoError(t, err)
	responderSK, err := GeneratePrivateKey()
	require.NoError(t, err)

	proposerAgreement, err := DeriveAgreement(proposerSK, proposerSK.PublicKeyHex(), responderSK.PublicKeyHex(), true)
	require.NoError(t, err)
	responderAgreement, err := DeriveAgreement(responderSK, responderSK.PublicKeyHex(), proposerSK.PublicKeyHex(), false)
	require.NoError(t, err)

	require.Equal(t, proposerAgreement.SharedSecret, responderAgreement.SharedSecret)

	topic := SettledTopic(proposerAgreement.SharedSecret)
	require.Equal(t, topic, SettledTopic(responderAgreement.SharedSecret))
	require.Len(t, topic, 64) // 32 bytes hex-encoded
}

func TestDirectionalKeys_RoundTrip(t *testing.T) {
	proposerSK, err := GeneratePrivateKey()
	require.NoError(t, err)
	responderSK, err := GeneratePrivateKey()
	require.NoError(t, err)

	proposerAgreement, err := DeriveAgreement(proposerSK, proposerSK.PublicKeyHex(), responderSK.PublicKeyHex(), true)
	require.NoError(t, err)
	responderAgreement, err := DeriveAgreement(responderSK, responderSK.PublicKeyHex(), proposerSK.PublicKeyHex(), false)
	require.NoError(t, err)

	msg := []byte("session_propose payload")
	ct, err := proposerAgreement.Encrypt(msg)
	require.NoError(t, err)

	pt, err := responderAgreement.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, msg, pt)

	// The responder's own outbound key must differ from its inbound key,
	// else a topic observer could replay a party's ciphertext back at it.
	reply := []byte("session_approve payload")
	rct, err := responderAgreement.Encrypt(reply)
	require.NoError(t, err)
	rpt, err := proposerAgreement.Decrypt(rct)
	require.NoError(t, err)
	require.Equal(t, reply, rpt)

	_, err = proposerAgreement.Decrypt(ct)
	require.Error(t, err, "a party must not be able to decrypt its own outbound ciphertext")
}

func TestStore_PutGetDropAgreement(t *testing.T) {
	store := NewStore()
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)
	peer, err := GeneratePrivateKey()
	require.NoError(t, err)

	ak, err := DeriveAgreement(sk, sk.PublicKeyHex(), peer.PublicKeyHex(), true)
	require.NoError(t, err)

	topic := SettledTopic(ak.SharedSecret)
	store.PutAgreement(topic, ak)

	got, ok := store.GetAgreement(topic)
	require.True(t, ok)
	require.Equal(t, ak, got)

	store.Drop(topic)
	_, ok = store.GetAgreement(topic)
	require.False(t, ok)
}

func TestStore_MoveAgreement(t *testing.T) {
	store := NewStore()
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)
	peer, err := GeneratePrivateKey()
	require.NoError(t, err)
	ak, err := DeriveAgreement(sk, sk.PublicKeyHex(), peer.PublicKeyHex(), true)
	require.NoError(t, err)

	store.PutAgreement("pending-topic", ak)
	require.NoError(t, store.MoveAgreement("pending-topic", "settled-topic"))

	_, ok := store.GetAgreement("pending-topic")
	require.False(t, ok)
	got, ok := store.GetAgreement("settled-topic")
	require.True(t, ok)
	require.Equal(t, ak, got)

	require.Error(t, store.MoveAgreement("missing-topic", "x"))
}

func TestIdentitySignVerify(t *testing.T) {
	id, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	msg := []byte("proposal payload")
	sig := id.Sign(msg)
	require.NoError(t, VerifyIdentity(id.PublicHex(), msg, sig))

	require.Error(t, VerifyIdentity(id.PublicHex(), []byte("tampered"), sig))
}

func TestPresettlement_SealOpen(t *testing.T) {
	responderSK, err := GeneratePrivateKey()
	require.NoError(t, err)

	plaintext := []byte(`{"method":"session_propose"}`)
	packet, senderSecret, err := SealPresettlement(responderSK.PublicKeyHex(), plaintext)
	require.NoError(t, err)

	opened, receiverSecret, err := OpenPresettlement(responderSK, packet)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
	require.Equal(t, senderSecret, receiverSecret)
}

func TestIdentityKeyPair_X25519Derivation_AgreesWithSelf(t *testing.T) {
	id, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	xsk, err := id.X25519PrivateKey()
	require.NoError(t, err)

	xpubFromIdentity, err := X25519PublicKeyFromIdentity(id.PublicHex())
	require.NoError(t, err)

	require.Equal(t, xpubFromIdentity, xsk.PublicKeyHex())
}

func TestIdentityKeyPair_X25519Derivation_UsableForAgreement(t *testing.T) {
	alice, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	bobSK, err := GeneratePrivateKey()
	require.NoError(t, err)

	aliceXSK, err := alice.X25519PrivateKey()
	require.NoError(t, err)

	aliceAgreement, err := DeriveAgreement(aliceXSK, aliceXSK.PublicKeyHex(), bobSK.PublicKeyHex(), true)
	require.NoError(t, err)
	bobAgreement, err := DeriveAgreement(bobSK, bobSK.PublicKeyHex(), aliceXSK.PublicKeyHex(), false)
	require.NoError(t, err)

	require.Equal(t, aliceAgreement.SharedSecret, bobAgreement.SharedSecret)
}
