package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/hpke"

	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
)

// hpkeSuite is fixed for the engine: X25519 KEM, HKDF-SHA256, ChaCha20Poly1305 AEAD.
var hpkeSuite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)

// presettlementInfo and presettlementExportCtx domain-separate the HPKE
// exporter secret used for the session engine's pre-settlement channel
// (§4.7, §11.1) from any other use of the same key pair.
var (
	presettlementInfo      = []byte("wc2engine/session-presettlement-v1")
	presettlementExportCtx = []byte("wc2engine/session-presettlement-export-v1")
)

// SealPresettlement establishes a one-shot HPKE context to the responder's
// hex-encoded pairing public key and returns (enc||ciphertext, exporterSecret).
// The exporterSecret is a 32-byte value that both sides can use as a
// sessionSeed / shared secret for the pre-settlement leg, independent of the
// long-lived pairing agreement key.
func SealPresettlement(peerPubHex string, plaintext []byte) (packet []byte, exporterSecret []byte, err error) {
	peerBytes, err := hex.DecodeString(peerPubHex)
	if err != nil {
		return nil, nil, wcerr.Wrap(wcerr.CodeKeyNotFound, "invalid peer public key hex", err)
	}
	peerPub, err := ecdh.X25519().NewPublicKey(peerBytes)
	if err != nil {
		return nil, nil, wcerr.Wrap(wcerr.CodeKeyNotFound, "invalid peer public key", err)
	}

	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	rp, err := kem.UnmarshalBinaryPublicKey(peerPub.Bytes())
	if err != nil {
		return nil, nil, wcerr.Wrap(wcerr.CodeKeyNotFound, "hpke unmarshal peer pub", err)
	}
	sender, err := hpkeSuite.NewSender(rp, presettlementInfo)
	if err != nil {
		return nil, nil, wcerr.Wrap(wcerr.CodeTransport, "hpke new sender", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, wcerr.Wrap(wcerr.CodeTransport, "hpke setup", err)
	}
	ct, err := sealer.Seal(plaintext, presettlementInfo)
	if err != nil {
		return nil, nil, wcerr.Wrap(wcerr.CodeTransport, "hpke seal", err)
	}
	secret := sealer.Export(presettlementExportCtx, 32)
	return append(append([]byte{}, enc...), ct...), secret, nil
}

// OpenPresettlement reverses SealPresettlement given the recipient's own
// ephemeral X25519 private key.
func OpenPresettlement(selfSK *PrivateKey, packet []byte) (plaintext []byte, exporterSecret []byte, err error) {
	const encLen = 32
	if len(packet) < encLen {
		return nil, nil, wcerr.New(wcerr.CodeDeserializationFailed, fmt.Sprintf("hpke packet too short: %d", len(packet)))
	}
	enc, ct := packet[:encLen], packet[encLen:]

	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	skR, err := kem.UnmarshalBinaryPrivateKey(selfSK.sk.Bytes())
	if err != nil {
		return nil, nil, wcerr.Wrap(wcerr.CodeKeyNotFound, "hpke unmarshal priv", err)
	}
	receiver, err := hpkeSuite.NewReceiver(skR, presettlementInfo)
	if err != nil {
		return nil, nil, wcerr.Wrap(wcerr.CodeTransport, "hpke new receiver", err)
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, nil, wcerr.Wrap(wcerr.CodeTransport, "hpke receiver setup", err)
	}
	pt, err := opener.Open(ct, presettlementInfo)
	if err != nil {
		return nil, nil, wcerr.Wrap(wcerr.CodeDeserializationFailed, "hpke open", err)
	}
	secret := opener.Export(presettlementExportCtx, 32)
	return pt, secret, nil
}
