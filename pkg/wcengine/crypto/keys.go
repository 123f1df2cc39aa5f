// Package crypto holds the engine's key material and the AEAD operations
// that ride on it: X25519 ephemeral key agreement per sequence, HKDF-derived
// directional symmetric keys, and an optional Ed25519 identity layer used to
// sign the payload that first introduces a Participant (§4.8 of the spec).
package crypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"filippo.io/edwards25519"

	"github.com/relaymesh/wcengine/internal/metrics"
	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
)

// PrivateKey wraps an ephemeral X25519 private key generated for one sequence.
type PrivateKey struct {
	sk *ecdh.PrivateKey
}

// GeneratePrivateKey creates a new ephemeral X25519 private key.
func GeneratePrivateKey() (*PrivateKey, error) {
	sk, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "generate x25519 key", err)
	}
	return &PrivateKey{sk: sk}, nil
}

// PublicKeyHex returns the lower-case hex encoding of the public key.
func (p *PrivateKey) PublicKeyHex() string {
	return hex.EncodeToString(p.sk.PublicKey().Bytes())
}

// ECDH computes the raw 32-byte Diffie-Hellman output against a hex-encoded peer public key.
func (p *PrivateKey) ECDH(peerPubHex string) ([]byte, error) {
	peerBytes, err := hex.DecodeString(peerPubHex)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodeKeyNotFound, "invalid peer public key hex", err)
	}
	peerPub, err := ecdh.X25519().NewPublicKey(peerBytes)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodeKeyNotFound, "invalid peer public key", err)
	}
	shared, err := p.sk.ECDH(peerPub)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodeKeyNotFound, "ecdh failed", err)
	}
	var zero [32]byte
	if subtle.ConstantTimeCompare(shared, zero[:]) == 1 {
		return nil, wcerr.New(wcerr.CodeKeyNotFound, "x25519: low-order or identity point")
	}
	return shared, nil
}

// SettledTopic computes the settled topic = hex(SHA-256(sharedSecret)), the
// bit-exact relationship §3 and §8 require of every settled sequence.
func SettledTopic(sharedSecret []byte) string {
	sum := sha256.Sum256(sharedSecret)
	return hex.EncodeToString(sum[:])
}

// NewTopic generates a fresh random 32-byte topic, hex-encoded.
func NewTopic() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "generate topic", err)
	}
	return hex.EncodeToString(buf), nil
}

// IdentityKeyPair is the optional Ed25519 signing key a Participant may carry
// (§4.8) to authenticate the payload that first introduces its X25519 key.
type IdentityKeyPair struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateIdentityKeyPair creates a new Ed25519 identity key pair.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodePairingProposalGenFailed, "generate identity key", err)
	}
	return &IdentityKeyPair{Public: pub, private: priv}, nil
}

// PublicHex returns the lower-case hex encoding of the Ed25519 public key.
func (k *IdentityKeyPair) PublicHex() string {
	return hex.EncodeToString(k.Public)
}

// Sign signs message with the identity private key.
func (k *IdentityKeyPair) Sign(message []byte) []byte {
	start := time.Now()
	sig := ed25519.Sign(k.private, message)
	metrics.CryptoOperations.WithLabelValues("sign", "ed25519").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("sign", "ed25519").Observe(time.Since(start).Seconds())
	return sig
}

// X25519PrivateKey converts the identity key's Ed25519 private key into an
// X25519 private key via Edwards-to-Montgomery point conversion (RFC 8032
// §5.1.5 clamping, the same birational map used by age/libsodium). This lets
// a Participant bootstrap a first encrypted payload from its long-lived
// identity key alone, before any ephemeral X25519 key for the sequence has
// been generated.
func (k *IdentityKeyPair) X25519PrivateKey() (*PrivateKey, error) {
	seed := k.private.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	sk, err := ecdh.X25519().NewPrivateKey(h[:32])
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodeKeyNotFound, "derive x25519 private key from identity key", err)
	}
	return &PrivateKey{sk: sk}, nil
}

// X25519PublicKeyFromIdentity converts a hex-encoded Ed25519 public key into
// its corresponding X25519 public key (hex-encoded), by decompressing the
// Edwards point and projecting it onto the Montgomery curve.
func X25519PublicKeyFromIdentity(identityPubHex string) (string, error) {
	pubBytes, err := hex.DecodeString(identityPubHex)
	if err != nil {
		return "", wcerr.Wrap(wcerr.CodeKeyNotFound, "invalid identity public key hex", err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return "", wcerr.New(wcerr.CodeKeyNotFound, fmt.Sprintf("bad identity public key length: %d", len(pubBytes)))
	}
	point, err := new(edwards25519.Point).SetBytes(pubBytes)
	if err != nil {
		return "", wcerr.Wrap(wcerr.CodeKeyNotFound, "invalid ed25519 point", err)
	}
	return hex.EncodeToString(point.BytesMontgomery()), nil
}

// VerifyIdentity verifies a signature against a hex-encoded Ed25519 public key.
func VerifyIdentity(pubHex string, message, signature []byte) error {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("verify", "ed25519").Observe(time.Since(start).Seconds())
	}()

	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return wcerr.Wrap(wcerr.CodeKeyNotFound, "invalid identity public key hex", err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return wcerr.New(wcerr.CodeKeyNotFound, fmt.Sprintf("bad identity public key length: %d", len(pubBytes)))
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), message, signature) {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return wcerr.New(wcerr.CodeIdentitySignatureInvalid, "identity signature verification failed")
	}
	metrics.CryptoOperations.WithLabelValues("verify", "ed25519").Inc()
	return nil
}
