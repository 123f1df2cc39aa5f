package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/relaymesh/wcengine/internal/metrics"
	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
)

const aeadAlgorithm = "chacha20poly1305"

// directionalKeysInfo domain-separates the HKDF expansion that splits a raw
// X25519 shared secret into an outbound and an inbound AEAD key, so a topic
// observer can never replay a party's own ciphertext back at it.
const directionalKeysInfo = "wc2engine/directional-keys-v1"

// AgreementKeys holds the key material installed for one topic. SharedSecret
// is the raw 32-byte X25519 DH output; SettledTopic(SharedSecret) must equal
// the topic this agreement is stored under, for every settled sequence
// (§8's bit-equality invariant).
type AgreementKeys struct {
	SharedSecret []byte
	SelfPub      string
	PeerPub      string
	outKey       []byte
	inKey        []byte
	outAEAD      cipher.AEAD
	inAEAD       cipher.AEAD
}

// Store owns all key material for the process: ephemeral private keys
// (keyed by their own public key) and per-topic agreement keys. No key ever
// leaves the store except as a signed/encrypted message or a hex public key.
type Store struct {
	mu       sync.RWMutex
	privKeys map[string]*PrivateKey   // pubKeyHex -> private key
	agree    map[string]*AgreementKeys // topic -> agreement
}

// NewStore creates an empty in-memory crypto store.
func NewStore() *Store {
	return &Store{
		privKeys: make(map[string]*PrivateKey),
		agree:    make(map[string]*AgreementKeys),
	}
}

// GeneratePrivateKey generates and stores a new ephemeral X25519 key, keyed by its public hex, and returns it.
func (s *Store) GeneratePrivateKey() (*PrivateKey, error) {
	sk, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	s.PutPrivateKey(sk)
	return sk, nil
}

// PutPrivateKey stores sk indexed by its own public key.
func (s *Store) PutPrivateKey(sk *PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privKeys[sk.PublicKeyHex()] = sk
}

// GetPrivateKey looks up a previously stored private key by its public hex.
func (s *Store) GetPrivateKey(selfPubHex string) (*PrivateKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.privKeys[selfPubHex]
	return sk, ok
}

// DropPrivateKey removes a private key once its sequence no longer needs it.
func (s *Store) DropPrivateKey(selfPubHex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.privKeys, selfPubHex)
}

// DeriveAgreement performs the X25519 DH between selfSK and peerPubHex, and
// derives the directional AEAD keys. initiator must be true for the side
// that generated the original proposal (the proposer), matching the
// teacher's "whoever ran the handshake Sender side uses C2S outbound"
// convention.
func DeriveAgreement(selfSK *PrivateKey, selfPubHex, peerPubHex string, initiator bool) (*AgreementKeys, error) {
	shared, err := selfSK.ECDH(peerPubHex)
	if err != nil {
		return nil, err
	}
	return newAgreementFromSecret(shared, selfPubHex, peerPubHex, initiator)
}

// NewPresettlementAgreement builds directional AEAD keys from an HPKE
// exporter secret (SealPresettlement/OpenPresettlement's return value)
// instead of a raw X25519 DH output, for the session engine's HPKE
// pre-settlement channel (§11.1).
func NewPresettlementAgreement(exporterSecret []byte, selfPubHex, peerPubHex string, initiator bool) (*AgreementKeys, error) {
	return newAgreementFromSecret(exporterSecret, selfPubHex, peerPubHex, initiator)
}

func newAgreementFromSecret(shared []byte, selfPubHex, peerPubHex string, initiator bool) (*AgreementKeys, error) {
	ak := &AgreementKeys{SharedSecret: shared, SelfPub: selfPubHex, PeerPub: peerPubHex}
	topic := SettledTopic(shared)
	if err := ak.deriveDirectionalKeys(topic, initiator); err != nil {
		return nil, err
	}
	return ak, nil
}

func (a *AgreementKeys) deriveDirectionalKeys(topic string, initiator bool) error {
	salt := []byte(topic)
	reader := hkdf.New(sha256.New, a.SharedSecret, salt, []byte(directionalKeysInfo))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return wcerr.Wrap(wcerr.CodeKeyNotFound, "derive directional keys", err)
	}
	proposerKey, responderKey := buf[0:32], buf[32:64]
	if initiator {
		a.outKey, a.inKey = proposerKey, responderKey
	} else {
		a.outKey, a.inKey = responderKey, proposerKey
	}
	var err error
	a.outAEAD, err = chacha20poly1305.New(a.outKey)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeKeyNotFound, "create outbound aead", err)
	}
	a.inAEAD, err = chacha20poly1305.New(a.inKey)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeKeyNotFound, "create inbound aead", err)
	}
	return nil
}

// Encrypt seals plaintext under this agreement's outbound key.
// Wire format: nonce || ciphertext || tag.
func (a *AgreementKeys) Encrypt(plaintext []byte) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("encrypt", aeadAlgorithm).Observe(time.Since(start).Seconds())
	}()

	if a.outAEAD == nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return nil, wcerr.New(wcerr.CodeKeyNotFound, "agreement has no outbound key")
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return nil, wcerr.Wrap(wcerr.CodeTransport, "generate nonce", err)
	}
	ct := a.outAEAD.Seal(nil, nonce, plaintext, nil) // #nosec G407 -- nonce freshly random above
	out := make([]byte, len(nonce)+len(ct))
	copy(out, nonce)
	copy(out[len(nonce):], ct)
	metrics.CryptoOperations.WithLabelValues("encrypt", aeadAlgorithm).Inc()
	return out, nil
}

// Decrypt opens data produced by the peer's Encrypt (i.e. under our inbound key).
func (a *AgreementKeys) Decrypt(data []byte) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.CryptoOperationDuration.WithLabelValues("decrypt", aeadAlgorithm).Observe(time.Since(start).Seconds())
	}()

	if a.inAEAD == nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, wcerr.New(wcerr.CodeKeyNotFound, "agreement has no inbound key")
	}
	if len(data) < chacha20poly1305.NonceSize {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, wcerr.New(wcerr.CodeDeserializationFailed, "ciphertext too short")
	}
	nonce := data[:chacha20poly1305.NonceSize]
	ct := data[chacha20poly1305.NonceSize:]
	pt, err := a.inAEAD.Open(nil, nonce, ct, nil) // #nosec G407 -- nonce extracted from data, not hardcoded
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, wcerr.Wrap(wcerr.CodeDeserializationFailed, "decryption failed", err)
	}
	metrics.CryptoOperations.WithLabelValues("decrypt", aeadAlgorithm).Inc()
	return pt, nil
}

// PutAgreement installs keys under topic. Per §3, this must happen before
// the settled-topic subscription becomes live.
func (s *Store) PutAgreement(topic string, keys *AgreementKeys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agree[topic] = keys
}

// GetAgreement looks up the agreement installed for topic, if any.
func (s *Store) GetAgreement(topic string) (*AgreementKeys, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ak, ok := s.agree[topic]
	return ak, ok
}

// Drop removes the agreement for topic; agreement keys exist for exactly as
// long as a sequence references the topic (§3).
func (s *Store) Drop(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agree, topic)
}

// MoveAgreement re-keys an agreement from oldTopic to newTopic, used when a
// sequence migrates from its pending topic to its settled topic.
func (s *Store) MoveAgreement(oldTopic, newTopic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ak, ok := s.agree[oldTopic]
	if !ok {
		return wcerr.New(wcerr.CodeKeyNotFound, fmt.Sprintf("no agreement for topic %s", oldTopic))
	}
	s.agree[newTopic] = ak
	delete(s.agree, oldTopic)
	return nil
}

// RandomHex is a small helper for generating display/debug ids; not used for
// key material.
func RandomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
