// Package accountproof verifies the CAIP-10 account ownership proofs a
// session_approve may carry (§4.9): a signature over a fixed challenge
// string, checked against the account's chain family.
package accountproof

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// ChallengePrefix prefixes the settled topic to form the fixed message an
// account proof signs (§4.9).
const ChallengePrefix = "wc2:account-proof:"

// Challenge returns the fixed challenge string for settledTopic.
func Challenge(settledTopic string) string {
	return ChallengePrefix + settledTopic
}

// Verify checks one AccountProof against settledTopic, dispatching on the
// CAIP-2 namespace implied by the account's CAIP-10 id (namespace:
// reference:address). An unrecognized namespace is accepted only when
// requireProof is false (§4.9's requireAccountProof escape hatch).
func Verify(proof wire.AccountProof, settledTopic string, requireProof bool) error {
	namespace, _, ok := splitCAIP10(proof.Account)
	if !ok {
		return wcerr.New(wcerr.CodeUnauthorizedAccountProof, "malformed CAIP-10 account id: "+proof.Account)
	}

	switch namespace {
	case "eip155":
		return verifyEIP155(proof, settledTopic)
	case "solana":
		return verifySolana(proof, settledTopic)
	default:
		if requireProof {
			return wcerr.New(wcerr.CodeUnauthorizedAccountProof, "no verifier wired for chain namespace: "+namespace)
		}
		return nil
	}
}

// splitCAIP10 splits "namespace:reference:address" into namespace and
// address, discarding the reference (chain id within the namespace).
func splitCAIP10(account string) (namespace, address string, ok bool) {
	parts := strings.SplitN(account, ":", 3)
	if len(parts) != 3 {
		return "", "", false
	}
	if parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

func verifyEIP155(proof wire.AccountProof, settledTopic string) error {
	_, address, ok := splitCAIP10(proof.Account)
	if !ok {
		return wcerr.New(wcerr.CodeUnauthorizedAccountProof, "malformed eip155 account id: "+proof.Account)
	}
	sig, err := decodeHexOrBase58(proof.Signature)
	if err != nil || len(sig) != 65 {
		return wcerr.New(wcerr.CodeUnauthorizedAccountProof, "eip155 proof must be a 65-byte recoverable signature")
	}

	hash := crypto.Keccak256([]byte(Challenge(settledTopic)))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeUnauthorizedAccountProof, "recover eip155 signer", err)
	}
	// Ecrecover trusts whatever point the signature math lands on; confirm it
	// is actually on the secp256k1 curve before deriving an address from it.
	if _, err := secp256k1.ParsePubKey(crypto.FromECDSAPub(pub)); err != nil {
		return wcerr.Wrap(wcerr.CodeUnauthorizedAccountProof, "recovered eip155 key is not a valid secp256k1 point", err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), address) {
		return wcerr.New(wcerr.CodeUnauthorizedAccountProof, "eip155 proof does not match account address")
	}
	return nil
}

func verifySolana(proof wire.AccountProof, settledTopic string) error {
	_, address, ok := splitCAIP10(proof.Account)
	if !ok {
		return wcerr.New(wcerr.CodeUnauthorizedAccountProof, "malformed solana account id: "+proof.Account)
	}
	sig, err := decodeHexOrBase58(proof.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return wcerr.New(wcerr.CodeUnauthorizedAccountProof, "solana proof must be a 64-byte ed25519 signature")
	}

	pubKey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeUnauthorizedAccountProof, "decode solana account address", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey[:]), []byte(Challenge(settledTopic)), sig) {
		return wcerr.New(wcerr.CodeUnauthorizedAccountProof, "solana proof signature invalid")
	}
	return nil
}

// decodeHexOrBase58 accepts a hex signature, with or without the 0x prefix
// (eip155's conventional wire form), or a base58 one (solana's), since
// AccountProof's Signature field is a plain string with no format tag of
// its own.
func decodeHexOrBase58(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hex.DecodeString(s[2:])
	}
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	return base58.Decode(s)
}
