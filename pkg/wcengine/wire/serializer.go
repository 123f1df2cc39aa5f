package wire

import (
	"encoding/hex"
	"encoding/json"

	"github.com/relaymesh/wcengine/pkg/wcengine/crypto"
	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
)

// AgreementLookup resolves the AEAD keys installed for a topic, if any.
// Satisfied by *crypto.Store; kept as an interface so the serializer has no
// hard dependency on the store's other responsibilities.
type AgreementLookup interface {
	GetAgreement(topic string) (*crypto.AgreementKeys, bool)
}

// Serialize marshals payload to JSON, encrypts it under topic's installed
// agreement keys if one exists, and hex-encodes the result for transport
// (§4.2). A pairing's first wc_pairingApprove payload predates any agreement
// and is sent in the clear; every payload thereafter is encrypted.
func Serialize(topic string, payload any, lookup AgreementLookup) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", wcerr.Wrap(wcerr.CodeDeserializationFailed, "marshal payload", err)
	}
	if ak, ok := lookup.GetAgreement(topic); ok {
		ct, err := ak.Encrypt(raw)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(ct), nil
	}
	return hex.EncodeToString(raw), nil
}

// Deserialize reverses Serialize: hex-decodes, decrypts if topic has
// installed agreement keys, then unmarshals into out.
func Deserialize(topic, payloadHex string, lookup AgreementLookup, out any) error {
	data, err := hex.DecodeString(payloadHex)
	if err != nil {
		return wcerr.Wrap(wcerr.CodeDeserializationFailed, "hex decode payload", err)
	}
	if ak, ok := lookup.GetAgreement(topic); ok {
		pt, err := ak.Decrypt(data)
		if err != nil {
			return err
		}
		data = pt
	}
	if err := json.Unmarshal(data, out); err != nil {
		return wcerr.Wrap(wcerr.CodeDeserializationFailed, "unmarshal payload", err)
	}
	return nil
}
