package pairing

import "encoding/hex"

// hexSignature and hexDecodeSignature carry an Ed25519 identity signature
// (§4.8) across the wire's string-typed IdentitySig field.
func hexSignature(sig []byte) string {
	return hex.EncodeToString(sig)
}

func hexDecodeSignature(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
