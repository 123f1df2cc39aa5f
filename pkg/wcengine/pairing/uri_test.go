package pairing

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

var expectedURIShape = regexp.MustCompile(
	`^wc:[0-9a-f]{64}@2\?controller=1&publicKey=[0-9a-f]{64}&relay=%7B%22protocol%22%3A%22waku%22%7D$`)

func TestURI_FormatMatchesExactShape(t *testing.T) {
	u := URI{
		Topic:      "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Version:    Version,
		Controller: true,
		PublicKey:  "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Relay:      wire.RelayProtocol{Protocol: "waku"},
	}
	formatted, err := u.Format()
	require.NoError(t, err)
	require.Regexp(t, expectedURIShape, formatted)
}

func TestURI_ParseFormatRoundTrip(t *testing.T) {
	u := URI{
		Topic:      "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc",
		Version:    Version,
		Controller: false,
		PublicKey:  "dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd",
		Relay:      wire.RelayProtocol{Protocol: "waku"},
	}
	formatted, err := u.Format()
	require.NoError(t, err)

	parsed, err := ParseURI(formatted)
	require.NoError(t, err)
	require.Equal(t, u.Topic, parsed.Topic)
	require.Equal(t, u.Version, parsed.Version)
	require.Equal(t, u.Controller, parsed.Controller)
	require.Equal(t, u.PublicKey, parsed.PublicKey)
	require.Equal(t, u.Relay, parsed.Relay)
}

func TestParseURI_IgnoresUnknownQueryKeys(t *testing.T) {
	raw := "wc:" + repeatHex(64) + "@2?controller=0&publicKey=" + repeatHex(64) +
		"&relay=%7B%22protocol%22%3A%22waku%22%7D&foo=bar"
	u, err := ParseURI(raw)
	require.NoError(t, err)
	require.False(t, u.Controller)
}

func TestParseURI_RejectsMalformedTopic(t *testing.T) {
	_, err := ParseURI("wc:not-hex@2?controller=1&publicKey=" + repeatHex(64) + "&relay=%7B%22protocol%22%3A%22waku%22%7D")
	require.Error(t, err)
}

func TestParseURI_RejectsMissingController(t *testing.T) {
	_, err := ParseURI("wc:" + repeatHex(64) + "@2?publicKey=" + repeatHex(64) + "&relay=%7B%22protocol%22%3A%22waku%22%7D")
	require.Error(t, err)
}

func TestParseURI_RejectsBadPublicKeyLength(t *testing.T) {
	_, err := ParseURI("wc:" + repeatHex(64) + "@2?controller=1&publicKey=ab&relay=%7B%22protocol%22%3A%22waku%22%7D")
	require.Error(t, err)
}

func TestParseURI_RejectsMissingRelay(t *testing.T) {
	_, err := ParseURI("wc:" + repeatHex(64) + "@2?controller=1&publicKey=" + repeatHex(64))
	require.Error(t, err)
}

func repeatHex(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = "0123456789abcdef"[i%16]
	}
	return string(out)
}
