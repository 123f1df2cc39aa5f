package pairing

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/relaymesh/wcengine/pkg/wcengine/wcerr"
	"github.com/relaymesh/wcengine/pkg/wcengine/wire"
)

// Version is the pairing URI protocol version (§6).
const Version = "2"

var uriPattern = regexp.MustCompile(`^wc:([0-9a-f]{64})@([0-9]+)\?(.+)$`)

// URI is the parsed form of a pairing URI (§6): `wc:{topic}@{version}?
// controller={0|1}&publicKey={hex}&relay={percent-encoded-json}`. Unknown
// query keys are ignored by the parser.
type URI struct {
	Topic      string
	Version    string
	Controller bool
	PublicKey  string
	Relay      wire.RelayProtocol
}

// Format renders u as the exact pairing URI string (§4.6 step 2, §6).
func (u URI) Format() (string, error) {
	relayJSON, err := relayToJSON(u.Relay)
	if err != nil {
		return "", wcerr.Wrap(wcerr.CodePairingParamsURIInit, "encode relay protocol", err)
	}
	controller := "0"
	if u.Controller {
		controller = "1"
	}
	q := url.Values{}
	q.Set("controller", controller)
	q.Set("publicKey", u.PublicKey)
	q.Set("relay", relayJSON)
	return fmt.Sprintf("wc:%s@%s?%s", u.Topic, u.Version, q.Encode()), nil
}

// ParseURI strictly parses a pairing URI string (§6). Unknown query keys
// are ignored; missing required keys or a malformed topic/version fail
// with CodePairingParamsURIInit.
func ParseURI(raw string) (*URI, error) {
	m := uriPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, wcerr.New(wcerr.CodePairingParamsURIInit, "malformed pairing uri")
	}
	topic, version, query := m[1], m[2], m[3]

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodePairingParamsURIInit, "parse query", err)
	}

	controllerStr := values.Get("controller")
	if controllerStr != "0" && controllerStr != "1" {
		return nil, wcerr.New(wcerr.CodePairingParamsURIInit, "missing or invalid controller flag")
	}
	controller := controllerStr == "1"

	publicKey := values.Get("publicKey")
	if !isHex32(publicKey) {
		return nil, wcerr.New(wcerr.CodePairingParamsURIInit, "missing or malformed publicKey")
	}

	relayRaw := values.Get("relay")
	if relayRaw == "" {
		return nil, wcerr.New(wcerr.CodePairingParamsURIInit, "missing relay parameter")
	}
	relay, err := relayFromJSON(relayRaw)
	if err != nil {
		return nil, wcerr.Wrap(wcerr.CodePairingParamsURIInit, "decode relay protocol", err)
	}

	return &URI{
		Topic:      topic,
		Version:    version,
		Controller: controller,
		PublicKey:  publicKey,
		Relay:      relay,
	}, nil
}

func isHex32(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

func relayToJSON(r wire.RelayProtocol) (string, error) {
	return fmt.Sprintf(`{"protocol":%q}`, r.Protocol), nil
}

func relayFromJSON(s string) (wire.RelayProtocol, error) {
	// The wire format is the fixed {"protocol":"..."} shape; avoid pulling
	// in a JSON decode for one field by extracting it directly.
	const prefix, suffix = `{"protocol":"`, `"}`
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, suffix) {
		return wire.RelayProtocol{}, fmt.Errorf("unexpected relay encoding %q", s)
	}
	protocol := s[len(prefix) : len(s)-len(suffix)]
	if protocol == "" {
		return wire.RelayProtocol{}, fmt.Errorf("empty relay protocol")
	}
	return wire.RelayProtocol{Protocol: protocol}, nil
}
