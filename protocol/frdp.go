package protocol

import (
	"fmt"
	"strings"
)

// FRDPVersion is the peer-discovery sub-protocol version this router
// speaks, carried in every addon=FRANKENROUTER:<version>:... line.
const FRDPVersion = "1"

// FRDPType is the tag of an FRDP payload, per spec §4.5.
type FRDPType string

const (
	FRDPAuth       FRDPType = "AUTH"
	FRDPIdent      FRDPType = "IDENT"
	FRDPPing       FRDPType = "PING"
	FRDPPong       FRDPType = "PONG"
	FRDPRouterInfo FRDPType = "ROUTERINFO"
	FRDPClientInfo FRDPType = "CLIENTINFO"
	FRDPSharedInfo FRDPType = "SHAREDINFO"
)

// FRDPMessage is a decoded addon=FRANKENROUTER:... line.
type FRDPMessage struct {
	Version string
	Type    FRDPType
	Payload string
}

// AddonPrefix is the key= half of every FRDP line.
const AddonPrefix = "FRANKENROUTER"

// IsFRDPLine reports whether msg is an addon=FRANKENROUTER:... line, per
// spec §4.2 rule 1 ("FRDP lines: never forwarded; routed to the
// peer-discovery engine instead").
func IsFRDPLine(msg Message) bool {
	kv, ok := msg.(*KeyValueMessage)
	if !ok || kv.Key != "addon" {
		return false
	}
	return strings.HasPrefix(kv.Value, AddonPrefix+":")
}

// ParseFRDP decodes the addon= value of an FRDP line.
func ParseFRDP(value string) (*FRDPMessage, error) {
	parts := strings.SplitN(value, ":", 4)
	if len(parts) < 3 || parts[0] != AddonPrefix {
		return nil, fmt.Errorf("protocol: not an FRDP line: %q", value)
	}

	m := &FRDPMessage{
		Version: parts[1],
		Type:    FRDPType(parts[2]),
	}
	if len(parts) == 4 {
		m.Payload = parts[3]
	}
	return m, nil
}

// FormatFRDP renders an FRDP message back onto an "addon=" line.
func FormatFRDP(m *FRDPMessage) *KeyValueMessage {
	return &KeyValueMessage{
		Key:   "addon",
		Value: fmt.Sprintf("%s:%s:%s:%s", AddonPrefix, m.Version, m.Type, m.Payload),
	}
}

// NewPing builds a PING:<id> message.
func NewPing(id string) *FRDPMessage {
	return &FRDPMessage{Version: FRDPVersion, Type: FRDPPing, Payload: id}
}

// NewPong builds a PONG:<id> message, echoing the nonce of a received PING.
func NewPong(id string) *FRDPMessage {
	return &FRDPMessage{Version: FRDPVersion, Type: FRDPPong, Payload: id}
}

// NewIdent builds an IDENT:<simulator>:<router>:<uuid> message.
func NewIdent(simulator, router, uuid string) *FRDPMessage {
	return &FRDPMessage{
		Version: FRDPVersion,
		Type:    FRDPIdent,
		Payload: strings.Join([]string{simulator, router, uuid}, ":"),
	}
}

// ParseIdent splits an IDENT payload into its three fields.
func ParseIdent(payload string) (simulator, router, uuid string, err error) {
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("protocol: malformed IDENT payload: %q", payload)
	}
	return parts[0], parts[1], parts[2], nil
}

// NewAuth builds an AUTH:<password> message.
func NewAuth(password string) *FRDPMessage {
	return &FRDPMessage{Version: FRDPVersion, Type: FRDPAuth, Payload: password}
}

// FormatUnauthorized is the plain-text reply to a failed AUTH.
const FormatUnauthorized = "unauthorized"

// ParsePingID validates and extracts a PING/PONG nonce.
func ParsePingID(payload string) (string, error) {
	if payload == "" {
		return "", fmt.Errorf("protocol: empty PING/PONG id")
	}
	return payload, nil
}
