package discovery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mctier/lanlobby/internal/core"
)

// Wire message types. The discriminant travels as the "type" field of a
// flat JSON object.
const (
	TypeDiscovery         = "player-discovery"
	TypeDiscoveryResponse = "player-discovery-response"
	TypeHeartbeat         = "heartbeat"
	TypePlayerLeft        = "player-left"
	TypeStatusUpdate      = "status-update"
	TypeOffer             = "offer"
	TypeAnswer            = "answer"
	TypeICECandidate      = "ice-candidate"
)

var knownTypes = map[string]bool{
	TypeDiscovery:         true,
	TypeDiscoveryResponse: true,
	TypeHeartbeat:         true,
	TypePlayerLeft:        true,
	TypeStatusUpdate:      true,
	TypeOffer:             true,
	TypeAnswer:            true,
	TypeICECandidate:      true,
}

// Message is the single envelope for every datagram on the discovery
// port. Which fields are populated depends on Type; field names are the
// wire contract and must not change.
type Message struct {
	Type       string `json:"type"`
	PlayerID   string `json:"playerId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	Port       int    `json:"port,omitempty"`
	MicEnabled bool   `json:"micEnabled"`
	Timestamp  int64  `json:"timestamp,omitempty"`

	// Signaling relay fields.
	From      string `json:"from,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a datagram, rejecting anything whose type is not ours.
// Other LAN software chatters on broadcast too.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: malformed datagram: %v", core.ErrValidation, err)
	}
	if !knownTypes[m.Type] {
		return Message{}, fmt.Errorf("%w: unknown message type %q", core.ErrValidation, m.Type)
	}
	return m, nil
}

func now() int64 { return time.Now().UnixMilli() }

func NewDiscovery(id, name string, port int, mic bool) Message {
	return Message{Type: TypeDiscovery, PlayerID: id, PlayerName: name, Port: port, MicEnabled: mic, Timestamp: now()}
}

func NewDiscoveryResponse(id, name string, port int, mic bool) Message {
	return Message{Type: TypeDiscoveryResponse, PlayerID: id, PlayerName: name, Port: port, MicEnabled: mic, Timestamp: now()}
}

func NewHeartbeat(id string) Message {
	return Message{Type: TypeHeartbeat, PlayerID: id, Timestamp: now()}
}

func NewPlayerLeft(id string) Message {
	return Message{Type: TypePlayerLeft, PlayerID: id, Timestamp: now()}
}

func NewStatusUpdate(id string, mic bool) Message {
	return Message{Type: TypeStatusUpdate, PlayerID: id, MicEnabled: mic, Timestamp: now()}
}
