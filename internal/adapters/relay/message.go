package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mctier/lanlobby/internal/core"
)

// Frame types exchanged over the host's relay socket. The relay exists
// for peers whose UDP broadcasts do not cross the overlay; it carries
// the same signaling payloads over TCP instead.
const (
	TypeRegister     = "register"
	TypePlayersList  = "players-list"
	TypePlayerJoined = "player-joined"
	TypePlayerLeft   = "player-left"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeChatMessage  = "chat-message"
	TypeError        = "error"
)

type PlayerInfo struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

// Envelope is the single frame shape. From is stamped by the server on
// routed frames so clients cannot spoof each other.
type Envelope struct {
	Type       string       `json:"type"`
	PlayerID   string       `json:"playerId,omitempty"`
	PlayerName string       `json:"playerName,omitempty"`
	From       string       `json:"from,omitempty"`
	To         string       `json:"to,omitempty"`
	SDP        string       `json:"sdp,omitempty"`
	Candidate  string       `json:"candidate,omitempty"`
	Text       string       `json:"text,omitempty"`
	Players    []PlayerInfo `json:"players,omitempty"`
	Error      string       `json:"error,omitempty"`
	Timestamp  int64        `json:"timestamp,omitempty"`
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed frame: %v", core.ErrValidation, err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("%w: frame without type", core.ErrValidation)
	}
	return e, nil
}

func stamp() int64 { return time.Now().UnixMilli() }
