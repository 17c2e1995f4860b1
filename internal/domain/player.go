package domain

import (
	"time"

	"github.com/google/uuid"
)

type PlayerID string

// Player is a roster member of the current lobby. Distinct from a
// discovery-level peer record: a peer can be reachable on the overlay
// before (or after) it is a recognized lobby member.
type Player struct {
	ID         PlayerID  `json:"id"`
	Name       string    `json:"name"`
	MicEnabled bool      `json:"micEnabled"`
	IsMuted    bool      `json:"isMuted"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// NewPlayer avoids raw literals in adapters and keeps construction obvious.
func NewPlayer(name string) *Player {
	return &Player{
		ID:         PlayerID(uuid.NewString()),
		Name:       name,
		MicEnabled: true,
		JoinedAt:   time.Now().UTC(),
	}
}
