// Package app sequences the tunnel and discovery adapters into the lobby
// lifecycle, owns the membership roster, and fans application events out
// to whatever front end is attached.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// EventName identifies an outbound notification to the UI layer.
type EventName string

const (
	EventPlayerJoined       EventName = "player-joined"
	EventPlayerLeft         EventName = "player-left"
	EventPlayerStatusUpdate EventName = "player-status-update"
	EventNetworkStatus      EventName = "network-status-change"
	EventSignaling          EventName = "webrtc-signaling"
	EventLobbyUpdate        EventName = "lobby-update"
	EventError              EventName = "error"
)

// Event carries a small JSON-serializable payload to subscribers.
type Event struct {
	Name    EventName `json:"name"`
	Payload any       `json:"payload"`
}

// Bus is a process-local fan-out of named events. Publishing never
// blocks: a subscriber that cannot keep up loses events rather than
// stalling the emitting loop.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and a cancel func. The cancel func
// is idempotent and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Bus) Publish(name EventName, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- Event{Name: name, Payload: payload}:
		default:
			log.Warn().Str("module", "app.events").Str("event", string(name)).Msg("subscriber full, event dropped")
		}
	}
}

// Payload shapes for the events above. Field names are part of the
// front-end contract.

type PlayerEventPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName,omitempty"`
}

type StatusUpdatePayload struct {
	PlayerID   string `json:"playerId"`
	MicEnabled bool   `json:"micEnabled"`
}

type SignalingPayload struct {
	Type string `json:"type"`
	From string `json:"from"`
	// SDP or a JSON-encoded ICE candidate, depending on Type. Opaque to
	// this layer.
	Data string `json:"data"`
}

type ErrorPayload struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}
