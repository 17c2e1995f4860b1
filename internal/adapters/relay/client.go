package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mctier/lanlobby/internal/app"
	"github.com/mctier/lanlobby/internal/core"
)

// Client is a lobby member's connection to the host's relay. Inbound
// frames are translated onto the event bus; outbound signaling goes
// through Send.
type Client struct {
	bus *app.Bus

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func NewClient(bus *app.Bus) *Client {
	return &Client{bus: bus}
}

// Connect dials ws://<host>:<port>/ws, registers the local player and
// starts the read loop.
func (c *Client) Connect(ctx context.Context, hostIP string, port int, playerID, playerName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return core.ErrAlreadyRunning
	}

	url := fmt.Sprintf("ws://%s:%d/ws", hostIP, port)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("%w: relay dial %s: %v", core.ErrNetwork, url, err)
	}

	reg := Envelope{Type: TypeRegister, PlayerID: playerID, PlayerName: playerName}
	if err := conn.WriteJSON(reg); err != nil {
		conn.Close()
		return fmt.Errorf("%w: relay register: %v", core.ErrNetwork, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})

	log.Info().Str("module", "relay.client").Str("url", url).Msg("connected to relay")
	go c.readLoop(runCtx, conn)
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "relay.client").Msg("relay connection lost")
				c.bus.Publish(app.EventError, app.ErrorPayload{Message: "relay connection lost", Recoverable: true})
			}
			return
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			log.Debug().Err(err).Str("module", "relay.client").Msg("bad frame")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case TypePlayersList:
		for _, p := range env.Players {
			c.bus.Publish(app.EventPlayerJoined, app.PlayerEventPayload{PlayerID: p.PlayerID, PlayerName: p.PlayerName})
		}
	case TypePlayerJoined:
		c.bus.Publish(app.EventPlayerJoined, app.PlayerEventPayload{PlayerID: env.PlayerID, PlayerName: env.PlayerName})
	case TypePlayerLeft:
		c.bus.Publish(app.EventPlayerLeft, app.PlayerEventPayload{PlayerID: env.PlayerID, PlayerName: env.PlayerName})
	case TypeOffer, TypeAnswer:
		c.bus.Publish(app.EventSignaling, app.SignalingPayload{Type: env.Type, From: env.From, Data: env.SDP})
	case TypeICECandidate:
		c.bus.Publish(app.EventSignaling, app.SignalingPayload{Type: env.Type, From: env.From, Data: env.Candidate})
	case TypeChatMessage:
		c.bus.Publish(app.EventLobbyUpdate, env)
	case TypeError:
		c.bus.Publish(app.EventError, app.ErrorPayload{Message: env.Error, Recoverable: true})
	default:
		log.Debug().Str("module", "relay.client").Str("type", env.Type).Msg("unhandled frame")
	}
}

// Send forwards a frame to the relay for routing. The lock also
// serializes writers, which the websocket connection requires.
func (c *Client) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return core.ErrNotInLobby
	}
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: relay send: %v", core.ErrNetwork, err)
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	done := c.done
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	cancel()
	conn.Close()
	<-done
	log.Info().Str("module", "relay.client").Msg("relay client closed")
}
