package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Server is the signaling relay run by the lobby host. Clients register
// with their player identity; offer, answer and candidate frames are
// then routed to their addressee, everything else is fanned out.
type Server struct {
	mu      sync.RWMutex
	clients map[string]*clientEntry
}

type clientEntry struct {
	conn *wsConn
	name string
}

func NewServer() *Server {
	return &Server{clients: make(map[string]*clientEntry)}
}

// Register mounts the relay endpoint on a gin router.
func (s *Server) Register(r gin.IRouter) {
	r.GET("/ws", func(c *gin.Context) {
		s.handleConn(c)
	})
}

func (s *Server) handleConn(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	conn := &wsConn{conn: ws, send: make(chan []byte, 32)}
	// Not the request context: that dies when this handler returns,
	// and the hijacked connection outlives it.
	ctx, cancel := context.WithCancel(context.Background())

	go s.writePump(ctx, conn)
	go func() {
		defer cancel()
		s.readPump(conn)
	}()
}

func (s *Server) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump serves one connection. The player is anonymous until its
// register frame arrives; frames before that are refused.
func (s *Server) readPump(c *wsConn) {
	var playerID string
	defer func() {
		if playerID != "" {
			s.unregister(playerID)
		}
		c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			log.Debug().Err(err).Str("module", "relay").Msg("bad frame")
			continue
		}

		if env.Type == TypeRegister {
			if env.PlayerID == "" {
				s.sendJSON(c, Envelope{Type: TypeError, Error: "register without playerId"})
				continue
			}
			playerID = env.PlayerID
			s.register(playerID, env.PlayerName, c)
			continue
		}
		if playerID == "" {
			s.sendJSON(c, Envelope{Type: TypeError, Error: "not registered"})
			continue
		}
		s.route(playerID, env)
	}
}

func (s *Server) register(id, name string, c *wsConn) {
	s.mu.Lock()
	if prev, ok := s.clients[id]; ok {
		prev.conn.Close()
	}
	s.clients[id] = &clientEntry{conn: c, name: name}
	players := s.playersLocked()
	s.mu.Unlock()

	log.Info().Str("module", "relay").Str("player_id", id).Str("name", name).Msg("client registered")

	s.sendJSON(c, Envelope{Type: TypePlayersList, Players: players, Timestamp: stamp()})
	s.broadcastExcept(id, Envelope{Type: TypePlayerJoined, PlayerID: id, PlayerName: name, Timestamp: stamp()})
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	entry, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	log.Info().Str("module", "relay").Str("player_id", id).Msg("client left")
	s.broadcastExcept(id, Envelope{Type: TypePlayerLeft, PlayerID: id, PlayerName: entry.name, Timestamp: stamp()})
}

func (s *Server) route(from string, env Envelope) {
	env.From = from
	env.Timestamp = stamp()

	switch env.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		s.mu.RLock()
		entry, ok := s.clients[env.To]
		s.mu.RUnlock()
		if !ok {
			log.Debug().Str("module", "relay").Str("to", env.To).Msg("route target unknown")
			return
		}
		s.sendJSON(entry.conn, env)

	case TypeChatMessage:
		s.broadcastExcept(from, env)

	default:
		log.Warn().Str("module", "relay").Str("type", env.Type).Msg("unknown frame type")
	}
}

// Broadcast fans a frame to every registered client. Used by the host
// process itself, which is not a websocket client of its own relay.
func (s *Server) Broadcast(env Envelope) {
	if env.Timestamp == 0 {
		env.Timestamp = stamp()
	}
	s.broadcastExcept("", env)
}

func (s *Server) broadcastExcept(exclude string, env Envelope) {
	s.mu.RLock()
	conns := make([]*wsConn, 0, len(s.clients))
	for id, entry := range s.clients {
		if id != exclude {
			conns = append(conns, entry.conn)
		}
	}
	s.mu.RUnlock()
	for _, c := range conns {
		s.sendJSON(c, env)
	}
}

func (s *Server) playersLocked() []PlayerInfo {
	players := make([]PlayerInfo, 0, len(s.clients))
	for id, entry := range s.clients {
		players = append(players, PlayerInfo{PlayerID: id, PlayerName: entry.name})
	}
	return players
}

func (s *Server) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "relay").Msg("send dropped")
	}
}
