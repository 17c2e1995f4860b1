package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mctier/lanlobby/internal/app"
	"github.com/mctier/lanlobby/internal/config"
	"github.com/mctier/lanlobby/internal/core"
)

const (
	// Ports probed above the base when the base is taken, e.g. by a
	// second instance on the same machine. Broadcasts cover the same
	// range so peers on scanned ports still hear them.
	portScanRange = 100

	fastAnnounceInterval   = 1 * time.Second
	fastAnnounceCount      = 10
	steadyAnnounceInterval = 5 * time.Second

	// Grace before announcing a newly seen peer, so the response
	// exchange finishes and the record is fully populated.
	settleDelay = 200 * time.Millisecond
)

var broadcastIP = net.IPv4(255, 255, 255, 255)

// Service implements peer discovery over UDP broadcast. One instance
// per session; Start and Stop bracket the lobby membership.
type Service struct {
	basePort          int
	heartbeatInterval time.Duration
	peerTimeout       time.Duration

	bus       *app.Bus
	directory *Directory

	mu         sync.Mutex
	conn       *net.UDPConn
	actualPort int
	localID    string
	localName  string
	virtualIP  string
	micEnabled bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

func NewService(cfg *config.Config, bus *app.Bus) *Service {
	return &Service{
		basePort:          cfg.DiscoveryPort,
		heartbeatInterval: cfg.HeartbeatInterval,
		peerTimeout:       cfg.PeerTimeout,
		bus:               bus,
		directory:         NewDirectory(),
		micEnabled:        true,
	}
}

func (s *Service) Start(ctx context.Context, localID, localName, virtualIP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return core.ErrAlreadyRunning
	}

	conn, port, err := s.bind(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.actualPort = port
	s.localID = localID
	s.localName = localName
	s.virtualIP = virtualIP
	s.cancel = cancel
	s.running = true

	log.Info().Str("module", "discovery").Int("port", port).Str("player_id", localID).Msg("discovery started")

	s.wg.Add(3)
	go s.receiveLoop(conn)
	go s.announceLoop(runCtx)
	go s.heartbeatLoop(runCtx)
	return nil
}

func (s *Service) bind(ctx context.Context) (*net.UDPConn, int, error) {
	lc := net.ListenConfig{Control: enableBroadcast}
	for port := s.basePort; port <= s.basePort+portScanRange; port++ {
		pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", port))
		if err != nil {
			continue
		}
		return pc.(*net.UDPConn), port, nil
	}
	return nil, 0, fmt.Errorf("%w: no free discovery port in [%d, %d]", core.ErrNetwork, s.basePort, s.basePort+portScanRange)
}

// Stop broadcasts a leave notice, closes the socket and reaps the
// loops. Closing the socket is what unblocks the receive loop.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	localID := s.localID
	cancel := s.cancel
	s.running = false
	s.conn = nil
	s.mu.Unlock()

	if err := s.broadcastOn(conn, NewPlayerLeft(localID)); err != nil {
		log.Debug().Err(err).Str("module", "discovery").Msg("leave broadcast failed")
	}
	cancel()
	conn.Close()
	s.wg.Wait()
	// Emptied in place, not reassigned: Peers and SendToPeer read the
	// field without holding s.mu.
	s.directory.Clear()
	log.Info().Str("module", "discovery").Msg("discovery stopped")
}

func (s *Service) receiveLoop(conn *net.UDPConn) {
	defer s.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debug().Err(err).Str("module", "discovery").Msg("read failed")
			continue
		}
		msg, err := Decode(buf[:n])
		if err != nil {
			log.Trace().Err(err).Str("module", "discovery").Str("src", src.String()).Msg("dropping datagram")
			continue
		}
		s.handle(msg, src)
	}
}

func (s *Service) handle(msg Message, src *net.UDPAddr) {
	s.mu.Lock()
	localID := s.localID
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	// Broadcasts loop back to the sender on most stacks. Anonymous
	// datagrams carry nothing we can track either.
	if msg.PlayerID == localID || msg.From == localID {
		return
	}
	if msg.PlayerID == "" && msg.From == "" {
		return
	}

	switch msg.Type {
	case TypeDiscovery, TypeDiscoveryResponse:
		addr := announcedAddr(src, msg.Port)
		wasNew := s.directory.Upsert(msg.PlayerID, msg.PlayerName, addr, msg.MicEnabled)

		if msg.Type == TypeDiscovery {
			reply := NewDiscoveryResponse(localID, s.localName, s.actualPort, s.micEnabled)
			if err := s.sendTo(conn, addr, reply); err != nil {
				log.Debug().Err(err).Str("module", "discovery").Str("peer", msg.PlayerID).Msg("response send failed")
			}
		}
		if wasNew {
			log.Info().Str("module", "discovery").Str("peer", msg.PlayerID).Str("name", msg.PlayerName).Str("addr", addr.String()).Msg("peer discovered")
			go s.announceJoined(msg.PlayerID, msg.PlayerName)
		}

	case TypeHeartbeat:
		s.directory.Touch(msg.PlayerID)

	case TypePlayerLeft:
		if _, ok := s.directory.Remove(msg.PlayerID); ok {
			s.bus.Publish(app.EventPlayerLeft, app.PlayerEventPayload{PlayerID: msg.PlayerID})
		}

	case TypeStatusUpdate:
		if s.directory.SetMic(msg.PlayerID, msg.MicEnabled) {
			s.bus.Publish(app.EventPlayerStatusUpdate, app.StatusUpdatePayload{PlayerID: msg.PlayerID, MicEnabled: msg.MicEnabled})
		}

	case TypeOffer, TypeAnswer:
		s.bus.Publish(app.EventSignaling, app.SignalingPayload{Type: msg.Type, From: msg.From, Data: msg.SDP})

	case TypeICECandidate:
		s.bus.Publish(app.EventSignaling, app.SignalingPayload{Type: msg.Type, From: msg.From, Data: msg.Candidate})
	}
}

// announceJoined delays the joined event so the discovery exchange can
// finish first. A peer that leaves or is swept inside the settle
// window is gone from the directory, and its stale announcement is
// suppressed so joined is never observed after left.
func (s *Service) announceJoined(id, name string) {
	time.Sleep(settleDelay)
	if _, ok := s.directory.Get(id); !ok {
		return
	}
	s.bus.Publish(app.EventPlayerJoined, app.PlayerEventPayload{PlayerID: id, PlayerName: name})
}

// announcedAddr rewrites the datagram's source with the port the peer
// says it is listening on. The source port of a broadcast is ephemeral
// on some platforms.
func announcedAddr(src *net.UDPAddr, announcedPort int) *net.UDPAddr {
	if announcedPort <= 0 || announcedPort > 65535 {
		return src
	}
	return &net.UDPAddr{IP: src.IP, Port: announcedPort, Zone: src.Zone}
}

func (s *Service) announceLoop(ctx context.Context) {
	defer s.wg.Done()

	// Burst at first so existing members notice us fast, then settle
	// into a slow steady cadence.
	for i := 0; i < fastAnnounceCount; i++ {
		s.announce()
		select {
		case <-ctx.Done():
			return
		case <-time.After(fastAnnounceInterval):
		}
	}

	ticker := time.NewTicker(steadyAnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.announce()
		}
	}
}

func (s *Service) announce() {
	s.mu.Lock()
	conn := s.conn
	msg := NewDiscovery(s.localID, s.localName, s.actualPort, s.micEnabled)
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := s.broadcastOn(conn, msg); err != nil {
		log.Debug().Err(err).Str("module", "discovery").Msg("announce failed")
	}
}

func (s *Service) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			hb := NewHeartbeat(s.localID)
			s.mu.Unlock()
			if conn != nil {
				if err := s.broadcastOn(conn, hb); err != nil {
					log.Debug().Err(err).Str("module", "discovery").Msg("heartbeat failed")
				}
			}
			for _, gone := range s.directory.Sweep(s.peerTimeout) {
				log.Info().Str("module", "discovery").Str("peer", gone.ID).Msg("peer timed out")
				s.bus.Publish(app.EventPlayerLeft, app.PlayerEventPayload{PlayerID: gone.ID, PlayerName: gone.Name})
			}
		}
	}
}

// broadcastOn fans a message across the whole port scan range, since a
// peer sharing the machine may be bound above the base port.
func (s *Service) broadcastOn(conn *net.UDPConn, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	var lastErr error
	for port := s.basePort; port <= s.basePort+portScanRange; port++ {
		if _, err := conn.WriteToUDP(data, &net.UDPAddr{IP: broadcastIP, Port: port}); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w: broadcast: %v", core.ErrNetwork, lastErr)
	}
	return nil
}

func (s *Service) sendTo(conn *net.UDPConn, addr *net.UDPAddr, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if _, err := conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("%w: send to %s: %v", core.ErrNetwork, addr, err)
	}
	return nil
}

// SendToPeer unicasts a message to a known peer, used to route WebRTC
// signaling to its addressee.
func (s *Service) SendToPeer(peerID string, msg Message) error {
	rec, ok := s.directory.Get(peerID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrPeerNotFound, peerID)
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return core.ErrNotInLobby
	}
	return s.sendTo(conn, rec.Addr, msg)
}

func (s *Service) BroadcastToAll(msg Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return core.ErrNotInLobby
	}
	return s.broadcastOn(conn, msg)
}

// SetMicEnabled records the local mic state and tells everyone.
func (s *Service) SetMicEnabled(enabled bool) {
	s.mu.Lock()
	s.micEnabled = enabled
	conn := s.conn
	id := s.localID
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := s.broadcastOn(conn, NewStatusUpdate(id, enabled)); err != nil {
		log.Debug().Err(err).Str("module", "discovery").Msg("status broadcast failed")
	}
}

// Port reports the actual bound port, which may sit above the base.
func (s *Service) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actualPort
}

func (s *Service) Peers() []PeerRecord {
	return s.directory.Snapshot()
}
