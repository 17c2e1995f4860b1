package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mctier/lanlobby/internal/core"
	"github.com/mctier/lanlobby/internal/domain"
)

// JoinParams are the user-supplied inputs for both create and join.
type JoinParams struct {
	LobbyName  string
	Password   string
	PlayerName string
	// ServerNode is the public rendezvous peer used to bootstrap the
	// overlay, e.g. "tcp://node.example.com:11010".
	ServerNode string
}

// SessionManager sequences tunnel bring-up and discovery into the
// create/join/leave lifecycle and owns the roster. At most one session
// is live per manager, and one manager per process.
type SessionManager struct {
	tunnel    core.Tunnel
	discovery core.Discovery
	bus       *Bus

	hostVirtualIP string

	mu          sync.Mutex
	lobby       *domain.Lobby
	localPlayer domain.PlayerID
	roster      *Roster
}

func NewSessionManager(tunnel core.Tunnel, discovery core.Discovery, bus *Bus, hostVirtualIP string) *SessionManager {
	return &SessionManager{
		tunnel:        tunnel,
		discovery:     discovery,
		bus:           bus,
		hostVirtualIP: hostVirtualIP,
		roster:        NewRoster(),
	}
}

// Validate runs every input check without touching any state. It is the
// exact precondition of Create and Join.
func Validate(p JoinParams) error {
	if err := domain.ValidateLobbyName(p.LobbyName); err != nil {
		return err
	}
	if err := domain.ValidatePassword(p.Password); err != nil {
		return err
	}
	if err := domain.ValidateRequired(p.PlayerName, "player name"); err != nil {
		return err
	}
	return domain.ValidateRequired(p.ServerNode, "server node")
}

// Create brings a new lobby online. The creator does not start peer
// discovery: peers announce themselves to it once they join.
func (m *SessionManager) Create(ctx context.Context, p JoinParams) (*domain.Lobby, error) {
	return m.establish(ctx, p, false)
}

// Join connects to an existing lobby and additionally starts discovery
// so the new member finds peers that are already present.
func (m *SessionManager) Join(ctx context.Context, p JoinParams) (*domain.Lobby, error) {
	return m.establish(ctx, p, true)
}

func (m *SessionManager) establish(ctx context.Context, p JoinParams, withDiscovery bool) (*domain.Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lobby != nil {
		return nil, core.ErrAlreadyInLobby
	}
	// Validation tolerates surrounding whitespace, so trim here once
	// before the name feeds the namespace and the lobby itself.
	p.LobbyName = strings.TrimSpace(p.LobbyName)
	if err := Validate(p); err != nil {
		return nil, err
	}

	creds := domain.DeriveCredentials(p.LobbyName, p.Password)
	log.Info().Str("module", "app.session").Str("lobby", p.LobbyName).Str("namespace", creds.Namespace).Msg("bringing overlay up")

	virtualIP, err := m.tunnel.Start(ctx, creds.Namespace, creds.Secret, p.ServerNode)
	if err != nil {
		// The supervisor tears itself down on a failed start; nothing
		// half-started is left behind.
		return nil, fmt.Errorf("overlay bring-up failed: %w", err)
	}

	player := domain.NewPlayer(p.PlayerName)

	if withDiscovery {
		if err := m.discovery.Start(ctx, string(player.ID), player.Name, virtualIP); err != nil {
			log.Error().Err(err).Str("module", "app.session").Msg("discovery start failed, rolling tunnel back")
			m.tunnel.Stop()
			return nil, fmt.Errorf("discovery start failed: %w", err)
		}
	}

	lobby := domain.NewLobby(p.LobbyName, virtualIP, m.hostVirtualIP)
	m.lobby = lobby
	m.localPlayer = player.ID
	m.roster.Add(player)

	m.bus.Publish(EventNetworkStatus, m.tunnel.Status())
	m.bus.Publish(EventLobbyUpdate, lobby)
	log.Info().Str("module", "app.session").Str("lobby", lobby.Name).Str("virtual_ip", virtualIP).Msg("session established")

	return lobby, nil
}

// Leave tears the session down. Sub-step failures are logged and
// swallowed: shutdown always runs to completion, and a second Leave
// reports ErrNotInLobby.
func (m *SessionManager) Leave() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lobby == nil {
		return core.ErrNotInLobby
	}

	log.Info().Str("module", "app.session").Str("lobby", m.lobby.Name).Msg("leaving lobby")

	m.discovery.Stop()
	m.tunnel.Stop()

	m.lobby = nil
	m.localPlayer = ""
	m.roster.Clear()

	m.bus.Publish(EventNetworkStatus, m.tunnel.Status())
	return nil
}

// Lobby returns a copy of the current session, if any.
func (m *SessionManager) Lobby() (*domain.Lobby, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lobby == nil {
		return nil, false
	}
	cp := *m.lobby
	return &cp, true
}

func (m *SessionManager) LocalPlayerID() domain.PlayerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localPlayer
}

func (m *SessionManager) Roster() *Roster { return m.roster }

// AddMember records a remote player announced over discovery or the
// relay and notifies the UI layer.
func (m *SessionManager) AddMember(p *domain.Player) {
	m.roster.Add(p)
	m.bus.Publish(EventPlayerJoined, PlayerEventPayload{PlayerID: string(p.ID), PlayerName: p.Name})
}

func (m *SessionManager) RemoveMember(id domain.PlayerID) error {
	p, ok := m.roster.Remove(id)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrPlayerNotFound, id)
	}
	m.bus.Publish(EventPlayerLeft, PlayerEventPayload{PlayerID: string(id), PlayerName: p.Name})
	return nil
}

func (m *SessionManager) UpdateMic(id domain.PlayerID, enabled bool) error {
	if err := m.roster.UpdateMic(id, enabled); err != nil {
		return err
	}
	m.bus.Publish(EventPlayerStatusUpdate, StatusUpdatePayload{PlayerID: string(id), MicEnabled: enabled})
	return nil
}

func (m *SessionManager) UpdateMuted(id domain.PlayerID, muted bool) error {
	return m.roster.UpdateMuted(id, muted)
}
