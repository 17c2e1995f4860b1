package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mctier/lanlobby/internal/adapters/discovery"
	"github.com/mctier/lanlobby/internal/adapters/relay"
	"github.com/mctier/lanlobby/internal/app"
	"github.com/mctier/lanlobby/internal/config"
	"github.com/mctier/lanlobby/internal/domain"
	"github.com/mctier/lanlobby/internal/hosts"
)

// eventTap applies bus events to local state. Discovery and the relay
// only publish; roster upkeep, hosts syncing and the member-side relay
// connection all happen here, without re-publishing, to avoid an event
// loop.
type eventTap struct {
	cfg         *config.Config
	session     *app.SessionManager
	disco       *discovery.Service
	patcher     *hosts.Patcher
	relayClient *relay.Client
}

func (t *eventTap) run(ctx context.Context, events <-chan app.Event) {
	for ev := range events {
		log.Debug().Str("module", "main").Str("event", string(ev.Name)).Interface("payload", ev.Payload).Msg("event")
		t.handle(ctx, ev)
	}
}

func (t *eventTap) handle(ctx context.Context, ev app.Event) {
	switch ev.Name {
	case app.EventPlayerJoined:
		if p, ok := ev.Payload.(app.PlayerEventPayload); ok {
			t.session.Roster().Add(&domain.Player{
				ID:         domain.PlayerID(p.PlayerID),
				Name:       p.PlayerName,
				MicEnabled: true,
				JoinedAt:   time.Now().UTC(),
			})
		}
		t.syncHosts()

	case app.EventPlayerLeft:
		if p, ok := ev.Payload.(app.PlayerEventPayload); ok {
			t.session.Roster().Remove(domain.PlayerID(p.PlayerID))
		}
		t.syncHosts()

	case app.EventLobbyUpdate:
		if lobby, ok := ev.Payload.(*domain.Lobby); ok {
			t.connectRelay(ctx, lobby)
		}

	case app.EventNetworkStatus:
		if _, ok := t.session.Lobby(); !ok {
			t.relayClient.Close()
			if err := t.patcher.CleanupAll(); err != nil {
				log.Warn().Err(err).Msg("hosts cleanup failed")
			}
		}

	case app.EventPlayerStatusUpdate:
		if p, ok := ev.Payload.(app.StatusUpdatePayload); ok {
			if err := t.session.Roster().UpdateMic(domain.PlayerID(p.PlayerID), p.MicEnabled); err != nil {
				log.Debug().Err(err).Msg("status update for unknown player")
			}
		}
	}
}

// connectRelay dials the lobby host's signaling relay and registers the
// local player. The host serves the relay itself and does not dial.
func (t *eventTap) connectRelay(ctx context.Context, lobby *domain.Lobby) {
	if lobby.VirtualIP == lobby.HostVirtualIP {
		return
	}
	id := t.session.LocalPlayerID()
	name := ""
	if p, ok := t.session.Roster().Get(id); ok {
		name = p.Name
	}
	if err := t.relayClient.Connect(ctx, lobby.HostVirtualIP, t.cfg.RelayPort, string(id), name); err != nil {
		log.Warn().Err(err).Str("module", "main").Msg("relay connect failed")
	}
}

// syncHosts rebuilds the lobby's hosts-file block from the current peer
// set so members resolve each other by player name.
func (t *eventTap) syncHosts() {
	lobby, ok := t.session.Lobby()
	if !ok {
		return
	}
	var entries []hosts.Entry
	if player, found := t.session.Roster().Get(t.session.LocalPlayerID()); found {
		entries = append(entries, hosts.Entry{Name: player.Name, IP: lobby.VirtualIP})
	}
	for _, rec := range t.disco.Peers() {
		entries = append(entries, hosts.Entry{Name: rec.Name, IP: rec.Addr.IP.String()})
	}
	if err := t.patcher.Apply(lobby.Name, entries); err != nil {
		log.Warn().Err(err).Msg("hosts sync failed")
	}
}
