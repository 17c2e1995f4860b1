package app

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mctier/lanlobby/internal/core"
	"github.com/mctier/lanlobby/internal/domain"
)

// Roster is the threadsafe membership set of the current lobby.
// It holds session-level members only; transport reachability lives in
// the discovery directory and the two are correlated by player id.
type Roster struct {
	mu      sync.RWMutex
	players map[domain.PlayerID]*domain.Player
}

func NewRoster() *Roster {
	return &Roster{players: make(map[domain.PlayerID]*domain.Player)}
}

func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Add inserts or replaces a member. Replacing is deliberate: a rejoining
// player announces with the same id and the fresh record wins.
func (r *Roster) Add(p *domain.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.ID] = p
	log.Info().Str("module", "app.roster").Str("player", string(p.ID)).Str("name", p.Name).Msg("member added")
}

func (r *Roster) Remove(id domain.PlayerID) (*domain.Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if ok {
		delete(r.players, id)
		log.Info().Str("module", "app.roster").Str("player", string(id)).Msg("member removed")
	}
	return p, ok
}

func (r *Roster) Get(id domain.PlayerID) (*domain.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Players returns a snapshot ordered by join time.
func (r *Roster) Players() []domain.Player {
	r.mu.RLock()
	out := make([]domain.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, *p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

func (r *Roster) UpdateMic(id domain.PlayerID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrPlayerNotFound, id)
	}
	p.MicEnabled = enabled
	log.Debug().Str("module", "app.roster").Str("player", string(id)).Bool("mic", enabled).Msg("mic updated")
	return nil
}

func (r *Roster) UpdateMuted(id domain.PlayerID, muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrPlayerNotFound, id)
	}
	p.IsMuted = muted
	log.Debug().Str("module", "app.roster").Str("player", string(id)).Bool("muted", muted).Msg("mute updated")
	return nil
}

func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players = make(map[domain.PlayerID]*domain.Player)
}
