// Package chat keeps the lobby's text history: a bounded in-memory ring
// with per-player rate limiting. History lives on the host and is lost
// when the lobby closes, which is the intended lifetime.
package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mctier/lanlobby/internal/core"
	"github.com/mctier/lanlobby/internal/domain"
)

const (
	MaxMessageLen = 500
	historyCap    = 200

	rateLimit    = 10
	rateInterval = 10 * time.Second
)

type Message struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt"`
}

type Store struct {
	mu      sync.RWMutex
	history []Message
	limiter *RateLimiter
}

func NewStore() *Store {
	return &Store{
		history: make([]Message, 0, historyCap),
		limiter: NewRateLimiter(rateLimit, rateInterval),
	}
}

// Post validates, rate-limits and appends a message, returning the
// stored form.
func (s *Store) Post(playerID domain.PlayerID, playerName, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, fmt.Errorf("%w: empty message", core.ErrValidation)
	}
	if len(text) > MaxMessageLen {
		return Message{}, fmt.Errorf("%w: message exceeds %d bytes", core.ErrValidation, MaxMessageLen)
	}
	if !s.limiter.Allow(playerID) {
		return Message{}, fmt.Errorf("%w: too many messages", core.ErrValidation)
	}

	msg := Message{
		ID:         uuid.NewString(),
		PlayerID:   string(playerID),
		PlayerName: playerName,
		Text:       text,
		SentAt:     time.Now().UTC(),
	}

	s.mu.Lock()
	s.history = append(s.history, msg)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.mu.Unlock()
	return msg, nil
}

// History returns the newest messages up to limit, oldest first.
// limit <= 0 means everything retained.
func (s *Store) History(limit int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Message, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// Since returns every retained message sent strictly after the given
// time, oldest first. Clients poll with their last-seen timestamp.
func (s *Store) Since(t time.Time) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := len(s.history)
	for i, m := range s.history {
		if m.SentAt.After(t) {
			idx = i
			break
		}
	}
	out := make([]Message, len(s.history)-idx)
	copy(out, s.history[idx:])
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.history = s.history[:0]
	s.mu.Unlock()
}
