package store

import (
	"context"
	"errors"
	"time"

	"github.com/cameroncuttingedge/battleship/game"
	"github.com/cameroncuttingedge/battleship/models"
)

var ErrNotFound = errors.New("match not found")

// Store persists matches. Save writes the primary and secondary records of a
// match together so a reader never sees one updated without the other.
type Store interface {
	Load(ctx context.Context, matchID string) (*models.Match, error)
	Save(ctx context.Context, m *models.Match) error
	Close() error
}

// Primary holds the state needed to validate and route commands.
type Primary struct {
	MatchID         string                 `json:"matchId" msgpack:"matchId"`
	Creator         string                 `json:"creator" msgpack:"creator"`
	Status          models.Status          `json:"status" msgpack:"status"`
	Players         []string               `json:"players" msgpack:"players"`
	CurrentTurn     string                 `json:"currentTurn" msgpack:"currentTurn"`
	TurnStartedAt   *time.Time             `json:"turnStartedAt" msgpack:"turnStartedAt"`
	Boards          map[string]*game.Board `json:"boards" msgpack:"boards"`
	Winner          string                 `json:"winner" msgpack:"winner"`
	EndReason       models.EndReason       `json:"endReason" msgpack:"endReason"`
	EndedAt         *time.Time             `json:"endedAt" msgpack:"endedAt"`
	ContractMatchID string                 `json:"contractMatchId" msgpack:"contractMatchId"`
	MatchAddress    string                 `json:"matchAddress" msgpack:"matchAddress"`
	CreatedAt       time.Time              `json:"createdAt" msgpack:"createdAt"`
	LastActivityAt  time.Time              `json:"lastActivityAt" msgpack:"lastActivityAt"`
}

// Secondary holds the play history.
type Secondary struct {
	MatchStartedAt *time.Time    `json:"matchStartedAt" msgpack:"matchStartedAt"`
	Shots          []models.Shot `json:"shots" msgpack:"shots"`
}

// Split divides a match into its two persisted records.
func Split(m *models.Match) (Primary, Secondary) {
	p := Primary{
		MatchID:         m.ID,
		Creator:         m.Creator,
		Status:          m.Status,
		Players:         m.Players,
		CurrentTurn:     m.CurrentTurn,
		TurnStartedAt:   m.TurnStartedAt,
		Boards:          m.Boards,
		Winner:          m.Winner,
		EndReason:       m.EndReason,
		EndedAt:         m.EndedAt,
		ContractMatchID: m.ContractMatchID,
		MatchAddress:    m.MatchAddress,
		CreatedAt:       m.CreatedAt,
		LastActivityAt:  m.LastActivityAt,
	}
	s := Secondary{
		MatchStartedAt: m.MatchStartedAt,
		Shots:          m.Shots,
	}
	return p, s
}

// Join rebuilds a match from its persisted records.
func Join(p Primary, s Secondary) *models.Match {
	m := &models.Match{
		ID:              p.MatchID,
		Creator:         p.Creator,
		Status:          p.Status,
		Players:         p.Players,
		CurrentTurn:     p.CurrentTurn,
		TurnStartedAt:   p.TurnStartedAt,
		MatchStartedAt:  s.MatchStartedAt,
		Boards:          p.Boards,
		Shots:           s.Shots,
		Winner:          p.Winner,
		EndReason:       p.EndReason,
		EndedAt:         p.EndedAt,
		ContractMatchID: p.ContractMatchID,
		MatchAddress:    p.MatchAddress,
		CreatedAt:       p.CreatedAt,
		LastActivityAt:  p.LastActivityAt,
	}
	if m.Players == nil {
		m.Players = []string{}
	}
	if m.Boards == nil {
		m.Boards = make(map[string]*game.Board)
	}
	if m.Shots == nil {
		m.Shots = []models.Shot{}
	}
	return m
}
