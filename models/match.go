package models

import (
	"time"

	"github.com/cameroncuttingedge/battleship/game"
)

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusWaiting   Status = "WAITING"
	StatusSetup     Status = "SETUP"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// EndReason is why a match reached a terminal state. It is also the reason
// reported to the settlement service.
type EndReason string

const (
	ReasonCompleted EndReason = "COMPLETED"
	ReasonForfeit   EndReason = "FORFEIT"
	ReasonTimeLimit EndReason = "TIME_LIMIT"
	ReasonCancelled EndReason = "CANCELLED"
)

type Shot struct {
	Player    string    `json:"player" msgpack:"player"`
	X         int       `json:"x" msgpack:"x"`
	Y         int       `json:"y" msgpack:"y"`
	Hit       bool      `json:"hit" msgpack:"hit"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Match is the complete durable state of one game.
type Match struct {
	ID             string
	Creator        string
	Status         Status
	Players        []string
	CurrentTurn    string
	TurnStartedAt  *time.Time
	MatchStartedAt *time.Time
	Boards         map[string]*game.Board
	Shots          []Shot
	Winner         string
	EndReason      EndReason
	EndedAt        *time.Time

	// Identifiers assigned by the settlement service when the match is created on chain.
	ContractMatchID string
	MatchAddress    string

	CreatedAt      time.Time
	LastActivityAt time.Time
}

func NewMatch(id, creator string, now time.Time) *Match {
	return &Match{
		ID:             id,
		Creator:        creator,
		Status:         StatusCreated,
		Players:        []string{creator},
		Boards:         make(map[string]*game.Board),
		Shots:          []Shot{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func (m *Match) HasPlayer(playerID string) bool {
	for _, p := range m.Players {
		if p == playerID {
			return true
		}
	}
	return false
}

// Opponent returns the other participant, or "" when there is none.
func (m *Match) Opponent(playerID string) string {
	if len(m.Players) != 2 {
		return ""
	}
	if m.Players[0] == playerID {
		return m.Players[1]
	}
	if m.Players[1] == playerID {
		return m.Players[0]
	}
	return ""
}

// HasShot reports whether playerID already fired at (x, y).
func (m *Match) HasShot(playerID string, x, y int) bool {
	for _, s := range m.Shots {
		if s.Player == playerID && s.X == x && s.Y == y {
			return true
		}
	}
	return false
}

// ShipsSunkBy returns how many of the opponent's ships playerID has sunk.
func (m *Match) ShipsSunkBy(playerID string) int {
	return m.Boards[m.Opponent(playerID)].SunkCount()
}
