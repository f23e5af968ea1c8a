package session

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cameroncuttingedge/battleship/events"
	"github.com/cameroncuttingedge/battleship/models"
	"github.com/rs/zerolog/log"
)

const maxChatLength = 500

// Snapshot is the full public view of a match. Board contents never appear
// in it, only per-player sunk counts.
type Snapshot struct {
	Success          bool             `json:"success"`
	MatchID          string           `json:"matchId"`
	Status           models.Status    `json:"status"`
	Players          []string         `json:"players"`
	CurrentTurn      string           `json:"currentTurn,omitempty"`
	TurnStartedAt    *time.Time       `json:"turnStartedAt,omitempty"`
	MatchStartedAt   *time.Time       `json:"matchStartedAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	LastActivityAt   time.Time        `json:"lastActivityAt"`
	Shots            []models.Shot    `json:"shots"`
	BoardsSubmitted  map[string]bool  `json:"boardsSubmitted"`
	ShipsSunk        map[string]int   `json:"shipsSunk"`
	ShipsLost        map[string]int   `json:"shipsLost"`
	Winner           string           `json:"winner,omitempty"`
	EndReason        models.EndReason `json:"endReason,omitempty"`
	MatchAddress     string           `json:"matchAddress,omitempty"`
	ConnectedPlayers []string         `json:"connectedPlayers"`
}

func (s *Session) snapshot() Snapshot {
	m := s.match
	snap := Snapshot{
		Success:          true,
		MatchID:          m.ID,
		Status:           m.Status,
		Players:          append([]string{}, m.Players...),
		CurrentTurn:      m.CurrentTurn,
		CreatedAt:        m.CreatedAt,
		LastActivityAt:   m.LastActivityAt,
		Shots:            append([]models.Shot{}, m.Shots...),
		BoardsSubmitted:  make(map[string]bool, len(m.Players)),
		ShipsSunk:        make(map[string]int, len(m.Players)),
		ShipsLost:        make(map[string]int, len(m.Players)),
		Winner:           m.Winner,
		EndReason:        m.EndReason,
		MatchAddress:     m.MatchAddress,
		ConnectedPlayers: []string{},
	}
	if m.TurnStartedAt != nil {
		snap.TurnStartedAt = timePtr(*m.TurnStartedAt)
	}
	if m.MatchStartedAt != nil {
		snap.MatchStartedAt = timePtr(*m.MatchStartedAt)
	}
	for _, p := range m.Players {
		_, submitted := m.Boards[p]
		snap.BoardsSubmitted[p] = submitted
		snap.ShipsSunk[p] = m.ShipsSunkBy(p)
		snap.ShipsLost[p] = m.Boards[p].SunkCount()
	}
	for p := range s.conns {
		snap.ConnectedPlayers = append(snap.ConnectedPlayers, p)
	}
	sort.Strings(snap.ConnectedPlayers)
	return snap
}

// Connect registers a participant's live channel, replacing any previous one,
// and sends the current state. Timers are left alone.
func (s *Session) Connect(ctx context.Context, playerID string, c Conn) error {
	_, err := call(ctx, s, func() (struct{}, error) {
		m, err := s.current()
		if err != nil {
			return struct{}{}, err
		}
		if !m.HasPlayer(playerID) {
			return struct{}{}, newError(CodeUnauthorized, "%s is not a participant", playerID)
		}
		if old, ok := s.conns[playerID]; ok && old.ID() != c.ID() {
			log.Info().Str("matchID", s.id).Str("playerID", playerID).Str("connID", old.ID()).Msg("Replacing live connection")
			old.Close()
		}
		s.conns[playerID] = c
		log.Info().Str("matchID", s.id).Str("playerID", playerID).Str("connID", c.ID()).Int("connectionsCount", len(s.conns)).Msg("Live connection registered")

		c.Send(events.New(events.SessionState, s.snapshot(), s.now()))
		if m.Status == models.StatusActive && len(m.Shots) > 0 {
			c.Send(events.New(events.GameHistory, map[string]interface{}{
				"shots": append([]models.Shot{}, m.Shots...),
			}, s.now()))
		}
		return struct{}{}, nil
	})
	return err
}

// Disconnect drops c from the registry if it is still the player's current
// connection.
func (s *Session) Disconnect(playerID string, c Conn) {
	_ = s.do(context.Background(), func() {
		if cur, ok := s.conns[playerID]; ok && cur.ID() == c.ID() {
			delete(s.conns, playerID)
			log.Info().Str("matchID", s.id).Str("playerID", playerID).Int("remainingConnections", len(s.conns)).Msg("Live connection deregistered")
		}
	})
}

// HandleMessage applies a message read from a player's socket.
func (s *Session) HandleMessage(ctx context.Context, playerID string, in events.Inbound) error {
	return s.do(ctx, func() {
		if s.match == nil || !s.match.HasPlayer(playerID) {
			return
		}
		switch in.Type {
		case events.Chat:
			text := strings.TrimSpace(in.Text)
			if text == "" || utf8.RuneCountInString(text) > maxChatLength {
				s.sendTo(playerID, events.Error, events.ErrorData{
					Message: "chat message must be 1-500 characters",
					Code:    string(CodeValidation),
				})
				return
			}
			s.broadcast(events.Chat, events.ChatData{From: playerID, Text: text})
		case events.Ping:
			s.sendTo(playerID, events.Pong, nil)
		case events.RequestGameState:
			s.sendTo(playerID, events.SessionState, s.snapshot())
		default:
			s.sendTo(playerID, events.Error, events.ErrorData{
				Message: "unknown message type " + string(in.Type),
				Code:    string(CodeValidation),
			})
		}
	})
}

func (s *Session) broadcast(t events.Type, data interface{}) {
	if len(s.conns) == 0 {
		return
	}
	msg := events.New(t, data, s.now())
	for playerID, c := range s.conns {
		if !c.Send(msg) {
			log.Warn().Str("matchID", s.id).Str("playerID", playerID).Str("type", string(t)).Msg("Dropped live message")
		}
	}
}

func (s *Session) sendTo(playerID string, t events.Type, data interface{}) {
	if c, ok := s.conns[playerID]; ok {
		c.Send(events.New(t, data, s.now()))
	}
}
