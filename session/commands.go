package session

import (
	"context"
	"strings"

	"github.com/cameroncuttingedge/battleship/events"
	"github.com/cameroncuttingedge/battleship/game"
	"github.com/cameroncuttingedge/battleship/models"
	"github.com/rs/zerolog/log"
)

type JoinResult struct {
	Success      bool          `json:"success"`
	PlayerID     string        `json:"playerId"`
	Players      []string      `json:"players"`
	Status       models.Status `json:"status"`
	MatchAddress string        `json:"matchAddress,omitempty"`
}

type SubmitBoardResult struct {
	Success     bool          `json:"success"`
	PlayerID    string        `json:"playerId"`
	Status      models.Status `json:"status"`
	GameStarted bool          `json:"gameStarted"`
	CurrentTurn string        `json:"currentTurn,omitempty"`
}

type ShotResult struct {
	Success     bool           `json:"success"`
	X           int            `json:"x"`
	Y           int            `json:"y"`
	Hit         bool           `json:"hit"`
	Sunk        *game.SunkShip `json:"sunk,omitempty"`
	GameOver    bool           `json:"gameOver"`
	Winner      string         `json:"winner,omitempty"`
	CurrentTurn string         `json:"currentTurn,omitempty"`
}

type EndResult struct {
	Success bool             `json:"success"`
	Status  models.Status    `json:"status"`
	Winner  string           `json:"winner,omitempty"`
	Reason  models.EndReason `json:"reason"`
}

// Initialize creates the match with creator as the first player.
func (s *Session) Initialize(ctx context.Context, creator string) (*Snapshot, error) {
	return call(ctx, s, func() (*Snapshot, error) {
		if s.match != nil {
			return nil, newError(CodeInvalidState, "match %s already initialized", s.id)
		}
		creator = strings.TrimSpace(creator)
		if creator == "" {
			return nil, newError(CodeValidation, "creator is required")
		}

		s.match = models.NewMatch(s.id, creator, s.now())
		s.persist()
		log.Info().Str("matchID", s.id).Str("creator", creator).Msg("Match initialized")

		snap := s.snapshot()
		return &snap, nil
	})
}

// Join adds the second player. Joining again as a present player returns the
// current state without error. The on-chain match is created before the join
// takes effect and its failure fails the join.
func (s *Session) Join(ctx context.Context, playerID string) (*JoinResult, error) {
	return call(ctx, s, func() (*JoinResult, error) {
		m, err := s.current()
		if err != nil {
			return nil, err
		}
		playerID = strings.TrimSpace(playerID)
		if playerID == "" {
			return nil, newError(CodeValidation, "playerId is required")
		}
		if m.Status != models.StatusCreated && m.Status != models.StatusWaiting {
			return nil, newError(CodeInvalidState, "cannot join a match in status %s", m.Status)
		}
		if m.HasPlayer(playerID) {
			return s.joinResult(playerID), nil
		}
		if len(m.Players) >= 2 {
			return nil, newError(CodeInvalidState, "match is full")
		}

		onChain, err := s.deps.Settler.Create(ctx, m.Players[0], playerID)
		if err != nil {
			log.Error().Err(err).Str("matchID", s.id).Str("playerID", playerID).Msg("Join failed: settlement create")
			return nil, newError(CodeSettlement, "failed to create match on chain: %v", err)
		}

		m.Players = append(m.Players, playerID)
		m.Status = models.StatusWaiting
		m.ContractMatchID = onChain.MatchID
		m.MatchAddress = onChain.MatchAddress
		m.LastActivityAt = s.now()
		s.persist()

		log.Info().Str("matchID", s.id).Str("playerID", playerID).Str("contractMatchID", onChain.MatchID).Msg("Player joined")
		s.broadcast(events.PlayerJoined, events.PlayerJoinedData{
			PlayerID: playerID,
			Players:  append([]string(nil), m.Players...),
			Status:   string(m.Status),
		})
		return s.joinResult(playerID), nil
	})
}

func (s *Session) joinResult(playerID string) *JoinResult {
	return &JoinResult{
		Success:      true,
		PlayerID:     playerID,
		Players:      append([]string(nil), s.match.Players...),
		Status:       s.match.Status,
		MatchAddress: s.match.MatchAddress,
	}
}

// SubmitBoard places a player's fleet. The second board starts the game.
func (s *Session) SubmitBoard(ctx context.Context, playerID string, ships []game.Ship) (*SubmitBoardResult, error) {
	return call(ctx, s, func() (*SubmitBoardResult, error) {
		m, err := s.current()
		if err != nil {
			return nil, err
		}
		switch m.Status {
		case models.StatusWaiting, models.StatusSetup, models.StatusActive:
		default:
			return nil, newError(CodeInvalidState, "cannot submit a board in status %s", m.Status)
		}
		if !m.HasPlayer(playerID) {
			return nil, newError(CodeUnauthorized, "%s is not a participant", playerID)
		}
		if _, submitted := m.Boards[playerID]; submitted {
			return nil, newError(CodeInvalidState, "board already submitted")
		}
		if err := game.CheckPlacement(ships); err != nil {
			return nil, newError(CodeValidation, "invalid placement: %v", err)
		}

		now := s.now()
		m.Boards[playerID] = game.BuildBoard(ships)
		m.LastActivityAt = now

		started := len(m.Boards) == len(m.Players) && len(m.Players) == 2
		if started {
			s.startGame()
		} else {
			m.Status = models.StatusSetup
		}
		s.persist()

		log.Info().Str("matchID", s.id).Str("playerID", playerID).Int("boardsReady", len(m.Boards)).Msg("Board submitted")
		s.broadcast(events.BoardSubmitted, events.BoardSubmittedData{
			PlayerID:    playerID,
			BoardsReady: len(m.Boards),
			Status:      string(m.Status),
		})
		if started {
			s.broadcast(events.GameStarted, events.GameStartedData{
				Players:        append([]string(nil), m.Players...),
				CurrentTurn:    m.CurrentTurn,
				MatchStartedAt: *m.MatchStartedAt,
				TurnTimeoutMs:  s.cfg.TurnTimeout.Milliseconds(),
				MatchTimeoutMs: s.cfg.MatchTimeout.Milliseconds(),
			})
			if m.ContractMatchID != "" {
				s.deps.Settler.StartAsync(m.ContractMatchID)
			}
		}

		return &SubmitBoardResult{
			Success:     true,
			PlayerID:    playerID,
			Status:      m.Status,
			GameStarted: started,
			CurrentTurn: m.CurrentTurn,
		}, nil
	})
}

func (s *Session) startGame() {
	m := s.match
	now := s.now()
	m.Status = models.StatusActive
	m.MatchStartedAt = timePtr(now)
	m.TurnStartedAt = timePtr(now)
	m.CurrentTurn = m.Players[0]
	s.scheduleTurnTimer(s.cfg.TurnTimeout)
	s.scheduleMatchTimer(s.cfg.MatchTimeout)
	log.Info().Str("matchID", s.id).Str("currentTurn", m.CurrentTurn).Msg("Game started")
}

// MakeShot fires at the opponent's board. A hit keeps the turn, a miss
// passes it, and sinking the last ship ends the match.
func (s *Session) MakeShot(ctx context.Context, playerID string, x, y int) (*ShotResult, error) {
	return call(ctx, s, func() (*ShotResult, error) {
		m, err := s.current()
		if err != nil {
			return nil, err
		}
		if m.Status != models.StatusActive {
			return nil, newError(CodeInvalidState, "cannot shoot in status %s", m.Status)
		}
		if !m.HasPlayer(playerID) {
			return nil, newError(CodeUnauthorized, "%s is not a participant", playerID)
		}
		if m.CurrentTurn != playerID {
			return nil, newError(CodeInvalidTurn, "it is not your turn")
		}
		if !(game.Coord{X: x, Y: y}).InBounds() {
			return nil, newError(CodeValidation, "coordinates (%d,%d) are out of bounds", x, y)
		}
		if m.HasShot(playerID, x, y) {
			return nil, newError(CodeDuplicateShot, "already fired at (%d,%d)", x, y)
		}
		opponent := m.Opponent(playerID)
		board := m.Boards[opponent]
		if board == nil {
			return nil, newError(CodeInternal, "opponent board missing")
		}

		res := game.ResolveShot(board, x, y)
		now := s.now()
		m.Shots = append(m.Shots, models.Shot{Player: playerID, X: x, Y: y, Hit: res.Hit, Timestamp: now})
		m.LastActivityAt = now

		won := res.Hit && game.AllSunk(board)
		if !won {
			if !res.Hit {
				m.CurrentTurn = opponent
			}
			m.TurnStartedAt = timePtr(now)
			s.scheduleTurnTimer(s.cfg.TurnTimeout)
		}
		s.persist()

		log.Info().Str("matchID", s.id).Str("playerID", playerID).Int("x", x).Int("y", y).Bool("hit", res.Hit).Msg("Shot fired")
		s.broadcast(events.ShotFired, events.ShotFiredData{
			PlayerID:    playerID,
			X:           x,
			Y:           y,
			Hit:         res.Hit,
			CurrentTurn: m.CurrentTurn,
			Timestamp:   now,
		})
		if res.Sunk != nil {
			s.broadcast(events.ShipSunk, events.ShipSunkData{
				PlayerID: playerID,
				Owner:    opponent,
				Ship:     *res.Sunk,
				Sunk:     board.SunkCount(),
			})
		}
		if won {
			s.endMatch(playerID, models.ReasonCompleted)
		}

		return &ShotResult{
			Success:     true,
			X:           x,
			Y:           y,
			Hit:         res.Hit,
			Sunk:        res.Sunk,
			GameOver:    m.Status.Terminal(),
			Winner:      m.Winner,
			CurrentTurn: m.CurrentTurn,
		}, nil
	})
}

// Forfeit ends an active match in the opponent's favour.
func (s *Session) Forfeit(ctx context.Context, playerID string) (*EndResult, error) {
	return call(ctx, s, func() (*EndResult, error) {
		m, err := s.current()
		if err != nil {
			return nil, err
		}
		if m.Status != models.StatusActive {
			return nil, newError(CodeInvalidState, "cannot forfeit in status %s", m.Status)
		}
		if !m.HasPlayer(playerID) {
			return nil, newError(CodeUnauthorized, "%s is not a participant", playerID)
		}
		log.Info().Str("matchID", s.id).Str("playerID", playerID).Msg("Player forfeited")
		s.endMatch(m.Opponent(playerID), models.ReasonForfeit)
		return s.endResult(), nil
	})
}

// Cancel abandons a match that has not started.
func (s *Session) Cancel(ctx context.Context, playerID string) (*EndResult, error) {
	return call(ctx, s, func() (*EndResult, error) {
		m, err := s.current()
		if err != nil {
			return nil, err
		}
		switch m.Status {
		case models.StatusCreated, models.StatusWaiting, models.StatusSetup:
		default:
			return nil, newError(CodeInvalidState, "cannot cancel in status %s", m.Status)
		}
		if !m.HasPlayer(playerID) {
			return nil, newError(CodeUnauthorized, "%s is not a participant", playerID)
		}
		log.Info().Str("matchID", s.id).Str("playerID", playerID).Msg("Match cancelled")
		s.finish(models.StatusCancelled, "", models.ReasonCancelled)
		return s.endResult(), nil
	})
}

func (s *Session) endResult() *EndResult {
	return &EndResult{
		Success: true,
		Status:  s.match.Status,
		Winner:  s.match.Winner,
		Reason:  s.match.EndReason,
	}
}

// Status returns a read-only snapshot of the match.
func (s *Session) Status(ctx context.Context) (*Snapshot, error) {
	return call(ctx, s, func() (*Snapshot, error) {
		if _, err := s.current(); err != nil {
			return nil, err
		}
		snap := s.snapshot()
		return &snap, nil
	})
}
