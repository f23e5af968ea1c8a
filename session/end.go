package session

import (
	"context"
	"math"
	"time"

	"github.com/cameroncuttingedge/battleship/events"
	"github.com/cameroncuttingedge/battleship/models"
	"github.com/cameroncuttingedge/battleship/settlement"
	"github.com/rs/zerolog/log"
)

type PlayerStats struct {
	Shots             int   `json:"shots"`
	Hits              int   `json:"hits"`
	Accuracy          int   `json:"accuracy"`
	ShipsSunk         int   `json:"shipsSunk"`
	AvgTurnDurationMs int64 `json:"avgTurnDurationMs"`
}

// GameOver is the payload of the game_over message and of the archived summary.
type GameOver struct {
	MatchID      string                 `json:"matchId"`
	Status       models.Status          `json:"status"`
	Winner       string                 `json:"winner,omitempty"`
	Reason       models.EndReason       `json:"reason"`
	Players      []string               `json:"players"`
	Shots        []models.Shot          `json:"shots"`
	ShipsSunk    map[string]int         `json:"shipsSunk"`
	Stats        map[string]PlayerStats `json:"stats"`
	MatchAddress string                 `json:"matchAddress,omitempty"`
	EndedAt      time.Time              `json:"endedAt"`
}

func (s *Session) endMatch(winner string, reason models.EndReason) bool {
	return s.finish(models.StatusCompleted, winner, reason)
}

// finish moves the match to a terminal status exactly once. Later calls are
// no-ops, so shots, forfeits and both timers may all race to end a match.
func (s *Session) finish(status models.Status, winner string, reason models.EndReason) bool {
	m := s.match
	if m == nil || m.Status.Terminal() {
		log.Debug().Str("matchID", s.id).Str("reason", string(reason)).Msg("Match already over, ignoring end")
		return false
	}

	s.cancelTimers()
	now := s.now()
	m.Status = status
	m.Winner = winner
	m.EndReason = reason
	m.EndedAt = timePtr(now)
	m.CurrentTurn = ""
	m.LastActivityAt = now
	s.persist()

	summary := s.gameOver()
	s.broadcast(events.GameOver, summary)
	log.Info().
		Str("matchID", s.id).
		Str("status", string(status)).
		Str("winner", winner).
		Str("reason", string(reason)).
		Int("totalShots", len(m.Shots)).
		Msg("Match ended")

	s.archiveAsync(summary)
	s.scheduleRetire()

	if m.ContractMatchID != "" {
		req := settlement.FinalizeRequest{
			MatchID:    m.ContractMatchID,
			Winner:     winner,
			TotalShots: len(m.Shots),
			Reason:     string(reason),
		}
		s.deps.Settler.FinalizeAsync(req, func(err error) {
			s.post(func() {
				s.broadcast(events.ContractError, events.ContractErrorData{
					Message: "failed to record the match result on chain",
					Fatal:   false,
				})
			})
		})
	}
	return true
}

// scheduleRetire asks the owning Manager to drop this actor once the match
// has been over for RetainAfterEnd. Connections keep receiving late notices
// such as contract_error until then.
func (s *Session) scheduleRetire() {
	if s.onRetire == nil || s.retiring {
		return
	}
	s.retiring = true
	s.deps.Scheduler.After(s.cfg.RetainAfterEnd, func() {
		s.onRetire(s)
	})
}

// determineWinnerByShipCount picks the winner when the match clock runs out.
// More ships sunk wins and an equal non-zero count is a tie. When nobody has
// sunk anything the second player to join wins: the first player moves first
// and must not profit from stalling.
func determineWinnerByShipCount(m *models.Match) string {
	if len(m.Players) != 2 {
		return ""
	}
	first, second := m.Players[0], m.Players[1]
	a, b := m.ShipsSunkBy(first), m.ShipsSunkBy(second)
	switch {
	case a > b:
		return first
	case b > a:
		return second
	case a == 0:
		return second
	default:
		return ""
	}
}

func (s *Session) gameOver() GameOver {
	m := s.match
	sunk := make(map[string]int, len(m.Players))
	for _, p := range m.Players {
		sunk[p] = m.ShipsSunkBy(p)
	}
	ended := s.now()
	if m.EndedAt != nil {
		ended = *m.EndedAt
	}
	return GameOver{
		MatchID:      m.ID,
		Status:       m.Status,
		Winner:       m.Winner,
		Reason:       m.EndReason,
		Players:      append([]string(nil), m.Players...),
		Shots:        append([]models.Shot{}, m.Shots...),
		ShipsSunk:    sunk,
		Stats:        computeStats(m),
		MatchAddress: m.MatchAddress,
		EndedAt:      ended,
	}
}

// computeStats derives per-player figures from the shot log. A shot's turn
// duration is the gap since the previous shot, or since the match started
// for the first one.
func computeStats(m *models.Match) map[string]PlayerStats {
	stats := make(map[string]PlayerStats, len(m.Players))
	elapsed := make(map[string]time.Duration, len(m.Players))

	var prev time.Time
	if m.MatchStartedAt != nil {
		prev = *m.MatchStartedAt
	}
	for _, shot := range m.Shots {
		ps := stats[shot.Player]
		ps.Shots++
		if shot.Hit {
			ps.Hits++
		}
		if !prev.IsZero() {
			elapsed[shot.Player] += shot.Timestamp.Sub(prev)
		}
		prev = shot.Timestamp
		stats[shot.Player] = ps
	}

	for _, p := range m.Players {
		ps := stats[p]
		if ps.Shots > 0 {
			ps.Accuracy = int(math.Round(float64(ps.Hits) * 100 / float64(ps.Shots)))
			ps.AvgTurnDurationMs = elapsed[p].Milliseconds() / int64(ps.Shots)
		}
		ps.ShipsSunk = m.ShipsSunkBy(p)
		stats[p] = ps
	}
	return stats
}

func (s *Session) archiveAsync(summary GameOver) {
	if s.deps.Archiver == nil {
		return
	}
	archiver := s.deps.Archiver
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := archiver.Archive(ctx, summary.MatchID, summary); err != nil {
			log.Warn().Err(err).Str("matchID", summary.MatchID).Msg("Failed to archive match summary")
			return
		}
		log.Info().Str("matchID", summary.MatchID).Msg("Archived match summary")
	}()
}
