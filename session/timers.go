package session

import (
	"time"

	"github.com/cameroncuttingedge/battleship/events"
	"github.com/cameroncuttingedge/battleship/models"
	"github.com/cameroncuttingedge/battleship/timer"
	"github.com/rs/zerolog/log"
)

// timerSlot tracks the one outstanding timer for a purpose. seq identifies
// the scheduling so a firing that raced with a cancel can be recognised and
// dropped.
type timerSlot struct {
	handle timer.Handle
	seq    uint64
}

func (t *timerSlot) cancel() {
	if t.handle != nil {
		t.handle.Cancel()
	}
	*t = timerSlot{}
}

func (s *Session) scheduleTurnTimer(d time.Duration) {
	s.turnTimer.cancel()
	s.timerSeq++
	seq := s.timerSeq
	s.turnTimer = timerSlot{
		seq: seq,
		handle: s.deps.Scheduler.After(d, func() {
			s.post(func() { s.onTurnTimeout(seq) })
		}),
	}
}

func (s *Session) scheduleMatchTimer(d time.Duration) {
	s.matchTimer.cancel()
	s.timerSeq++
	seq := s.timerSeq
	s.matchTimer = timerSlot{
		seq: seq,
		handle: s.deps.Scheduler.After(d, func() {
			s.post(func() { s.onMatchTimeout(seq) })
		}),
	}
}

func (s *Session) cancelTimers() {
	s.turnTimer.cancel()
	s.matchTimer.cancel()
}

// onTurnTimeout passes the turn to the other player. It never ends the match.
func (s *Session) onTurnTimeout(seq uint64) {
	if s.turnTimer.seq != seq {
		return
	}
	s.turnTimer.cancel()
	m := s.match
	if m == nil || m.Status != models.StatusActive {
		return
	}

	timedOut := m.CurrentTurn
	s.switchTurn()
	s.scheduleTurnTimer(s.cfg.TurnTimeout)
	s.persist()

	log.Info().Str("matchID", s.id).Str("timedOut", timedOut).Str("currentTurn", m.CurrentTurn).Msg("Turn timed out")
	s.broadcast(events.TurnTimeout, events.TurnTimeoutData{TimedOut: timedOut, CurrentTurn: m.CurrentTurn})
}

func (s *Session) onMatchTimeout(seq uint64) {
	if s.matchTimer.seq != seq {
		return
	}
	s.matchTimer.cancel()
	m := s.match
	if m == nil || m.Status != models.StatusActive {
		return
	}

	winner := determineWinnerByShipCount(m)
	log.Info().Str("matchID", s.id).Str("winner", winner).Msg("Match time limit reached")
	s.endMatch(winner, models.ReasonTimeLimit)
}

func (s *Session) switchTurn() {
	m := s.match
	m.CurrentTurn = m.Opponent(m.CurrentTurn)
	m.TurnStartedAt = timePtr(s.now())
	m.LastActivityAt = s.now()
}

// resume rebuilds timers after the actor is recreated from storage. Elapsed
// time comes from the persisted timestamps only.
func (s *Session) resume() {
	m := s.match
	if m == nil || m.Status != models.StatusActive {
		return
	}
	now := s.now()
	if m.MatchStartedAt == nil {
		m.MatchStartedAt = timePtr(now)
	}
	if m.TurnStartedAt == nil {
		m.TurnStartedAt = timePtr(now)
	}

	matchElapsed := now.Sub(*m.MatchStartedAt)
	if matchElapsed >= s.cfg.MatchTimeout {
		log.Info().Str("matchID", s.id).Str("code", string(CodeTimeoutExceeded)).Dur("elapsed", matchElapsed).Msg("Match time limit passed while offline")
		s.endMatch(determineWinnerByShipCount(m), models.ReasonTimeLimit)
		return
	}

	turnElapsed := now.Sub(*m.TurnStartedAt)
	if turnElapsed >= s.cfg.TurnTimeout {
		log.Info().Str("matchID", s.id).Str("code", string(CodeTimeoutExceeded)).Dur("elapsed", turnElapsed).Msg("Turn timed out while offline")
		timedOut := m.CurrentTurn
		s.switchTurn()
		s.scheduleTurnTimer(s.cfg.TurnTimeout)
		s.persist()
		s.broadcast(events.TurnTimeout, events.TurnTimeoutData{TimedOut: timedOut, CurrentTurn: m.CurrentTurn})
	} else {
		s.scheduleTurnTimer(s.cfg.TurnTimeout - turnElapsed)
	}
	s.scheduleMatchTimer(s.cfg.MatchTimeout - matchElapsed)
	log.Info().Str("matchID", s.id).Str("currentTurn", m.CurrentTurn).Msg("Match timers resumed")
}
