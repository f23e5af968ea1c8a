package session

import (
	"context"
	"errors"
	"sync"

	"github.com/cameroncuttingedge/battleship/models"
	"github.com/cameroncuttingedge/battleship/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Manager owns one Session per match id. A session not in memory is loaded
// from the store and its timers resumed. Finished matches are retired after
// Config.RetainAfterEnd and reloaded on demand.
type Manager struct {
	cfg  Config
	deps Deps

	// mu guards the maps only. Store access and actor calls happen outside it.
	mu       sync.Mutex
	sessions map[string]*Session
	creating map[string]struct{}
	loads    singleflight.Group
}

func NewManager(cfg Config, deps Deps) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		deps:     deps.withDefaults(),
		sessions: make(map[string]*Session),
		creating: make(map[string]struct{}),
	}
}

func (mgr *Manager) spawn(matchID string) *Session {
	return newSession(matchID, mgr.cfg, mgr.deps, mgr.retire)
}

// Initialize creates a new match. An id that already exists, live or
// stored, is rejected.
func (mgr *Manager) Initialize(ctx context.Context, matchID, creator string) (*Session, *Snapshot, error) {
	if matchID == "" {
		return nil, nil, newError(CodeValidation, "matchId is required")
	}

	mgr.mu.Lock()
	_, live := mgr.sessions[matchID]
	_, pending := mgr.creating[matchID]
	if live || pending {
		mgr.mu.Unlock()
		return nil, nil, newError(CodeInvalidState, "match %s already exists", matchID)
	}
	mgr.creating[matchID] = struct{}{}
	mgr.mu.Unlock()

	s, snap, err := mgr.create(ctx, matchID, creator)

	mgr.mu.Lock()
	delete(mgr.creating, matchID)
	if err == nil {
		mgr.sessions[matchID] = s
	}
	mgr.mu.Unlock()
	return s, snap, err
}

func (mgr *Manager) create(ctx context.Context, matchID, creator string) (*Session, *Snapshot, error) {
	_, err := mgr.deps.Store.Load(ctx, matchID)
	switch {
	case err == nil:
		return nil, nil, newError(CodeInvalidState, "match %s already exists", matchID)
	case !errors.Is(err, store.ErrNotFound):
		log.Error().Err(err).Str("matchID", matchID).Msg("Failed to check for existing match")
		return nil, nil, newError(CodeInternal, "failed to load match")
	}

	s := mgr.spawn(matchID)
	snap, err := s.Initialize(ctx, creator)
	if err != nil {
		s.Stop()
		return nil, nil, err
	}
	return s, snap, nil
}

// Get returns the live session for matchID, restoring it from the store if
// needed. Concurrent restores of one id share a single load.
func (mgr *Manager) Get(ctx context.Context, matchID string) (*Session, error) {
	if s := mgr.lookup(matchID); s != nil {
		return s, nil
	}

	v, err, _ := mgr.loads.Do(matchID, func() (interface{}, error) {
		if s := mgr.lookup(matchID); s != nil {
			return s, nil
		}
		return mgr.restore(ctx, matchID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (mgr *Manager) lookup(matchID string) *Session {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.sessions[matchID]
}

func (mgr *Manager) restore(ctx context.Context, matchID string) (*Session, error) {
	m, err := mgr.deps.Store.Load(ctx, matchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodeNotFound, "match %s not found", matchID)
		}
		log.Error().Err(err).Str("matchID", matchID).Msg("Failed to load match")
		return nil, newError(CodeInternal, "failed to load match")
	}

	s := mgr.spawn(matchID)
	if err := s.restore(ctx, m); err != nil {
		s.Stop()
		return nil, err
	}

	mgr.mu.Lock()
	if _, pending := mgr.creating[matchID]; pending {
		mgr.mu.Unlock()
		s.Stop()
		return nil, newError(CodeInvalidState, "match %s is being initialized", matchID)
	}
	if existing, ok := mgr.sessions[matchID]; ok {
		mgr.mu.Unlock()
		s.Stop()
		return existing, nil
	}
	mgr.sessions[matchID] = s
	mgr.mu.Unlock()

	log.Info().Str("matchID", matchID).Str("status", string(m.Status)).Msg("Session restored from store")
	return s, nil
}

func (s *Session) restore(ctx context.Context, m *models.Match) error {
	_, err := call(ctx, s, func() (struct{}, error) {
		if s.match != nil {
			return struct{}{}, newError(CodeInvalidState, "session already holds match %s", s.id)
		}
		s.match = m
		s.resume()
		if m.Status.Terminal() {
			s.scheduleRetire()
		}
		return struct{}{}, nil
	})
	return err
}

// retire drops a finished session from the registry and stops it.
func (mgr *Manager) retire(s *Session) {
	mgr.mu.Lock()
	if mgr.sessions[s.id] == s {
		delete(mgr.sessions, s.id)
	}
	mgr.mu.Unlock()

	s.Stop()
	log.Info().Str("matchID", s.id).Msg("Finished session retired")
}

// Len reports how many sessions are held in memory.
func (mgr *Manager) Len() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return len(mgr.sessions)
}

// Shutdown stops every session. Match state stays in the store.
func (mgr *Manager) Shutdown() {
	mgr.mu.Lock()
	sessions := make([]*Session, 0, len(mgr.sessions))
	for id, s := range mgr.sessions {
		sessions = append(sessions, s)
		delete(mgr.sessions, id)
	}
	mgr.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	log.Info().Int("sessions", len(sessions)).Msg("Session manager stopped")
}
