// Package session runs one actor per match. The actor goroutine owns all
// match state; commands, socket messages and timer firings are queued and
// applied one at a time.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cameroncuttingedge/battleship/archive"
	"github.com/cameroncuttingedge/battleship/events"
	"github.com/cameroncuttingedge/battleship/models"
	"github.com/cameroncuttingedge/battleship/settlement"
	"github.com/cameroncuttingedge/battleship/store"
	"github.com/cameroncuttingedge/battleship/timer"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type Config struct {
	TurnTimeout    time.Duration
	MatchTimeout   time.Duration
	PersistTimeout time.Duration
	// RetainAfterEnd is how long a Manager keeps a finished match's actor
	// before stopping it. Later reads reload it from the store.
	RetainAfterEnd time.Duration
}

var DefaultConfig = Config{
	TurnTimeout:    15 * time.Second,
	MatchTimeout:   3 * time.Minute,
	PersistTimeout: 5 * time.Second,
	RetainAfterEnd: time.Minute,
}

type Deps struct {
	Store     store.Store
	Settler   *settlement.Settler
	Scheduler timer.Scheduler
	Clock     clockwork.Clock
	// Archiver is optional.
	Archiver archive.Archiver
}

func (c Config) withDefaults() Config {
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = DefaultConfig.TurnTimeout
	}
	if c.MatchTimeout <= 0 {
		c.MatchTimeout = DefaultConfig.MatchTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultConfig.PersistTimeout
	}
	if c.RetainAfterEnd <= 0 {
		c.RetainAfterEnd = DefaultConfig.RetainAfterEnd
	}
	return c
}

func (d Deps) withDefaults() Deps {
	if d.Store == nil {
		d.Store = store.NewMemoryStore()
	}
	if d.Settler == nil {
		d.Settler = settlement.NewSettler(settlement.LocalClient{}, settlement.DefaultRetryPolicy)
	}
	if d.Scheduler == nil {
		d.Scheduler = timer.RuntimeScheduler{}
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return d
}

// Conn is a player's live outbound channel. Send must not block.
type Conn interface {
	ID() string
	Send(msg events.Message) bool
	Close()
}

type Session struct {
	id   string
	cfg  Config
	deps Deps

	match      *models.Match
	conns      map[string]Conn
	turnTimer  timerSlot
	matchTimer timerSlot
	timerSeq   uint64

	// onRetire is set by a Manager and called once the match has been over
	// for RetainAfterEnd.
	onRetire func(*Session)
	retiring bool

	inbox    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

func New(id string, cfg Config, deps Deps) *Session {
	return newSession(id, cfg, deps, nil)
}

func newSession(id string, cfg Config, deps Deps, onRetire func(*Session)) *Session {
	s := &Session{
		id:       id,
		cfg:      cfg.withDefaults(),
		deps:     deps.withDefaults(),
		conns:    make(map[string]Conn),
		onRetire: onRetire,
		inbox:    make(chan func(), 64),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) run() {
	for {
		select {
		case task := <-s.inbox:
			s.safely(task)
		case <-s.done:
			log.Info().Str("matchID", s.id).Msg("Session actor stopped")
			return
		}
	}
}

func (s *Session) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("matchID", s.id).Interface("panic", r).Msg("Recovered panic in session actor")
		}
	}()
	task()
}

// do runs fn on the actor goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	completed := false
	task := func() {
		defer close(finished)
		fn()
		completed = true
	}

	select {
	case s.inbox <- task:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
	case <-s.done:
		select {
		case <-finished:
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	if !completed {
		return newError(CodeInternal, "command failed")
	}
	return nil
}

// post queues fn without waiting for it. Used by timers and background
// settlement calls.
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

func call[T any](ctx context.Context, s *Session, fn func() (T, error)) (T, error) {
	var out T
	var cmdErr error
	if err := s.do(ctx, func() { out, cmdErr = fn() }); err != nil {
		var zero T
		return zero, err
	}
	return out, cmdErr
}

// Stop cancels timers, closes live connections and ends the actor. Match
// state stays in the store.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		_ = s.do(context.Background(), func() {
			s.cancelTimers()
			for playerID, c := range s.conns {
				c.Close()
				delete(s.conns, playerID)
			}
		})
		close(s.done)
	})
}

func (s *Session) now() time.Time {
	return s.deps.Clock.Now()
}

func (s *Session) current() (*models.Match, error) {
	if s.match == nil {
		return nil, newError(CodeNotFound, "match %s not found", s.id)
	}
	return s.match, nil
}

// persist writes the match before anything is broadcast. A failed write is
// logged and the in-memory change stands.
func (s *Session) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.deps.Store.Save(ctx, s.match); err != nil {
		log.Error().Err(err).Str("matchID", s.id).Str("status", string(s.match.Status)).Msg("Failed to persist match state")
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
