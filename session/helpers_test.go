package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cameroncuttingedge/battleship/events"
	"github.com/cameroncuttingedge/battleship/game"
	"github.com/cameroncuttingedge/battleship/models"
	"github.com/cameroncuttingedge/battleship/settlement"
	"github.com/cameroncuttingedge/battleship/store"
	"github.com/cameroncuttingedge/battleship/timer"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// manualScheduler records tasks and runs them only when a test fires them.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	mu        sync.Mutex
	delay     time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

func (t *manualTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

func (t *manualTask) live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.cancelled && !t.fired
}

func (t *manualTask) wasCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (m *manualScheduler) After(d time.Duration, fn func()) timer.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTask{delay: d, fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

func (m *manualScheduler) pending() []*manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*manualTask
	for _, t := range m.tasks {
		if t.live() {
			out = append(out, t)
		}
	}
	return out
}

func (m *manualScheduler) pendingWith(d time.Duration) *manualTask {
	for _, t := range m.pending() {
		if t.delay == d {
			return t
		}
	}
	return nil
}

func (m *manualScheduler) pendingDelays() []time.Duration {
	var out []time.Duration
	for _, t := range m.pending() {
		out = append(out, t.delay)
	}
	return out
}

// fire runs every pending task scheduled with delay d and reports how many ran.
func (m *manualScheduler) fire(d time.Duration) int {
	n := 0
	for _, t := range m.pending() {
		if t.delay != d {
			continue
		}
		t.mu.Lock()
		t.fired = true
		t.mu.Unlock()
		t.fn()
		n++
	}
	return n
}

type finalizeCall struct {
	req settlement.FinalizeRequest
}

type fakeSettlement struct {
	mu          sync.Mutex
	createErr   error
	finalizeErr error
	creates     int
	starts      int
	finalizes   []finalizeCall
}

func (f *fakeSettlement) CreateMatch(_ context.Context, a, b string) (*settlement.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &settlement.Match{MatchID: "chain-1", MatchAddress: "0xmatch"}, nil
}

func (f *fakeSettlement) StartMatch(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return errors.New("start is flaky")
}

func (f *fakeSettlement) FinalizeMatch(_ context.Context, req settlement.FinalizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizes = append(f.finalizes, finalizeCall{req: req})
	return f.finalizeErr
}

func (f *fakeSettlement) finalizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finalizes)
}

func (f *fakeSettlement) lastFinalize() settlement.FinalizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalizes[len(f.finalizes)-1].req
}

type recordingConn struct {
	id     string
	mu     sync.Mutex
	msgs   []events.Message
	closed bool
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(msg events.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *recordingConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *recordingConn) count(t events.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (c *recordingConn) last(t events.Type) (events.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Type == t {
			return c.msgs[i], true
		}
	}
	return events.Message{}, false
}

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	clock     *clockwork.FakeClock
	scheduler *manualScheduler
	chain     *fakeSettlement
	settler   *settlement.Settler
	store     *store.MemoryStore
	deps      Deps
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:         t,
		ctx:       context.Background(),
		clock:     clockwork.NewFakeClockAt(testStart),
		scheduler: &manualScheduler{},
		chain:     &fakeSettlement{},
		store:     store.NewMemoryStore(),
	}
	h.settler = settlement.NewSettler(h.chain, settlement.RetryPolicy{Attempts: 3, Backoff: time.Millisecond})
	h.deps = Deps{
		Store:     h.store,
		Settler:   h.settler,
		Scheduler: h.scheduler,
		Clock:     h.clock,
	}
	t.Cleanup(h.settler.Close)
	return h
}

func (h *harness) newSession(id string) *Session {
	s := New(id, DefaultConfig, h.deps)
	h.t.Cleanup(s.Stop)
	return s
}

func row(x, y, length int) game.Ship {
	s := game.Ship{Length: length}
	for i := 0; i < length; i++ {
		s.Cells = append(s.Cells, game.Coord{X: x + i, Y: y})
	}
	return s
}

// fleet keeps every ship on the right half of even rows, so (0,0) is water.
func fleet() []game.Ship {
	return []game.Ship{row(5, 0, 5), row(6, 2, 4), row(7, 4, 3), row(7, 6, 3), row(8, 8, 2)}
}

// activeSession returns a session where alice and bob have both placed the
// standard fleet and alice is to move.
func (h *harness) activeSession(id string) *Session {
	s := h.newSession(id)
	_, err := s.Initialize(h.ctx, "alice")
	require.NoError(h.t, err)
	_, err = s.Join(h.ctx, "bob")
	require.NoError(h.t, err)
	_, err = s.SubmitBoard(h.ctx, "alice", fleet())
	require.NoError(h.t, err)
	_, err = s.SubmitBoard(h.ctx, "bob", fleet())
	require.NoError(h.t, err)
	return s
}

func (h *harness) status(s *Session) *Snapshot {
	snap, err := s.Status(h.ctx)
	require.NoError(h.t, err)
	return snap
}

// sinkShip fires at every cell of fleet()[i] as shooter.
func (h *harness) sinkShip(s *Session, shooter string, i int) {
	for _, c := range fleet()[i].Cells {
		_, err := s.MakeShot(h.ctx, shooter, c.X, c.Y)
		require.NoError(h.t, err)
	}
}

// failingStore loads nothing and refuses every save.
type failingStore struct {
	mu    sync.Mutex
	saves int
}

func (f *failingStore) Load(context.Context, string) (*models.Match, error) {
	return nil, store.ErrNotFound
}

func (f *failingStore) Save(context.Context, *models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return errors.New("disk full")
}

func (f *failingStore) Close() error { return nil }

func (f *failingStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// observed is what the store held at the moment a message reached a player.
type observed struct {
	msg    events.Message
	stored *models.Match
}

// storeCheckingConn reads the store from inside Send, which runs on the actor
// goroutine while the broadcast is in progress.
type storeCheckingConn struct {
	recordingConn
	store store.Store
	seen  []observed
}

func (c *storeCheckingConn) Send(msg events.Message) bool {
	m, _ := c.store.Load(context.Background(), "m1")
	c.mu.Lock()
	c.seen = append(c.seen, observed{msg: msg, stored: m})
	c.mu.Unlock()
	return c.recordingConn.Send(msg)
}

func (c *storeCheckingConn) observations(t events.Type) []observed {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []observed
	for _, o := range c.seen {
		if o.msg.Type == t {
			out = append(out, o)
		}
	}
	return out
}
