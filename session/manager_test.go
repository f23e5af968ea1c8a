package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cameroncuttingedge/battleship/game"
	"github.com/cameroncuttingedge/battleship/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) newManager() *Manager {
	mgr := NewManager(DefaultConfig, h.deps)
	h.t.Cleanup(mgr.Shutdown)
	return mgr
}

// storedActiveMatch saves an ACTIVE match whose clocks started turnAgo and
// matchAgo before the harness clock.
func (h *harness) storedActiveMatch(id string, turnAgo, matchAgo time.Duration) {
	now := h.clock.Now()
	turnStarted := now.Add(-turnAgo)
	matchStarted := now.Add(-matchAgo)

	m := models.NewMatch(id, "alice", matchStarted)
	m.Players = []string{"alice", "bob"}
	m.Status = models.StatusActive
	m.CurrentTurn = "alice"
	m.TurnStartedAt = &turnStarted
	m.MatchStartedAt = &matchStarted
	m.Boards["alice"] = game.BuildBoard(fleet())
	m.Boards["bob"] = game.BuildBoard(fleet())
	m.ContractMatchID = "chain-1"
	require.NoError(h.t, h.store.Save(h.ctx, m))
}

func TestManagerInitializeAndGet(t *testing.T) {
	h := newHarness(t)
	mgr := h.newManager()

	s, snap, err := mgr.Initialize(h.ctx, "m1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "m1", snap.MatchID)
	assert.Equal(t, models.StatusCreated, snap.Status)

	got, err := mgr.Get(h.ctx, "m1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, _, err = mgr.Initialize(h.ctx, "m1", "bob")
	assert.Equal(t, CodeInvalidState, CodeOf(err))

	_, _, err = mgr.Initialize(h.ctx, "", "bob")
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = mgr.Get(h.ctx, "nope")
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestManagerInitializeRejectsStoredID(t *testing.T) {
	h := newHarness(t)
	h.storedActiveMatch("m1", time.Second, time.Second)

	_, _, err := h.newManager().Initialize(h.ctx, "m1", "carol")
	assert.Equal(t, CodeInvalidState, CodeOf(err))
}

func TestResumeSwitchesTurnWhenTurnExpiredOffline(t *testing.T) {
	h := newHarness(t)
	h.storedActiveMatch("m1", 20*time.Second, time.Minute)

	s, err := h.newManager().Get(h.ctx, "m1")
	require.NoError(t, err)

	st := h.status(s)
	assert.Equal(t, models.StatusActive, st.Status)
	assert.Equal(t, "bob", st.CurrentTurn)
	assert.Equal(t, h.clock.Now(), *st.TurnStartedAt)
	assert.ElementsMatch(t, []time.Duration{15 * time.Second, 2 * time.Minute}, h.scheduler.pendingDelays())

	stored, err := h.store.Load(h.ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.CurrentTurn)
}

func TestResumeSchedulesRemainingTime(t *testing.T) {
	h := newHarness(t)
	h.storedActiveMatch("m1", 5*time.Second, 30*time.Second)

	s, err := h.newManager().Get(h.ctx, "m1")
	require.NoError(t, err)

	st := h.status(s)
	assert.Equal(t, "alice", st.CurrentTurn)
	assert.ElementsMatch(t, []time.Duration{10 * time.Second, 150 * time.Second}, h.scheduler.pendingDelays())

	require.Equal(t, 1, h.scheduler.fire(10*time.Second))
	assert.Equal(t, "bob", h.status(s).CurrentTurn)
}

func TestResumeEndsMatchPastTimeLimit(t *testing.T) {
	h := newHarness(t)
	h.storedActiveMatch("m1", 20*time.Second, 4*time.Minute)

	s, err := h.newManager().Get(h.ctx, "m1")
	require.NoError(t, err)

	st := h.status(s)
	assert.Equal(t, models.StatusCompleted, st.Status)
	assert.Equal(t, models.ReasonTimeLimit, st.EndReason)
	assert.Equal(t, "bob", st.Winner)
	assert.Equal(t, "alice", st.Players[0])
	assert.Equal(t, []time.Duration{DefaultConfig.RetainAfterEnd}, h.scheduler.pendingDelays(), "only the retire task")

	h.settler.Wait()
	require.Equal(t, 1, h.chain.finalizeCount())
	assert.Equal(t, "TIME_LIMIT", h.chain.lastFinalize().Reason)
}

func TestResumeLeavesFinishedMatchAlone(t *testing.T) {
	h := newHarness(t)
	m := models.NewMatch("m1", "alice", h.clock.Now())
	m.Status = models.StatusCancelled
	m.EndReason = models.ReasonCancelled
	require.NoError(t, h.store.Save(h.ctx, m))

	s, err := h.newManager().Get(h.ctx, "m1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, h.status(s).Status)
	assert.Equal(t, []time.Duration{DefaultConfig.RetainAfterEnd}, h.scheduler.pendingDelays(), "only the retire task")
	assert.Zero(t, h.chain.finalizeCount())
}

func TestManagerShutdownStopsSessions(t *testing.T) {
	h := newHarness(t)
	mgr := NewManager(DefaultConfig, h.deps)
	s, _, err := mgr.Initialize(h.ctx, "m1", "alice")
	require.NoError(t, err)

	mgr.Shutdown()

	_, err = s.Status(h.ctx)
	assert.ErrorIs(t, err, ErrStopped)

	restored, err := mgr.Get(h.ctx, "m1")
	require.NoError(t, err)
	assert.NotSame(t, s, restored)
	assert.Equal(t, models.StatusCreated, h.status(restored).Status)
	mgr.Shutdown()
}

func TestFinishedSessionsAreRetired(t *testing.T) {
	h := newHarness(t)
	mgr := h.newManager()

	var ended []*Session
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("m%d", i)
		s, _, err := mgr.Initialize(h.ctx, id, "alice")
		require.NoError(t, err)
		_, err = s.Cancel(h.ctx, "alice")
		require.NoError(t, err)
		ended = append(ended, s)
	}
	require.Equal(t, 20, mgr.Len())

	assert.Equal(t, 20, h.scheduler.fire(DefaultConfig.RetainAfterEnd))
	assert.Zero(t, mgr.Len())
	for _, s := range ended {
		_, err := s.Status(h.ctx)
		assert.ErrorIs(t, err, ErrStopped)
	}

	reloaded, err := mgr.Get(h.ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, h.status(reloaded).Status)
	assert.Equal(t, 1, mgr.Len())
}

func TestRetireIgnoresReplacedSession(t *testing.T) {
	h := newHarness(t)
	mgr := h.newManager()
	s, _, err := mgr.Initialize(h.ctx, "m1", "alice")
	require.NoError(t, err)
	_, err = s.Cancel(h.ctx, "alice")
	require.NoError(t, err)

	mgr.Shutdown()
	restored, err := mgr.Get(h.ctx, "m1")
	require.NoError(t, err)

	mgr.retire(s)
	assert.Equal(t, 1, mgr.Len())
	assert.Equal(t, models.StatusCancelled, h.status(restored).Status)
}

func TestConcurrentGetSharesOneSession(t *testing.T) {
	h := newHarness(t)
	h.storedActiveMatch("m1", time.Second, time.Minute)
	mgr := h.newManager()

	const n = 16
	got := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := mgr.Get(h.ctx, "m1")
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range got[1:] {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, 1, mgr.Len())
	assert.ElementsMatch(t, []time.Duration{14 * time.Second, 2 * time.Minute}, h.scheduler.pendingDelays(), "timers armed by one restore only")
}

func TestInitializeWhileGetIsLoading(t *testing.T) {
	h := newHarness(t)
	mgr := h.newManager()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _, errs[i] = mgr.Initialize(h.ctx, "m1", "alice")
				return
			}
			_, errs[i] = mgr.Get(h.ctx, "m1")
		}(i)
	}
	wg.Wait()

	created := 0
	for i, err := range errs {
		if i%2 == 0 && err == nil {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, mgr.Len())
}
