package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cameroncuttingedge/battleship/game"
	"github.com/cameroncuttingedge/battleship/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFleet() []game.Ship {
	row := func(x, y, length int) game.Ship {
		s := game.Ship{Length: length}
		for i := 0; i < length; i++ {
			s.Cells = append(s.Cells, game.Coord{X: x + i, Y: y})
		}
		return s
	}
	return []game.Ship{row(5, 0, 5), row(6, 2, 4), row(7, 4, 3), row(7, 6, 3), row(8, 8, 2)}
}

func activeMatch() *models.Match {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := models.NewMatch("match-1", "alice", now)
	m.Players = append(m.Players, "bob")
	m.Status = models.StatusActive
	m.CurrentTurn = "bob"
	started := now.Add(time.Minute)
	turn := started.Add(10 * time.Second)
	m.MatchStartedAt = &started
	m.TurnStartedAt = &turn
	m.ContractMatchID = "42"
	m.MatchAddress = "0xabc"
	m.Boards["alice"] = game.BuildBoard(sampleFleet())
	m.Boards["bob"] = game.BuildBoard(sampleFleet())
	game.ResolveShot(m.Boards["bob"], 8, 8)
	m.Shots = append(m.Shots, models.Shot{Player: "alice", X: 8, Y: 8, Hit: true, Timestamp: turn})
	return m
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	m := activeMatch()
	require.NoError(t, s.Save(ctx, m))

	got, err := s.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, []string{"alice", "bob"}, got.Players)
	assert.Equal(t, "bob", got.CurrentTurn)
	assert.Equal(t, "42", got.ContractMatchID)
	require.NotNil(t, got.MatchStartedAt)
	assert.True(t, m.MatchStartedAt.Equal(*got.MatchStartedAt))
	require.NotNil(t, got.TurnStartedAt)
	assert.True(t, m.TurnStartedAt.Equal(*got.TurnStartedAt))
	require.Len(t, got.Shots, 1)
	assert.True(t, got.Shots[0].Hit)
	require.Contains(t, got.Boards, "bob")
	assert.Equal(t, 4, got.Boards["bob"].Grid[8][8])
	assert.Len(t, got.Boards["bob"].Ships[4].Hits, 1)

	got.Status = models.StatusCompleted
	got.Winner = "alice"
	got.EndReason = models.ReasonForfeit
	got.Shots = append(got.Shots, models.Shot{Player: "bob", X: 0, Y: 0})
	require.NoError(t, s.Save(ctx, got))

	again, err := s.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, again.Status)
	assert.Equal(t, models.ReasonForfeit, again.EndReason)
	assert.Len(t, again.Shots, 2)
}

// exerciseConsistentPairs saves versions whose primary and secondary records
// agree (LastActivityAt is base plus one second per shot) while loading
// concurrently. Every load must see one version, never a mix.
func exerciseConsistentPairs(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	version := func(n int) *models.Match {
		m := models.NewMatch("match-pairs", "alice", base)
		m.Players = append(m.Players, "bob")
		m.Status = models.StatusActive
		for i := 0; i < n; i++ {
			m.Shots = append(m.Shots, models.Shot{Player: "alice", X: i % 10, Y: i / 10, Timestamp: base})
		}
		m.LastActivityAt = base.Add(time.Duration(n) * time.Second)
		return m
	}
	require.NoError(t, s.Save(ctx, version(0)))

	const versions = 40
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 1; n <= versions; n++ {
			assert.NoError(t, s.Save(ctx, version(n)))
		}
	}()

	for i := 0; i < versions; i++ {
		got, err := s.Load(ctx, "match-pairs")
		require.NoError(t, err)
		assert.Equal(t, len(got.Shots), int(got.LastActivityAt.Sub(base)/time.Second))
	}
	wg.Wait()

	final, err := s.Load(ctx, "match-pairs")
	require.NoError(t, err)
	assert.Len(t, final.Shots, versions)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
	exerciseConsistentPairs(t, NewMemoryStore())
}

func TestMemoryStoreDoesNotAlias(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	m := activeMatch()
	require.NoError(t, s.Save(ctx, m))

	m.Shots = append(m.Shots, models.Shot{Player: "bob"})
	m.Boards["alice"].Ships[0].Sunk = true

	got, err := s.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, got.Shots, 1)
	assert.False(t, got.Boards["alice"].Ships[0].Sunk)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(rdb)
	defer s.Close()

	exerciseStore(t, s)
	exerciseConsistentPairs(t, s)
	assert.True(t, mr.Exists("match:match-1:primary"))
	assert.True(t, mr.Exists("match:match-1:secondary"))
}

func TestNewRedisStoreRequiresURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "")
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	defer s.Close()

	s.DB.Exec("DELETE FROM match_primary WHERE match_id = ?", "match-1")
	s.DB.Exec("DELETE FROM match_secondary WHERE match_id = ?", "match-1")
	exerciseStore(t, s)
	exerciseConsistentPairs(t, s)
}

func TestSplitJoinDefaults(t *testing.T) {
	m := Join(Primary{MatchID: "x"}, Secondary{})
	assert.NotNil(t, m.Players)
	assert.NotNil(t, m.Boards)
	assert.NotNil(t, m.Shots)
}
