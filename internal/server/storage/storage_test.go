package storage

import (
	"path/filepath"
	"testing"
	"time"

	"bughouse/internal/server/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	require.NoError(t, store.InitDB())
	t.Cleanup(func() { store.Close() })

	return store
}

func createTestUser(t *testing.T, s *Store, userID, username string) {
	t.Helper()

	err := s.CreateUser(UserRecord{
		UserID:       userID,
		Username:     username,
		PasswordHash: "x",
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
}

func openGame(id string) GameRecord {
	return GameRecord{
		GameID:     id,
		Minutes:    5,
		Increment:  5,
		RatingLow:  0,
		RatingHigh: 3000,
		Mode:       core.ModeRated,
		Status:     core.StatusOpen,
		JoinRandom: true,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestStore_InsertGameIfAbsent(t *testing.T) {
	s := newTestStore(t)

	inserted, err := s.InsertGameIfAbsent(openGame("g1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same id again: the conflict is reported, not an error
	inserted, err = s.InsertGameIfAbsent(openGame("g1"))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestStore_CreateUserSeedsRatings(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "u1", "alice")

	for _, class := range []core.TimeClass{core.ClassBullet, core.ClassBlitz, core.ClassClassical} {
		r, rd, err := s.GetUserRatingSnapshot("u1", class)
		require.NoError(t, err)
		assert.Equal(t, 1500.0, r)
		assert.Equal(t, 350.0, rd)
	}

	// Duplicate username rejected
	err := s.CreateUser(UserRecord{UserID: "u2", Username: "ALICE", PasswordHash: "x", CreatedAt: time.Now().UTC()})
	assert.Error(t, err)
}

func TestStore_ClaimSeatCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "u1", "alice")
	createTestUser(t, s, "u2", "bob")

	_, err := s.InsertGameIfAbsent(openGame("g1"))
	require.NoError(t, err)

	claimed, err := s.ClaimSeat("g1", 1, "u1", 1500)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim on the same seat loses
	claimed, err = s.ClaimSeat("g1", 1, "u2", 1500)
	require.NoError(t, err)
	assert.False(t, claimed)

	g, err := s.GetGame("g1")
	require.NoError(t, err)
	require.NotNil(t, g.Seats[1])
	assert.Equal(t, "u1", g.Seats[1].UserID)
	assert.Equal(t, 1500.0, g.Seats[1].Rating)
	assert.Nil(t, g.Seats[0])
}

func TestStore_StartAndTerminate(t *testing.T) {
	s := newTestStore(t)
	users := []string{"u1", "u2", "u3", "u4"}
	for i, u := range users {
		createTestUser(t, s, u, "player"+string(rune('a'+i)))
	}

	_, err := s.InsertGameIfAbsent(openGame("g1"))
	require.NoError(t, err)

	// Not full yet: start is a no-op
	started, err := s.StartGame("g1")
	require.NoError(t, err)
	assert.False(t, started)

	for i, u := range users {
		claimed, err := s.ClaimSeat("g1", i, u, 1500)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	started, err = s.StartGame("g1")
	require.NoError(t, err)
	assert.True(t, started)

	// Idempotent once active
	started, err = s.StartGame("g1")
	require.NoError(t, err)
	assert.False(t, started)

	// Seats of an active game are frozen
	claimed, err := s.ClaimSeat("g1", 0, "u2", 1500)
	require.NoError(t, err)
	assert.False(t, claimed)

	terminated, err := s.TerminateGame("g1", "Team 1 is victorious")
	require.NoError(t, err)
	assert.True(t, terminated)

	// Only one caller ever observes the active -> terminated edge
	terminated, err = s.TerminateGame("g1", "Team 2 is victorious")
	require.NoError(t, err)
	assert.False(t, terminated)

	g, err := s.GetGame("g1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusTerminated, g.Status)
	require.NotNil(t, g.Termination)
	assert.Equal(t, "Team 1 is victorious", *g.Termination)
}

func TestStore_ClearSeatAndDelete(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "u1", "alice")

	_, err := s.InsertGameIfAbsent(openGame("g1"))
	require.NoError(t, err)
	_, err = s.ClaimSeat("g1", 2, "u1", 1500)
	require.NoError(t, err)

	require.NoError(t, s.ClearSeat("g1", 2))
	g, err := s.GetGame("g1")
	require.NoError(t, err)
	assert.Nil(t, g.Seats[2])

	require.NoError(t, s.DeleteGame("g1"))
	_, err = s.GetGame("g1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_CommitRatingResults(t *testing.T) {
	s := newTestStore(t)
	users := [core.NumSeats]string{"u1", "u2", "u3", "u4"}
	for i, u := range users {
		createTestUser(t, s, u, "player"+string(rune('a'+i)))
	}

	ts := time.Now().UTC()
	var results [core.NumSeats]RatingResult
	for i, u := range users {
		results[i] = RatingResult{UserID: u, Rating: 1500 + float64(i+1), RD: 290}
	}

	require.NoError(t, s.CommitRatingResults(core.ClassBlitz, results, ts))

	for i, u := range users {
		r, rd, err := s.GetUserRatingSnapshot(u, core.ClassBlitz)
		require.NoError(t, err)
		assert.Equal(t, 1500+float64(i+1), r)
		assert.Equal(t, 290.0, rd)

		// Other classes untouched
		r, rd, err = s.GetUserRatingSnapshot(u, core.ClassBullet)
		require.NoError(t, err)
		assert.Equal(t, 1500.0, r)
		assert.Equal(t, 350.0, rd)
	}

	// A commit that would regress the history rolls back entirely
	for i := range results {
		results[i].Rating = 1600
		results[i].RD = 200
	}
	err := s.CommitRatingResults(core.ClassBlitz, results, ts)
	require.Error(t, err)

	for i, u := range users {
		r, rd, err := s.GetUserRatingSnapshot(u, core.ClassBlitz)
		require.NoError(t, err)
		assert.Equal(t, 1500+float64(i+1), r)
		assert.Equal(t, 290.0, rd)
	}
}

func TestStore_RatingHistoryOrdered(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "u1", "alice")
	createTestUser(t, s, "u2", "bob")
	createTestUser(t, s, "u3", "carol")
	createTestUser(t, s, "u4", "dave")

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		results := [core.NumSeats]RatingResult{
			{UserID: "u1", Rating: 1500 + float64(10*(i+1)), RD: 300},
			{UserID: "u2", Rating: 1500 - float64(10*(i+1)), RD: 300},
			{UserID: "u3", Rating: 1500, RD: 300},
			{UserID: "u4", Rating: 1500, RD: 300},
		}
		require.NoError(t, s.CommitRatingResults(core.ClassBullet, results, base.Add(time.Duration(i)*time.Minute)))
	}

	entries, err := s.GetRatingHistory("u1")
	require.NoError(t, err)
	require.Len(t, entries, 6) // 3 seeds + 3 bullet updates

	var bullet []RatingEntry
	for _, e := range entries {
		if e.Class == core.ClassBullet {
			bullet = append(bullet, e)
		}
	}
	require.Len(t, bullet, 4)
	assert.Equal(t, 1530.0, bullet[3].Rating)
	for i := 1; i < len(bullet); i++ {
		assert.False(t, bullet[i].Timestamp.Before(bullet[i-1].Timestamp))
	}
}

func TestStore_Leaderboard(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "u1", "alice")
	createTestUser(t, s, "u2", "bob")
	createTestUser(t, s, "u3", "carol")
	createTestUser(t, s, "u4", "dave")

	results := [core.NumSeats]RatingResult{
		{UserID: "u1", Rating: 1650, RD: 300},
		{UserID: "u2", Rating: 1425, RD: 300},
		{UserID: "u3", Rating: 1580, RD: 300},
		{UserID: "u4", Rating: 1390, RD: 300},
	}
	require.NoError(t, s.CommitRatingResults(core.ClassBlitz, results, time.Now().UTC()))

	top, err := s.GetLeaderboard(core.ClassBlitz, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "alice", top[0].Username)
	assert.Equal(t, 1650.0, top[0].Rating)
	assert.Equal(t, "carol", top[1].Username)
	assert.Equal(t, "bob", top[2].Username)
}

func TestStore_QueryGames(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "u1", "alice")
	createTestUser(t, s, "u2", "bob")

	_, err := s.InsertGameIfAbsent(openGame("g1"))
	require.NoError(t, err)
	_, err = s.InsertGameIfAbsent(openGame("g2"))
	require.NoError(t, err)
	_, err = s.ClaimSeat("g1", 0, "u1", 1500)
	require.NoError(t, err)
	_, err = s.ClaimSeat("g2", 3, "u2", 1500)
	require.NoError(t, err)

	all, err := s.QueryGames("*", "*")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byID, err := s.QueryGames("g1", "")
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "g1", byID[0].GameID)

	byPlayer, err := s.QueryGames("", "u2")
	require.NoError(t, err)
	require.Len(t, byPlayer, 1)
	assert.Equal(t, "g2", byPlayer[0].GameID)

	none, err := s.QueryGames("g1", "u2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_DeleteStaleOpenGames(t *testing.T) {
	s := newTestStore(t)

	stale := openGame("old")
	stale.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	_, err := s.InsertGameIfAbsent(stale)
	require.NoError(t, err)
	_, err = s.InsertGameIfAbsent(openGame("fresh"))
	require.NoError(t, err)

	deleted, err := s.DeleteStaleOpenGames(time.Now().UTC().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetGame("old")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetGame("fresh")
	assert.NoError(t, err)
}
