package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bughouse/internal/server/core"
	"bughouse/internal/server/rating"
	"bughouse/internal/server/storage"
)

// fakeStore is an in-memory GameStore. All mutations hold the mutex for
// their full read-check-write sequence, matching the atomicity the SQL
// conditional updates provide.
type fakeStore struct {
	mu      sync.Mutex
	games   map[string]*storage.GameRecord
	users   map[string]*storage.UserRecord
	history map[string][]storage.RatingEntry

	failInsert  bool
	commitCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		games:   make(map[string]*storage.GameRecord),
		users:   make(map[string]*storage.UserRecord),
		history: make(map[string][]storage.RatingEntry),
	}
}

func (f *fakeStore) addUser(userID string, ratings map[core.TimeClass]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	f.users[userID] = &storage.UserRecord{
		UserID:      userID,
		Username:    userID,
		CreatedAt:   now,
		RDBullet:    rating.DefaultRD,
		RDBlitz:     rating.DefaultRD,
		RDClassical: rating.DefaultRD,
	}
	for _, class := range []core.TimeClass{core.ClassBullet, core.ClassBlitz, core.ClassClassical} {
		r := rating.DefaultRating
		if v, ok := ratings[class]; ok {
			r = v
		}
		f.history[userID] = append(f.history[userID], storage.RatingEntry{
			Class:     class,
			Timestamp: now,
			Rating:    r,
		})
	}
}

func (f *fakeStore) GetGame(gameID string) (*storage.GameRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.games[gameID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeStore) InsertGameIfAbsent(record storage.GameRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failInsert {
		return false, nil
	}
	if _, ok := f.games[record.GameID]; ok {
		return false, nil
	}
	cp := record
	f.games[record.GameID] = &cp
	return true, nil
}

func (f *fakeStore) ClaimSeat(gameID string, seat int, userID string, ratingSnapshot float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.games[gameID]
	if !ok || g.Status != core.StatusOpen || g.Seats[seat] != nil {
		return false, nil
	}
	g.Seats[seat] = &storage.SeatRecord{UserID: userID, Rating: ratingSnapshot}
	return true, nil
}

func (f *fakeStore) ClearSeat(gameID string, seat int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.games[gameID]
	if !ok {
		return core.ErrNotFound
	}
	if g.Status == core.StatusOpen {
		g.Seats[seat] = nil
	}
	return nil
}

func (f *fakeStore) DeleteGame(gameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.games, gameID)
	return nil
}

func (f *fakeStore) StartGame(gameID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.games[gameID]
	if !ok || g.Status != core.StatusOpen || g.OccupiedSeats() != core.NumSeats {
		return false, nil
	}
	g.Status = core.StatusActive
	return true, nil
}

func (f *fakeStore) TerminateGame(gameID string, termination string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.games[gameID]
	if !ok || g.Status != core.StatusActive {
		return false, nil
	}
	g.Status = core.StatusTerminated
	g.Termination = &termination
	return true, nil
}

func (f *fakeStore) ListOpenGames() ([]storage.OpenGameRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []storage.OpenGameRecord
	for _, g := range f.games {
		if g.Status != core.StatusOpen {
			continue
		}
		rec := storage.OpenGameRecord{
			GameID:     g.GameID,
			Minutes:    g.Minutes,
			Increment:  g.Increment,
			RatingLow:  g.RatingLow,
			RatingHigh: g.RatingHigh,
			Mode:       g.Mode,
			JoinRandom: g.JoinRandom,
			CreatedAt:  g.CreatedAt,
		}
		for i, seat := range g.Seats {
			if seat != nil {
				rec.Seats[i] = &storage.OpenSeatSummary{
					UserID:   seat.UserID,
					Username: seat.UserID,
					Rating:   seat.Rating,
				}
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) DeleteStaleOpenGames(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for id, g := range f.games {
		if g.Status == core.StatusOpen && g.CreatedAt.Before(cutoff) {
			delete(f.games, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetUserRatingSnapshot(userID string, class core.TimeClass) (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return 0, 0, core.ErrNotFound
	}

	r := float64(rating.DefaultRating)
	for _, e := range f.history[userID] {
		if e.Class == class {
			r = e.Rating
		}
	}

	rd := rating.DefaultRD
	switch class {
	case core.ClassBullet:
		rd = u.RDBullet
	case core.ClassBlitz:
		rd = u.RDBlitz
	case core.ClassClassical:
		rd = u.RDClassical
	}
	return r, rd, nil
}

func (f *fakeStore) CommitRatingResults(class core.TimeClass, results [core.NumSeats]storage.RatingResult, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commitCalls++
	for _, res := range results {
		u, ok := f.users[res.UserID]
		if !ok {
			return core.ErrNotFound
		}
		f.history[res.UserID] = append(f.history[res.UserID], storage.RatingEntry{
			Class:     class,
			Timestamp: ts,
			Rating:    res.Rating,
		})
		switch class {
		case core.ClassBullet:
			u.RDBullet = res.RD
		case core.ClassBlitz:
			u.RDBlitz = res.RD
		case core.ClassClassical:
			u.RDClassical = res.RD
		}
	}
	return nil
}

func (f *fakeStore) GetRatingHistory(userID string) ([]storage.RatingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]storage.RatingEntry(nil), f.history[userID]...), nil
}

func (f *fakeStore) GetLeaderboard(class core.TimeClass, limit int) ([]storage.LeaderboardEntry, error) {
	return nil, nil
}

func (f *fakeStore) CreateUser(record storage.UserRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.users[record.UserID]; ok {
		return fmt.Errorf("user exists")
	}
	cp := record
	f.users[record.UserID] = &cp
	return nil
}

func (f *fakeStore) GetUserByID(userID string) (*storage.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUserByUsername(username string) (*storage.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeStore) GetUserByEmail(email string) (*storage.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeStore) UpdateUserLastLogin(userID string, loginTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	u.LastLoginAt = &loginTime
	return nil
}

func (f *fakeStore) IsHealthy() bool { return true }

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) NotifyGameOver(gameID, termination string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, gameID+":"+termination)
}

func newTestService(t *testing.T) (*Service, *fakeStore, *recordingNotifier) {
	t.Helper()
	store := newFakeStore()
	notifier := &recordingNotifier{}
	return New(store, notifier, []byte("test-secret")), store, notifier
}

func setupBlitzGame(t *testing.T, svc *Service, store *fakeStore, mode core.GameMode, low, high int) string {
	t.Helper()
	store.addUser("creator", nil)
	id, err := svc.CreateGame([core.NumSeats]string{"creator"}, 5, 5, low, high, mode, false)
	require.NoError(t, err)
	return id
}

func TestCreateGame(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", nil)

	id, err := svc.CreateGame([core.NumSeats]string{"alice"}, 5, 5, 1000, 1600, core.ModeRated, false)
	require.NoError(t, err)
	assert.Len(t, id, 12)

	g, err := svc.GetGame(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusOpen, g.Status)
	require.NotNil(t, g.Seats[0])
	assert.Equal(t, "alice", g.Seats[0].UserID)
	assert.InDelta(t, rating.DefaultRating, g.Seats[0].Rating, 1e-9)
	assert.Nil(t, g.Seats[1])
}

func TestCreateGameDuplicateCreatorSeats(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", nil)

	_, err := svc.CreateGame([core.NumSeats]string{"alice", "", "", "alice"}, 5, 5, 0, 3000, core.ModeCasual, false)
	assert.ErrorIs(t, err, core.ErrDuplicateOccupancy)
}

func TestCreateGameInvertedRange(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", nil)

	_, err := svc.CreateGame([core.NumSeats]string{"alice"}, 5, 5, 1600, 1000, core.ModeCasual, false)
	assert.Error(t, err)
}

func TestCreateGameExhaustsAttempts(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", nil)
	store.failInsert = true

	_, err := svc.CreateGame([core.NumSeats]string{"alice"}, 5, 5, 0, 3000, core.ModeCasual, false)
	assert.ErrorIs(t, err, core.ErrCreationExhausted)
}

func TestJoinSeat(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeRated, 1000, 1600)
	store.addUser("bob", map[core.TimeClass]float64{core.ClassBlitz: 1500})

	seated, _, err := svc.JoinSeat(id, 1, "bob")
	require.NoError(t, err)
	assert.True(t, seated)

	g, err := svc.GetGame(id)
	require.NoError(t, err)
	require.NotNil(t, g.Seats[1])
	assert.Equal(t, "bob", g.Seats[1].UserID)
	assert.InDelta(t, 1500, g.Seats[1].Rating, 1e-9)
}

func TestJoinSeatOutOfRatingRange(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeRated, 1000, 1600)
	store.addUser("shark", map[core.TimeClass]float64{core.ClassBlitz: 1800})
	store.addUser("edge", map[core.TimeClass]float64{core.ClassBlitz: 1600})

	seated, reason, err := svc.JoinSeat(id, 1, "shark")
	require.NoError(t, err)
	assert.False(t, seated)
	assert.Equal(t, RejectRatingRange, reason)

	// Bounds are inclusive
	seated, _, err = svc.JoinSeat(id, 1, "edge")
	require.NoError(t, err)
	assert.True(t, seated)
}

func TestJoinSeatRangeUsesGameTimeClass(t *testing.T) {
	svc, store, _ := newTestService(t)
	// 5+5 is blitz, so a wild bullet rating must not matter
	id := setupBlitzGame(t, svc, store, core.ModeRated, 1000, 1600)
	store.addUser("bob", map[core.TimeClass]float64{
		core.ClassBullet: 2400,
		core.ClassBlitz:  1200,
	})

	seated, _, err := svc.JoinSeat(id, 1, "bob")
	require.NoError(t, err)
	assert.True(t, seated)
}

func TestJoinSeatTakenAndDuplicateOccupancy(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeCasual, 0, 3000)
	store.addUser("bob", nil)
	store.addUser("carol", nil)

	seated, _, err := svc.JoinSeat(id, 1, "bob")
	require.NoError(t, err)
	require.True(t, seated)

	// Seat already taken
	seated, reason, err := svc.JoinSeat(id, 1, "carol")
	require.NoError(t, err)
	assert.False(t, seated)
	assert.Equal(t, RejectSeatOccupied, reason)

	// Same user in a second seat
	seated, reason, err = svc.JoinSeat(id, 2, "bob")
	require.NoError(t, err)
	assert.False(t, seated)
	assert.Equal(t, RejectAlreadySeated, reason)
}

func TestJoinSeatMissingGameAndUser(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeCasual, 0, 3000)

	_, _, err := svc.JoinSeat("nosuchgame0", 0, "creator")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, _, err = svc.JoinSeat(id, 1, "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestJoinSeatConcurrentExactlyOneWinner(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeCasual, 0, 3000)

	const contenders = 32
	for i := 0; i < contenders; i++ {
		store.addUser(fmt.Sprintf("user%02d", i), nil)
	}

	var wg sync.WaitGroup
	wins := make(chan string, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			seated, _, err := svc.JoinSeat(id, 1, userID)
			assert.NoError(t, err)
			if seated {
				wins <- userID
			}
		}(fmt.Sprintf("user%02d", i))
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	g, err := svc.GetGame(id)
	require.NoError(t, err)
	require.NotNil(t, g.Seats[1])
	assert.Equal(t, winners[0], g.Seats[1].UserID)
}

func TestAutoStartOnFullRoster(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeCasual, 0, 3000)
	for _, u := range []string{"bob", "carol", "dave"} {
		store.addUser(u, nil)
	}

	for i, u := range []string{"bob", "carol"} {
		seated, _, err := svc.JoinSeat(id, i+1, u)
		require.NoError(t, err)
		require.True(t, seated)
	}

	g, err := svc.GetGame(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusOpen, g.Status)

	seated, _, err := svc.JoinSeat(id, 3, "dave")
	require.NoError(t, err)
	require.True(t, seated)

	g, err = svc.GetGame(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, g.Status)

	// No joining once active
	store.addUser("late", nil)
	seated, reason, err := svc.JoinSeat(id, 0, "late")
	require.NoError(t, err)
	assert.False(t, seated)
	assert.Equal(t, RejectGameNotOpen, reason)
}

func TestLeaveSeat(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeCasual, 0, 3000)
	store.addUser("bob", nil)

	seated, _, err := svc.JoinSeat(id, 1, "bob")
	require.NoError(t, err)
	require.True(t, seated)

	require.NoError(t, svc.LeaveSeat(id, "bob"))

	g, err := svc.GetGame(id)
	require.NoError(t, err)
	assert.Nil(t, g.Seats[1])
	assert.Equal(t, core.StatusOpen, g.Status)

	assert.ErrorIs(t, svc.LeaveSeat(id, "bob"), core.ErrNotInGame)

	// Last occupant leaving deletes the game
	require.NoError(t, svc.LeaveSeat(id, "creator"))
	_, err = svc.GetGame(id)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLeaveSeatActiveGameRejected(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeCasual, 0, 3000)
	for i, u := range []string{"bob", "carol", "dave"} {
		store.addUser(u, nil)
		seated, _, err := svc.JoinSeat(id, i+1, u)
		require.NoError(t, err)
		require.True(t, seated)
	}

	assert.ErrorIs(t, svc.LeaveSeat(id, "bob"), core.ErrGameNotOpen)
}

func fillAndStart(t *testing.T, svc *Service, store *fakeStore, id string) {
	t.Helper()
	for i, u := range []string{"bob", "carol", "dave"} {
		store.addUser(u, nil)
		seated, _, err := svc.JoinSeat(id, i+1, u)
		require.NoError(t, err)
		require.True(t, seated)
	}
}

func TestEndGameRatedUpdatesAllFourPlayers(t *testing.T) {
	svc, store, notifier := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeRated, 0, 3000)
	fillAndStart(t, svc, store, id)

	require.NoError(t, svc.EndGame(id, "Team 1 is victorious"))

	g, err := svc.GetGame(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusTerminated, g.Status)
	require.NotNil(t, g.Termination)

	// Seats 0 and 3 are team one, 1 and 2 team two
	for _, winner := range []string{"creator", "dave"} {
		r, rd, err := store.GetUserRatingSnapshot(winner, core.ClassBlitz)
		require.NoError(t, err)
		assert.Greater(t, r, float64(rating.DefaultRating))
		assert.Less(t, rd, rating.DefaultRD)
	}
	for _, loser := range []string{"bob", "carol"} {
		r, _, err := store.GetUserRatingSnapshot(loser, core.ClassBlitz)
		require.NoError(t, err)
		assert.Less(t, r, float64(rating.DefaultRating))
	}

	// One commit, one notification, after the commit
	assert.Equal(t, 1, store.commitCalls)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, id+":Team 1 is victorious", notifier.calls[0])
}

func TestEndGameCasualSkipsRatings(t *testing.T) {
	svc, store, notifier := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeCasual, 0, 3000)
	fillAndStart(t, svc, store, id)

	require.NoError(t, svc.EndGame(id, "Team 2 is victorious"))

	assert.Equal(t, 0, store.commitCalls)
	for _, u := range []string{"creator", "bob", "carol", "dave"} {
		r, _, err := store.GetUserRatingSnapshot(u, core.ClassBlitz)
		require.NoError(t, err)
		assert.InDelta(t, rating.DefaultRating, r, 1e-9)
	}
	assert.Len(t, notifier.calls, 1)
}

func TestEndGameOnlyOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeRated, 0, 3000)
	fillAndStart(t, svc, store, id)

	require.NoError(t, svc.EndGame(id, "Team 1 is victorious"))
	assert.ErrorIs(t, svc.EndGame(id, "Team 2 is victorious"), core.ErrGameNotOpen)
	assert.Equal(t, 1, store.commitCalls)
}

func TestEndGameOpenGameRejected(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeRated, 0, 3000)

	assert.ErrorIs(t, svc.EndGame(id, "Team 1 is victorious"), core.ErrGameNotOpen)
	assert.Equal(t, 0, store.commitCalls)
}

func TestEndGameDrawMovesUnequalRatingsTogether(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("creator", map[core.TimeClass]float64{core.ClassBlitz: 1700})
	store.addUser("dave", map[core.TimeClass]float64{core.ClassBlitz: 1700})
	id, err := svc.CreateGame([core.NumSeats]string{"creator"}, 5, 5, 0, 3000, core.ModeRated, false)
	require.NoError(t, err)

	for i, u := range []string{"bob", "carol"} {
		store.addUser(u, map[core.TimeClass]float64{core.ClassBlitz: 1300})
		seated, _, err := svc.JoinSeat(id, i+1, u)
		require.NoError(t, err)
		require.True(t, seated)
	}
	seated, _, err := svc.JoinSeat(id, 3, "dave")
	require.NoError(t, err)
	require.True(t, seated)

	require.NoError(t, svc.EndGame(id, "Draw by agreement"))

	// Favored team loses ground on a draw, underdogs gain
	for _, u := range []string{"creator", "dave"} {
		r, _, err := store.GetUserRatingSnapshot(u, core.ClassBlitz)
		require.NoError(t, err)
		assert.Less(t, r, 1700.0)
	}
	for _, u := range []string{"bob", "carol"} {
		r, _, err := store.GetUserRatingSnapshot(u, core.ClassBlitz)
		require.NoError(t, err)
		assert.Greater(t, r, 1300.0)
	}
}

func TestRatingHistoryGrowsPerRatedGame(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeRated, 0, 3000)
	fillAndStart(t, svc, store, id)
	require.NoError(t, svc.EndGame(id, "Team 1 is victorious"))

	entries, err := svc.GetRatingHistory("creator")
	require.NoError(t, err)
	// Three seeded entries plus one blitz result
	assert.Len(t, entries, 4)
}

func TestListOpenGamesExcludesActive(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := setupBlitzGame(t, svc, store, core.ModeCasual, 0, 3000)

	open, err := svc.ListOpenGames()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].GameID)

	fillAndStart(t, svc, store, id)

	open, err = svc.ListOpenGames()
	require.NoError(t, err)
	assert.Empty(t, open)
}
