package service

import (
	"crypto/rand"
	"fmt"
	"time"

	"bughouse/internal/server/core"
	"bughouse/internal/server/rating"
	"bughouse/internal/server/storage"
)

const (
	gameIDLength   = 12
	gameIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// newGameID generates a short random game identifier. Uniqueness is not
// guaranteed here; the insert-if-absent loop in CreateGame handles
// collisions.
func newGameID() (string, error) {
	buf := make([]byte, gameIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate game id: %w", err)
	}
	for i, b := range buf {
		buf[i] = gameIDAlphabet[int(b)%len(gameIDAlphabet)]
	}
	return string(buf), nil
}

// CreateGame creates an open game with zero, one or two seats pre-filled
// (the creator plus an optional invited partner). Pre-filled seats get a
// rating snapshot taken now, so range checks for later joiners compare
// against a value fixed at creation.
//
// Id generation retries on collision up to MaxCreateAttempts before
// failing with ErrCreationExhausted; an unbounded loop would be a hang
// risk under pathological collision rates.
func (s *Service) CreateGame(seats [core.NumSeats]string, minutes, increment, ratingLow, ratingHigh int, mode core.GameMode, joinRandom bool) (string, error) {
	if s.store == nil {
		return "", core.ErrStoreUnavailable
	}
	if ratingLow > ratingHigh {
		return "", fmt.Errorf("invalid rating range [%d, %d]", ratingLow, ratingHigh)
	}

	class := core.ClassForMinutes(minutes)

	record := storage.GameRecord{
		Minutes:    minutes,
		Increment:  increment,
		RatingLow:  ratingLow,
		RatingHigh: ratingHigh,
		Mode:       mode,
		Status:     core.StatusOpen,
		JoinRandom: joinRandom,
		CreatedAt:  time.Now().UTC(),
	}

	for i, userID := range seats {
		if userID == "" {
			continue
		}
		for j := 0; j < i; j++ {
			if seats[j] == userID {
				return "", core.ErrDuplicateOccupancy
			}
		}
		r, _, err := s.store.GetUserRatingSnapshot(userID, class)
		if err != nil {
			return "", fmt.Errorf("seat %d: %w", i, err)
		}
		record.Seats[i] = &storage.SeatRecord{UserID: userID, Rating: r}
	}

	for attempt := 0; attempt < MaxCreateAttempts; attempt++ {
		id, err := newGameID()
		if err != nil {
			return "", err
		}
		record.GameID = id

		inserted, err := s.store.InsertGameIfAbsent(record)
		if err != nil {
			return "", err
		}
		if inserted {
			return id, nil
		}
	}

	return "", core.ErrCreationExhausted
}

// Join rejection reasons reported back to lobby clients
const (
	RejectGameNotOpen   = "game is not open"
	RejectSeatOccupied  = "seat is occupied"
	RejectAlreadySeated = "already seated in this game"
	RejectRatingRange   = "rating outside game range"
	RejectSeatContested = "seat was claimed first"
)

// JoinSeat validates and commits a join attempt for one of the four seats.
// Every normal rejection returns false with a reason: game not open, seat
// taken, the user already seated elsewhere in the game, rating outside the
// game's range, or losing the commit race. Errors are reserved for a
// missing game/user and storage failures.
func (s *Service) JoinSeat(gameID string, seat int, userID string) (bool, string, error) {
	if s.store == nil {
		return false, "", core.ErrStoreUnavailable
	}
	if seat < 0 || seat >= core.NumSeats {
		return false, "", fmt.Errorf("seat index out of range: %d", seat)
	}

	// Validate against a single snapshot of the game row
	g, err := s.store.GetGame(gameID)
	if err != nil {
		return false, "", err
	}
	if g.Status != core.StatusOpen {
		return false, RejectGameNotOpen, nil
	}
	if g.Seats[seat] != nil {
		return false, RejectSeatOccupied, nil
	}
	if g.SeatOf(userID) != -1 {
		return false, RejectAlreadySeated, nil
	}

	userRating, _, err := s.store.GetUserRatingSnapshot(userID, core.ClassForMinutes(g.Minutes))
	if err != nil {
		return false, "", err
	}
	if userRating < float64(g.RatingLow) || userRating > float64(g.RatingHigh) {
		return false, RejectRatingRange, nil
	}

	// The seat may have been taken since the snapshot; the conditional
	// write decides the race. Exactly one of N concurrent claims wins.
	claimed, err := s.store.ClaimSeat(gameID, seat, userID, userRating)
	if err != nil {
		return false, "", err
	}
	if !claimed {
		return false, RejectSeatContested, nil
	}

	// Flip to active if this join completed the roster
	if err := s.CheckAndStart(gameID); err != nil {
		return true, "", err
	}
	return true, "", nil
}

// LeaveSeat removes a user from a still-open game. The last occupant to
// leave takes the game row with them; otherwise the seat is cleared and
// the game stays open.
func (s *Service) LeaveSeat(gameID string, userID string) error {
	if s.store == nil {
		return core.ErrStoreUnavailable
	}

	g, err := s.store.GetGame(gameID)
	if err != nil {
		return err
	}

	seat := g.SeatOf(userID)
	if seat == -1 {
		return core.ErrNotInGame
	}
	if g.Status != core.StatusOpen {
		return core.ErrGameNotOpen
	}

	if g.OccupiedSeats() > 1 {
		return s.store.ClearSeat(gameID, seat)
	}
	return s.store.DeleteGame(gameID)
}

// CheckAndStart transitions a game open -> active once all four seats are
// filled. Idempotent: calling it on an already active game or one still
// missing players is a no-op.
func (s *Service) CheckAndStart(gameID string) error {
	if s.store == nil {
		return core.ErrStoreUnavailable
	}
	_, err := s.store.StartGame(gameID)
	return err
}

// EndGame terminates an active game, recomputes the four players' ratings
// when the game is rated, and fires the game-over notification. The status
// transition is a conditional write, so of several concurrent end attempts
// only one proceeds to the rating commit; the rating commit itself is a
// single all-or-nothing transaction.
func (s *Service) EndGame(gameID string, termination string) error {
	if s.store == nil {
		return core.ErrStoreUnavailable
	}

	g, err := s.store.GetGame(gameID)
	if err != nil {
		return err
	}

	terminated, err := s.store.TerminateGame(gameID, termination)
	if err != nil {
		return err
	}
	if !terminated {
		return fmt.Errorf("end game %s: %w", gameID, core.ErrGameNotOpen)
	}

	if g.Mode == core.ModeRated {
		if err := s.applyRatings(g, core.DeriveOutcome(termination)); err != nil {
			return err
		}
	}

	s.notifier.NotifyGameOver(gameID, termination)
	return nil
}

// applyRatings runs the team rating update for a finished rated game and
// commits all four results as one unit
func (s *Service) applyRatings(g *storage.GameRecord, outcome core.TeamOutcome) error {
	class := core.ClassForMinutes(g.Minutes)

	var states [core.NumSeats]*rating.PlayerRating
	var userIDs [core.NumSeats]string
	for i, seat := range g.Seats {
		if seat == nil {
			return core.ErrIncompleteRoster
		}
		userIDs[i] = seat.UserID

		r, rd, err := s.store.GetUserRatingSnapshot(seat.UserID, class)
		if err != nil {
			return fmt.Errorf("rating for %s: %w", seat.UserID, err)
		}
		states[i] = &rating.PlayerRating{Rating: r, RD: rd}
	}

	updated, err := rating.UpdateTeamRatings(states, outcome)
	if err != nil {
		return err
	}

	var results [core.NumSeats]storage.RatingResult
	for i := range updated {
		results[i] = storage.RatingResult{
			UserID: userIDs[i],
			Rating: updated[i].Rating,
			RD:     updated[i].RD,
		}
	}

	return s.store.CommitRatingResults(class, results, time.Now().UTC())
}

// GetGame returns the full game record
func (s *Service) GetGame(gameID string) (*storage.GameRecord, error) {
	if s.store == nil {
		return nil, core.ErrStoreUnavailable
	}
	return s.store.GetGame(gameID)
}

// ListOpenGames returns the lobby view, oldest first
func (s *Service) ListOpenGames() ([]storage.OpenGameRecord, error) {
	if s.store == nil {
		return nil, core.ErrStoreUnavailable
	}
	return s.store.ListOpenGames()
}

// GetRatingHistory returns a user's rating entries across all time
// classes, oldest first
func (s *Service) GetRatingHistory(userID string) ([]storage.RatingEntry, error) {
	if s.store == nil {
		return nil, core.ErrStoreUnavailable
	}
	return s.store.GetRatingHistory(userID)
}

// Leaderboard groups the top players of every time class
type Leaderboard struct {
	Bullet    []storage.LeaderboardEntry `json:"bullet"`
	Blitz     []storage.LeaderboardEntry `json:"blitz"`
	Classical []storage.LeaderboardEntry `json:"classical"`
}

// GetLeaderboard returns the top players per time class
func (s *Service) GetLeaderboard(limit int) (*Leaderboard, error) {
	if s.store == nil {
		return nil, core.ErrStoreUnavailable
	}

	var lb Leaderboard
	var err error
	if lb.Bullet, err = s.store.GetLeaderboard(core.ClassBullet, limit); err != nil {
		return nil, err
	}
	if lb.Blitz, err = s.store.GetLeaderboard(core.ClassBlitz, limit); err != nil {
		return nil, err
	}
	if lb.Classical, err = s.store.GetLeaderboard(core.ClassClassical, limit); err != nil {
		return nil, err
	}
	return &lb, nil
}
