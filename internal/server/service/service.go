package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"bughouse/internal/server/core"
	"bughouse/internal/server/storage"

	"github.com/go-co-op/gocron/v2"
)

const (
	// MaxCreateAttempts bounds the id-collision retry loop in CreateGame
	MaxCreateAttempts = 10

	// OpenGameTTL is how long an open game may sit unfilled before the
	// sweeper reclaims it
	OpenGameTTL = 24 * time.Hour

	SweepInterval = 10 * time.Minute
)

// GameStore is the persistence contract the service requires. It is
// satisfied by *storage.Store and by in-memory doubles in tests; the
// service never assumes a particular query language behind it.
type GameStore interface {
	GetGame(gameID string) (*storage.GameRecord, error)
	InsertGameIfAbsent(record storage.GameRecord) (bool, error)
	ClaimSeat(gameID string, seat int, userID string, ratingSnapshot float64) (bool, error)
	ClearSeat(gameID string, seat int) error
	DeleteGame(gameID string) error
	StartGame(gameID string) (bool, error)
	TerminateGame(gameID string, termination string) (bool, error)
	ListOpenGames() ([]storage.OpenGameRecord, error)
	DeleteStaleOpenGames(cutoff time.Time) (int64, error)

	GetUserRatingSnapshot(userID string, class core.TimeClass) (float64, float64, error)
	CommitRatingResults(class core.TimeClass, results [core.NumSeats]storage.RatingResult, ts time.Time) error
	GetRatingHistory(userID string) ([]storage.RatingEntry, error)
	GetLeaderboard(class core.TimeClass, limit int) ([]storage.LeaderboardEntry, error)

	CreateUser(record storage.UserRecord) error
	GetUserByID(userID string) (*storage.UserRecord, error)
	GetUserByUsername(username string) (*storage.UserRecord, error)
	GetUserByEmail(email string) (*storage.UserRecord, error)
	UpdateUserLastLogin(userID string, loginTime time.Time) error

	IsHealthy() bool
}

// Notifier receives the single game-over notification per termination.
// Delivery is at-most-once and fire-and-forget; retry policy belongs to
// the transport behind it.
type Notifier interface {
	NotifyGameOver(gameID, termination string)
}

// LogNotifier is the default Notifier: it just logs the event
type LogNotifier struct{}

func (LogNotifier) NotifyGameOver(gameID, termination string) {
	log.Printf("game over: %s (%s)", gameID, termination)
}

// Service coordinates game lifecycle, seat assignment and rating updates
type Service struct {
	store     GameStore
	notifier  Notifier
	jwtSecret []byte
	scheduler gocron.Scheduler
}

// New creates a service instance. A nil notifier falls back to logging.
func New(store GameStore, notifier Notifier, jwtSecret []byte) *Service {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Service{
		store:     store,
		notifier:  notifier,
		jwtSecret: jwtSecret,
	}
}

// GetStorageHealth returns the storage component status
func (s *Service) GetStorageHealth() string {
	if s.store == nil {
		return "disabled"
	}
	if s.store.IsHealthy() {
		return "ok"
	}
	return "degraded"
}

// StartSweeper schedules periodic removal of abandoned open games
func (s *Service) StartSweeper() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(SweepInterval),
		gocron.NewTask(func() {
			cutoff := time.Now().UTC().Add(-OpenGameTTL)
			deleted, err := s.store.DeleteStaleOpenGames(cutoff)
			if err != nil {
				log.Printf("sweeper: failed to delete stale games: %v", err)
				return
			}
			if deleted > 0 {
				log.Printf("sweeper: deleted %d stale open games", deleted)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}

	sched.Start()
	s.scheduler = sched
	return nil
}

// Shutdown stops background jobs
func (s *Service) Shutdown() error {
	var errs []error

	if s.scheduler != nil {
		if err := s.scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}

	return errors.Join(errs...)
}
