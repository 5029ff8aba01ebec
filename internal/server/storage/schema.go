package storage

import (
	"time"

	"bughouse/internal/server/core"
)

// SeatRecord is one occupied seat: the user and the rating snapshot taken
// when the seat was filled. Matchmaking range checks read this snapshot, not
// the live rating.
type SeatRecord struct {
	UserID string  `db:"user_id"`
	Rating float64 `db:"rating"`
}

// GameRecord represents a row in the games table. Seats are a fixed-size
// ordered sequence indexed 0-3; nil means the seat is open. Board, clock and
// vote fields are opaque pass-through state owned by the board layer.
type GameRecord struct {
	GameID      string `db:"game_id"`
	Seats       [core.NumSeats]*SeatRecord
	Minutes     int             `db:"minutes"`
	Increment   int             `db:"increment"`
	RatingLow   int             `db:"rating_low"`
	RatingHigh  int             `db:"rating_high"`
	Mode        core.GameMode   `db:"mode"`
	Status      core.GameStatus `db:"status"`
	Termination *string         `db:"termination"`
	JoinRandom  bool            `db:"join_random"`
	CreatedAt   time.Time       `db:"created_at"`
	Moves       string          `db:"moves"`
	LeftFEN     string          `db:"left_fen"`
	RightFEN    string          `db:"right_fen"`
	Clocks      string          `db:"clocks"`
	ResignState string          `db:"resign_state"`
	DrawState   string          `db:"draw_state"`
}

// OccupiedSeats counts non-empty seats
func (g *GameRecord) OccupiedSeats() int {
	n := 0
	for _, s := range g.Seats {
		if s != nil {
			n++
		}
	}
	return n
}

// SeatOf returns the seat index occupied by the user, or -1
func (g *GameRecord) SeatOf(userID string) int {
	for i, s := range g.Seats {
		if s != nil && s.UserID == userID {
			return i
		}
	}
	return -1
}

// OpenSeatSummary is one seat in a lobby listing, joined with the occupant
type OpenSeatSummary struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Rating   float64 `json:"rating"`
}

// OpenGameRecord is a lobby view of an open game
type OpenGameRecord struct {
	GameID     string                          `json:"gameId"`
	Minutes    int                             `json:"minutes"`
	Increment  int                             `json:"increment"`
	RatingLow  int                             `json:"ratingLow"`
	RatingHigh int                             `json:"ratingHigh"`
	Mode       core.GameMode                   `json:"mode"`
	JoinRandom bool                            `json:"joinRandom"`
	CreatedAt  time.Time                       `json:"createdAt"`
	Seats      [core.NumSeats]*OpenSeatSummary `json:"seats"`
}

// UserRecord represents a user account. The rd_* columns are the
// latest-value-wins deviation per time class; rating values live in the
// append-only ratings history table.
type UserRecord struct {
	UserID       string     `db:"user_id"`
	Username     string     `db:"username"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	CreatedAt    time.Time  `db:"created_at"`
	LastLoginAt  *time.Time `db:"last_login_at"`
	RDBullet     float64    `db:"rd_bullet"`
	RDBlitz      float64    `db:"rd_blitz"`
	RDClassical  float64    `db:"rd_classical"`
}

// RatingEntry is one row of a user's append-only rating history
type RatingEntry struct {
	Class     core.TimeClass `db:"rating_class"`
	Timestamp time.Time      `db:"rating_timestamp"`
	Rating    float64        `db:"rating"`
}

// RatingResult is one player's post-match state to commit
type RatingResult struct {
	UserID string
	Rating float64
	RD     float64
}

// LeaderboardEntry is one row of a per-class leaderboard
type LeaderboardEntry struct {
	Username string  `json:"username"`
	Rating   float64 `json:"rating"`
}

// seatColumns maps seat index 0-3 to its column pair. Column names never
// come from user input.
var seatColumns = [core.NumSeats]string{"player1", "player2", "player3", "player4"}
var seatRatingColumns = [core.NumSeats]string{"player1_rating", "player2_rating", "player3_rating", "player4_rating"}

// rdColumns maps a time class to the users-table deviation column
var rdColumns = map[core.TimeClass]string{
	core.ClassBullet:    "rd_bullet",
	core.ClassBlitz:     "rd_blitz",
	core.ClassClassical: "rd_classical",
}

// Schema defines the SQLite database structure
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	username TEXT UNIQUE NOT NULL COLLATE NOCASE,
	email TEXT COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_login_at DATETIME,
	rd_bullet REAL NOT NULL DEFAULT 350,
	rd_blitz REAL NOT NULL DEFAULT 350,
	rd_classical REAL NOT NULL DEFAULT 350
);

CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_unique ON users(email) WHERE email IS NOT NULL AND email != '';

CREATE TABLE IF NOT EXISTS ratings (
	user_id TEXT NOT NULL,
	rating_class TEXT NOT NULL CHECK(rating_class IN ('bullet', 'blitz', 'classical')),
	rating_timestamp DATETIME NOT NULL,
	rating REAL NOT NULL,
	PRIMARY KEY (user_id, rating_class, rating_timestamp),
	FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_ratings_user_class ON ratings(user_id, rating_class, rating_timestamp DESC);

CREATE TABLE IF NOT EXISTS games (
	game_id TEXT PRIMARY KEY,
	minutes INTEGER NOT NULL DEFAULT 5,
	increment INTEGER NOT NULL DEFAULT 5,
	rating_low INTEGER NOT NULL DEFAULT 0,
	rating_high INTEGER NOT NULL DEFAULT 3000,
	mode TEXT NOT NULL DEFAULT 'casual' CHECK(mode IN ('casual', 'rated')),
	status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open', 'active', 'terminated')),
	termination TEXT,
	join_random INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	moves TEXT NOT NULL DEFAULT '',
	left_fen TEXT NOT NULL DEFAULT 'rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1',
	right_fen TEXT NOT NULL DEFAULT 'rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1',
	clocks TEXT NOT NULL DEFAULT '0,0,0,0',
	resign_state TEXT NOT NULL DEFAULT '0,0,0,0',
	draw_state TEXT NOT NULL DEFAULT '0,0,0,0',
	player1 TEXT REFERENCES users(user_id),
	player2 TEXT REFERENCES users(user_id),
	player3 TEXT REFERENCES users(user_id),
	player4 TEXT REFERENCES users(user_id),
	player1_rating REAL,
	player2_rating REAL,
	player3_rating REAL,
	player4_rating REAL
);

CREATE INDEX IF NOT EXISTS idx_games_status ON games(status);
CREATE INDEX IF NOT EXISTS idx_games_created_at ON games(created_at);
`
