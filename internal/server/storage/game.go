package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bughouse/internal/server/core"
)

const gameColumns = `game_id, minutes, increment, rating_low, rating_high, mode, status,
	termination, join_random, created_at, moves, left_fen, right_fen, clocks,
	resign_state, draw_state,
	player1, player2, player3, player4,
	player1_rating, player2_rating, player3_rating, player4_rating`

// InsertGameIfAbsent inserts a new game row, returning false without error
// when the id is already taken. The single INSERT is the atomic
// "was absent" signal the id-generation retry loop relies on.
func (s *Store) InsertGameIfAbsent(record GameRecord) (bool, error) {
	query := `INSERT INTO games (
		game_id, minutes, increment, rating_low, rating_high, mode, status,
		join_random, created_at,
		player1, player2, player3, player4,
		player1_rating, player2_rating, player3_rating, player4_rating
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(game_id) DO NOTHING`

	var ids [core.NumSeats]any
	var snapshots [core.NumSeats]any
	for i, seat := range record.Seats {
		if seat != nil {
			ids[i] = seat.UserID
			snapshots[i] = seat.Rating
		}
	}

	res, err := s.db.Exec(query,
		record.GameID, record.Minutes, record.Increment,
		record.RatingLow, record.RatingHigh, record.Mode, record.Status,
		record.JoinRandom, record.CreatedAt,
		ids[0], ids[1], ids[2], ids[3],
		snapshots[0], snapshots[1], snapshots[2], snapshots[3],
	)
	if err != nil {
		return false, fmt.Errorf("insert game: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert game: %w", err)
	}
	return affected == 1, nil
}

// GetGame retrieves a game row by id
func (s *Store) GetGame(gameID string) (*GameRecord, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE game_id = ?`
	return scanGame(s.db.QueryRow(query, gameID))
}

func scanGame(row *sql.Row) (*GameRecord, error) {
	var g GameRecord
	var termination sql.NullString
	var ids [core.NumSeats]sql.NullString
	var snapshots [core.NumSeats]sql.NullFloat64

	err := row.Scan(
		&g.GameID, &g.Minutes, &g.Increment, &g.RatingLow, &g.RatingHigh,
		&g.Mode, &g.Status, &termination, &g.JoinRandom, &g.CreatedAt,
		&g.Moves, &g.LeftFEN, &g.RightFEN, &g.Clocks,
		&g.ResignState, &g.DrawState,
		&ids[0], &ids[1], &ids[2], &ids[3],
		&snapshots[0], &snapshots[1], &snapshots[2], &snapshots[3],
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan game: %w", err)
	}

	if termination.Valid {
		g.Termination = &termination.String
	}
	for i := range ids {
		if ids[i].Valid {
			g.Seats[i] = &SeatRecord{UserID: ids[i].String, Rating: snapshots[i].Float64}
		}
	}
	return &g, nil
}

// ClaimSeat fills a seat with compare-and-set semantics: the write succeeds
// only if the game is still open and the seat is still empty at write time.
// Of N concurrent claims on the same seat, at most one returns true.
func (s *Store) ClaimSeat(gameID string, seat int, userID string, ratingSnapshot float64) (bool, error) {
	if seat < 0 || seat >= core.NumSeats {
		return false, fmt.Errorf("seat index out of range: %d", seat)
	}

	query := fmt.Sprintf(`UPDATE games SET %s = ?, %s = ?
		WHERE game_id = ? AND status = ? AND %s IS NULL`,
		seatColumns[seat], seatRatingColumns[seat], seatColumns[seat])

	res, err := s.db.Exec(query, userID, ratingSnapshot, gameID, core.StatusOpen)
	if err != nil {
		return false, fmt.Errorf("claim seat: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim seat: %w", err)
	}
	return affected == 1, nil
}

// ClearSeat vacates a seat of a still-open game
func (s *Store) ClearSeat(gameID string, seat int) error {
	if seat < 0 || seat >= core.NumSeats {
		return fmt.Errorf("seat index out of range: %d", seat)
	}

	query := fmt.Sprintf(`UPDATE games SET %s = NULL, %s = NULL
		WHERE game_id = ? AND status = ?`,
		seatColumns[seat], seatRatingColumns[seat])

	if _, err := s.db.Exec(query, gameID, core.StatusOpen); err != nil {
		return fmt.Errorf("clear seat: %w", err)
	}
	return nil
}

// DeleteGame removes a game row entirely
func (s *Store) DeleteGame(gameID string) error {
	if _, err := s.db.Exec(`DELETE FROM games WHERE game_id = ?`, gameID); err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return nil
}

// StartGame transitions open -> active iff all four seats are filled.
// Returns false when nothing changed, which covers both "not full yet" and
// "already active"; callers treat that as a no-op, not an error.
func (s *Store) StartGame(gameID string) (bool, error) {
	query := `UPDATE games SET status = ?
		WHERE game_id = ? AND status = ?
		AND player1 IS NOT NULL AND player2 IS NOT NULL
		AND player3 IS NOT NULL AND player4 IS NOT NULL`

	res, err := s.db.Exec(query, core.StatusActive, gameID, core.StatusOpen)
	if err != nil {
		return false, fmt.Errorf("start game: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("start game: %w", err)
	}
	return affected == 1, nil
}

// TerminateGame transitions active -> terminated and records the reason.
// Returns false when the game was not active, so a second termination of
// the same game can never fire the rating update twice.
func (s *Store) TerminateGame(gameID string, termination string) (bool, error) {
	query := `UPDATE games SET status = ?, termination = ?
		WHERE game_id = ? AND status = ?`

	res, err := s.db.Exec(query, core.StatusTerminated, termination, gameID, core.StatusActive)
	if err != nil {
		return false, fmt.Errorf("terminate game: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("terminate game: %w", err)
	}
	return affected == 1, nil
}

// ListOpenGames returns the lobby view of all open games, oldest first
func (s *Store) ListOpenGames() ([]OpenGameRecord, error) {
	query := `SELECT
		g.game_id, g.minutes, g.increment, g.rating_low, g.rating_high,
		g.mode, g.join_random, g.created_at,
		p1.user_id, p1.username, g.player1_rating,
		p2.user_id, p2.username, g.player2_rating,
		p3.user_id, p3.username, g.player3_rating,
		p4.user_id, p4.username, g.player4_rating
	FROM games g
		LEFT JOIN users p1 ON g.player1 = p1.user_id
		LEFT JOIN users p2 ON g.player2 = p2.user_id
		LEFT JOIN users p3 ON g.player3 = p3.user_id
		LEFT JOIN users p4 ON g.player4 = p4.user_id
	WHERE g.status = ?
	ORDER BY g.created_at ASC`

	rows, err := s.db.Query(query, core.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open games: %w", err)
	}
	defer rows.Close()

	var games []OpenGameRecord
	for rows.Next() {
		var g OpenGameRecord
		var ids, names [core.NumSeats]sql.NullString
		var ratings [core.NumSeats]sql.NullFloat64

		err := rows.Scan(
			&g.GameID, &g.Minutes, &g.Increment, &g.RatingLow, &g.RatingHigh,
			&g.Mode, &g.JoinRandom, &g.CreatedAt,
			&ids[0], &names[0], &ratings[0],
			&ids[1], &names[1], &ratings[1],
			&ids[2], &names[2], &ratings[2],
			&ids[3], &names[3], &ratings[3],
		)
		if err != nil {
			return nil, fmt.Errorf("scan open game: %w", err)
		}

		for i := range ids {
			if ids[i].Valid {
				g.Seats[i] = &OpenSeatSummary{
					UserID:   ids[i].String,
					Username: names[i].String,
					Rating:   ratings[i].Float64,
				}
			}
		}
		games = append(games, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list open games: %w", err)
	}
	return games, nil
}

// QueryGames retrieves games filtered by id and/or player. Empty or "*"
// matches all; the player filter matches any of the four seats.
func (s *Store) QueryGames(gameID, playerID string) ([]GameRecord, error) {
	query := `SELECT ` + gameColumns + ` FROM games`
	var conditions []string
	var params []any

	if gameID != "" && gameID != "*" {
		conditions = append(conditions, "game_id = ?")
		params = append(params, gameID)
	}
	if playerID != "" && playerID != "*" {
		conditions = append(conditions, "(player1 = ? OR player2 = ? OR player3 = ? OR player4 = ?)")
		params = append(params, playerID, playerID, playerID, playerID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	var games []GameRecord
	for rows.Next() {
		var g GameRecord
		var termination sql.NullString
		var ids [core.NumSeats]sql.NullString
		var snapshots [core.NumSeats]sql.NullFloat64

		err := rows.Scan(
			&g.GameID, &g.Minutes, &g.Increment, &g.RatingLow, &g.RatingHigh,
			&g.Mode, &g.Status, &termination, &g.JoinRandom, &g.CreatedAt,
			&g.Moves, &g.LeftFEN, &g.RightFEN, &g.Clocks,
			&g.ResignState, &g.DrawState,
			&ids[0], &ids[1], &ids[2], &ids[3],
			&snapshots[0], &snapshots[1], &snapshots[2], &snapshots[3],
		)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}

		if termination.Valid {
			g.Termination = &termination.String
		}
		for i := range ids {
			if ids[i].Valid {
				g.Seats[i] = &SeatRecord{UserID: ids[i].String, Rating: snapshots[i].Float64}
			}
		}
		games = append(games, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	return games, nil
}

// DeleteStaleOpenGames removes open games created before the cutoff,
// returning the number removed. Abandoned lobbies otherwise accumulate.
func (s *Store) DeleteStaleOpenGames(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM games WHERE status = ? AND created_at < ?`,
		core.StatusOpen, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale games: %w", err)
	}
	return res.RowsAffected()
}
