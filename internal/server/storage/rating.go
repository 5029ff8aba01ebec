package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bughouse/internal/server/core"
)

// GetUserRatingSnapshot returns the user's current rating and deviation for
// a time class. The rating is the most recent entry of the append-only
// history; the deviation is the latest-value-wins column on the user row.
func (s *Store) GetUserRatingSnapshot(userID string, class core.TimeClass) (float64, float64, error) {
	rdColumn, ok := rdColumns[class]
	if !ok {
		return 0, 0, fmt.Errorf("unknown time class: %s", class)
	}

	var rating, rd float64
	query := fmt.Sprintf(`SELECT r.rating, u.%s
		FROM users u
		JOIN ratings r ON r.user_id = u.user_id
		WHERE u.user_id = ? AND r.rating_class = ?
		ORDER BY r.rating_timestamp DESC
		LIMIT 1`, rdColumn)

	err := s.db.QueryRow(query, userID, class).Scan(&rating, &rd)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, core.ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("rating snapshot: %w", err)
	}
	return rating, rd, nil
}

// CommitRatingResults persists the outcome of one rated game: a new history
// entry and an updated deviation for each of the four players, in a single
// transaction. Partial application would desynchronize the history, so any
// failed statement rolls back all of them.
//
// The history append is guarded against timestamp regression: an entry that
// would not be strictly newer than the latest existing one for that
// (user, class) pair aborts the commit.
func (s *Store) CommitRatingResults(class core.TimeClass, results [core.NumSeats]RatingResult, ts time.Time) error {
	rdColumn, ok := rdColumns[class]
	if !ok {
		return fmt.Errorf("unknown time class: %s", class)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertQuery := `INSERT INTO ratings (user_id, rating_class, rating_timestamp, rating)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM ratings
			WHERE user_id = ? AND rating_class = ? AND rating_timestamp >= ?
		)`
	updateQuery := fmt.Sprintf(`UPDATE users SET %s = ? WHERE user_id = ?`, rdColumn)

	for _, r := range results {
		res, err := tx.Exec(insertQuery,
			r.UserID, class, ts, r.Rating,
			r.UserID, class, ts,
		)
		if err != nil {
			return fmt.Errorf("append rating history: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("append rating history: %w", err)
		}
		if affected != 1 {
			return fmt.Errorf("rating history for user %s would regress at %s", r.UserID, ts)
		}

		res, err = tx.Exec(updateQuery, r.RD, r.UserID)
		if err != nil {
			return fmt.Errorf("update rating deviation: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update rating deviation: %w", err)
		}
		if affected != 1 {
			return fmt.Errorf("no user row for %s", r.UserID)
		}
	}

	return tx.Commit()
}

// GetRatingHistory returns every rating entry of a user, all classes,
// oldest first
func (s *Store) GetRatingHistory(userID string) ([]RatingEntry, error) {
	query := `SELECT rating_class, rating_timestamp, rating
		FROM ratings
		WHERE user_id = ?
		ORDER BY rating_timestamp ASC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("rating history: %w", err)
	}
	defer rows.Close()

	var entries []RatingEntry
	for rows.Next() {
		var e RatingEntry
		if err := rows.Scan(&e.Class, &e.Timestamp, &e.Rating); err != nil {
			return nil, fmt.Errorf("scan rating entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetLeaderboard returns the top-rated users of a time class, ranked by
// their most recent history entry
func (s *Store) GetLeaderboard(class core.TimeClass, limit int) ([]LeaderboardEntry, error) {
	query := `SELECT u.username, r.rating
		FROM users u
		JOIN ratings r ON r.user_id = u.user_id
		WHERE r.rating_class = ?
		AND r.rating_timestamp = (
			SELECT MAX(r2.rating_timestamp) FROM ratings r2
			WHERE r2.user_id = r.user_id AND r2.rating_class = r.rating_class
		)
		ORDER BY r.rating DESC
		LIMIT ?`

	rows, err := s.db.Query(query, class, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Rating); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
