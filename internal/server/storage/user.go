package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bughouse/internal/server/core"
	"bughouse/internal/server/rating"
)

// CreateUser creates a user with transaction isolation to prevent race
// conditions, seeding one starting rating-history entry per time class so
// the "current rating" is defined from the first lookup on.
func (s *Store) CreateUser(record UserRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Check uniqueness within transaction
	exists, err := s.userExists(tx, record.Username, record.Email)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("username or email already exists")
	}

	query := `INSERT INTO users (
		user_id, username, email, password_hash, created_at
	) VALUES (?, ?, ?, ?, ?)`

	_, err = tx.Exec(query,
		record.UserID, record.Username, record.Email,
		record.PasswordHash, record.CreatedAt,
	)
	if err != nil {
		return err
	}

	seedQuery := `INSERT INTO ratings (user_id, rating_class, rating_timestamp, rating) VALUES (?, ?, ?, ?)`
	for _, class := range []core.TimeClass{core.ClassBullet, core.ClassBlitz, core.ClassClassical} {
		if _, err := tx.Exec(seedQuery, record.UserID, class, record.CreatedAt, rating.DefaultRating); err != nil {
			return fmt.Errorf("seed ratings: %w", err)
		}
	}

	return tx.Commit()
}

// userExists verifies username/email uniqueness within a transaction
func (s *Store) userExists(tx *sql.Tx, username, email string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM users WHERE username = ? COLLATE NOCASE`
	args := []any{username}

	if email != "" {
		query = `SELECT COUNT(*) FROM users WHERE username = ? COLLATE NOCASE OR email = ? COLLATE NOCASE`
		args = append(args, email)
	}

	err := tx.QueryRow(query, args...).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

const userColumns = `user_id, username, email, password_hash, created_at, last_login_at,
	rd_bullet, rd_blitz, rd_classical`

func scanUser(row *sql.Row) (*UserRecord, error) {
	var user UserRecord
	err := row.Scan(
		&user.UserID, &user.Username, &user.Email,
		&user.PasswordHash, &user.CreatedAt, &user.LastLoginAt,
		&user.RDBullet, &user.RDBlitz, &user.RDClassical,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}

// GetUserByID retrieves a user by unique user ID
func (s *Store) GetUserByID(userID string) (*UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = ?`
	return scanUser(s.db.QueryRow(query, userID))
}

// GetUserByUsername retrieves a user by username with case-insensitive matching
func (s *Store) GetUserByUsername(username string) (*UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ? COLLATE NOCASE`
	return scanUser(s.db.QueryRow(query, username))
}

// GetUserByEmail retrieves a user by email with case-insensitive matching
func (s *Store) GetUserByEmail(email string) (*UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ? COLLATE NOCASE`
	return scanUser(s.db.QueryRow(query, email))
}

// UpdateUserLastLogin updates the last login time
func (s *Store) UpdateUserLastLogin(userID string, loginTime time.Time) error {
	query := `UPDATE users SET last_login_at = ? WHERE user_id = ?`
	_, err := s.db.Exec(query, loginTime, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login for user %s: %w", userID, err)
	}
	return nil
}

// UpdateUserPassword updates a user's password hash
func (s *Store) UpdateUserPassword(userID string, passwordHash string) error {
	query := `UPDATE users SET password_hash = ? WHERE user_id = ?`
	_, err := s.db.Exec(query, passwordHash, userID)
	return err
}

// UpdateUserEmail updates a user's email address
func (s *Store) UpdateUserEmail(userID string, email string) error {
	query := `UPDATE users SET email = ? WHERE user_id = ?`
	_, err := s.db.Exec(query, email, userID)
	return err
}

// UpdateUserUsername updates a user's username
func (s *Store) UpdateUserUsername(userID string, username string) error {
	query := `UPDATE users SET username = ? WHERE user_id = ?`
	_, err := s.db.Exec(query, username, userID)
	return err
}

// DeleteUser removes a user from the database
func (s *Store) DeleteUser(userID string) error {
	query := `DELETE FROM users WHERE user_id = ?`
	_, err := s.db.Exec(query, userID)
	return err
}

// GetAllUsers retrieves all users, newest first
func (s *Store) GetAllUsers() ([]UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserRecord
	for rows.Next() {
		var user UserRecord
		err := rows.Scan(
			&user.UserID, &user.Username, &user.Email,
			&user.PasswordHash, &user.CreatedAt, &user.LastLoginAt,
			&user.RDBullet, &user.RDBlitz, &user.RDClassical,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}
