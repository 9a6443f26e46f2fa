package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
)

var ErrUserNotFound = errors.New("user not found")

// EnsureUser creates a user record on first sight of an externally
// authenticated identity (the bearer token carries the user id and display
// name; this system never issues credentials itself). It is a no-op if the
// user already exists.
func (s *Store) EnsureUser(id, displayName string) (*User, error) {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO users (id, display_name, rating) VALUES (?, ?, 1000)",
		id, displayName,
	)
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(id)
}

// GetUserByID retrieves a user by id.
func (s *Store) GetUserByID(id string) (*User, error) {
	user := &User{}
	err := s.db.QueryRow(
		"SELECT id, display_name, rating, matches_played, matches_won, created_at FROM users WHERE id = ?",
		id,
	).Scan(&user.ID, &user.DisplayName, &user.Rating, &user.MatchesPlayed, &user.MatchesWon, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// generateID returns a random hex id, matching the teacher's id scheme.
func generateID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
