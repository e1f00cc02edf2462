package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("store: not found")

// CreateConversation inserts a conversation with the placeholder title and
// returns its id.
func (s *Store) CreateConversation(userID int64, title string) (int64, error) {
	if title == "" {
		title = DefaultConversationTitle
	}
	res, err := s.db.Exec(
		`INSERT INTO conversations (user_id, title) VALUES (?, ?)`,
		userID, title,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting conversation: %w", err)
	}
	return res.LastInsertId()
}

// ConversationTitle returns the current title of a conversation.
func (s *Store) ConversationTitle(id int64) (string, error) {
	var title string
	err := s.db.QueryRow(`SELECT title FROM conversations WHERE id = ?`, id).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading conversation title: %w", err)
	}
	return title, nil
}

// RenameConversation sets a new title and bumps updated_at.
func (s *Store) RenameConversation(id int64, title string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET title = ?, updated_at = datetime('now') WHERE id = ?`,
		title, id,
	)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	return nil
}

// TouchConversation bumps updated_at so conversation lists sort correctly.
func (s *Store) TouchConversation(id int64) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET updated_at = datetime('now') WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}
