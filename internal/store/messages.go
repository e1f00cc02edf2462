package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertMessage inserts a message row and returns its id. Used by the web
// layer to create the user message and the pending assistant placeholder.
func (s *Store) InsertMessage(m Message) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO messages (conversation_id, sender_type, content, status, parent_message_id)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ConversationID, string(m.Sender), m.Content, string(m.Status), m.ParentMessageID,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	return res.LastInsertId()
}

// MessageStatus returns the persisted status of a message.
func (s *Store) MessageStatus(id int64) (MessageStatus, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM messages WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading message status: %w", err)
	}
	return MessageStatus(status), nil
}

// MessageSnapshot returns the status and content of a message in one read.
// The failure path uses it to preserve partial content.
func (s *Store) MessageSnapshot(id int64) (MessageStatus, string, error) {
	var status, content string
	err := s.db.QueryRow(`SELECT status, content FROM messages WHERE id = ?`, id).
		Scan(&status, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("reading message snapshot: %w", err)
	}
	return MessageStatus(status), content, nil
}

// ParentMessageID returns the immutable parent reference of a message,
// or nil when the message has none.
func (s *Store) ParentMessageID(id int64) (*int64, error) {
	var parent sql.NullInt64
	err := s.db.QueryRow(`SELECT parent_message_id FROM messages WHERE id = ?`, id).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading parent message id: %w", err)
	}
	if !parent.Valid {
		return nil, nil
	}
	v := parent.Int64
	return &v, nil
}

// History returns the finalized messages of a conversation in chronological
// order, excluding pending rows and the message identified by excludeID.
// This is the context block handed to the generation engine.
func (s *Store) History(conversationID, excludeID int64) ([]HistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, sender_type, content
		 FROM messages
		 WHERE conversation_id = ? AND status != 'pending'
		 ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var sender string
		if err := rows.Scan(&e.ID, &sender, &e.Content); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if e.ID == excludeID {
			continue
		}
		e.Sender = SenderType(sender)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}
	return entries, nil
}

// CommitReply finalizes a completed reply: content and status=completed on
// the message (stopped_at cleared), updated_at bumped on the conversation,
// both in one transaction. Callers wrap this in WithRetry; SQLite reports
// contention as SQLITE_BUSY which surfaces through the driver unchanged.
func (s *Store) CommitReply(messageID, conversationID int64, text string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning commit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`UPDATE messages SET content = ?, status = 'completed', stopped_at = NULL WHERE id = ?`,
		text, messageID,
	); err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE conversations SET updated_at = datetime('now') WHERE id = ?`,
		conversationID,
	); err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return tx.Commit()
}

// FailMessage marks a reply failed, preserving text as the visible record
// so the conversation never has a hole.
func (s *Store) FailMessage(id int64, text string) error {
	_, err := s.db.Exec(
		`UPDATE messages SET content = ?, status = 'failed', stopped_at = datetime('now') WHERE id = ?`,
		text, id,
	)
	if err != nil {
		return fmt.Errorf("failing message: %w", err)
	}
	return nil
}

// CancelMessage marks a reply cancelled, keeping text (the in-progress
// partial content, or a stock line) as the visible record, and touches the
// owning conversation. Called by the stop endpoint after Cancel.
func (s *Store) CancelMessage(id int64, text string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning cancel transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`UPDATE messages SET content = ?, status = 'cancelled', stopped_at = datetime('now') WHERE id = ?`,
		text, id,
	); err != nil {
		return fmt.Errorf("cancelling message: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE conversations SET updated_at = datetime('now')
		 WHERE id = (SELECT conversation_id FROM messages WHERE id = ?)`,
		id,
	); err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return tx.Commit()
}
