// Package testutil provides test utilities for database setup.
package testutil

import (
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"
)

// Schema mirrors the embedded migrations for in-memory test databases.
const Schema = `
CREATE TABLE conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT 'New Chat',
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	sender_type TEXT NOT NULL CHECK (sender_type IN ('user', 'assistant')),
	content TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'completed' CHECK (status IN ('pending', 'completed', 'failed', 'cancelled')),
	parent_message_id INTEGER REFERENCES messages(id),
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	stopped_at TEXT
);

CREATE INDEX idx_messages_conversation_created ON messages(conversation_id, created_at);

CREATE TABLE message_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	file_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	mime_type TEXT,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX idx_message_files_message ON message_files(message_id);

CREATE TABLE settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// NewTestDB creates an in-memory SQLite database with the full schema.
// The pool is pinned to a single connection: each in-memory connection is
// its own database. The caller is responsible for closing the database.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(Schema)
	require.NoError(t, err)
	return db
}

// SeedConversation inserts a conversation and returns its id.
func SeedConversation(t *testing.T, db *sql.DB, userID int64, title string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO conversations (user_id, title) VALUES (?, ?)`, userID, title)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// SeedMessage inserts a message row and returns its id.
func SeedMessage(t *testing.T, db *sql.DB, conversationID int64, sender, content, status string, parent *int64) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO messages (conversation_id, sender_type, content, status, parent_message_id)
		 VALUES (?, ?, ?, ?, ?)`,
		conversationID, sender, content, status, parent,
	)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// SeedPendingReply inserts a user message and its pending assistant
// placeholder, returning (userMessageID, assistantMessageID).
func SeedPendingReply(t *testing.T, db *sql.DB, conversationID int64, content string) (int64, int64) {
	t.Helper()
	userID := SeedMessage(t, db, conversationID, "user", content, "completed", nil)
	replyID := SeedMessage(t, db, conversationID, "assistant", "", "pending", &userID)
	return userID, replyID
}
