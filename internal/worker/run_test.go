package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/parley/internal/reply"
	"github.com/zjrosen/parley/internal/store"
)

// seedWorkerDB creates a file-backed database with one conversation and one
// pending reply, returning its path and the ids.
func seedWorkerDB(t *testing.T, title string) (dbPath string, convID, replyID int64) {
	t.Helper()
	dbPath = filepath.Join(t.TempDir(), "parley.db")

	db, err := store.NewDB(dbPath)
	require.NoError(t, err)
	st := store.New(db, store.EngineSettings{})

	convID, err = st.CreateConversation(1, title)
	require.NoError(t, err)
	userID, err := st.InsertMessage(store.Message{
		ConversationID: convID,
		Sender:         store.SenderUser,
		Content:        "what is two plus two?",
		Status:         store.StatusCompleted,
	})
	require.NoError(t, err)
	replyID, err = st.InsertMessage(store.Message{
		ConversationID:  convID,
		Sender:          store.SenderAssistant,
		Status:          store.StatusPending,
		ParentMessageID: &userID,
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())
	return dbPath, convID, replyID
}

func TestRun_EndToEnd(t *testing.T) {
	dbPath, convID, replyID := seedWorkerDB(t, "Existing Title")

	in := strings.NewReader(`{
		"message_id": ` + strconv.FormatInt(replyID, 10) + `,
		"conversation_id": ` + strconv.FormatInt(convID, 10) + `,
		"content": "what is two plus two?",
		"owner_id": 1,
		"database_path": ` + strconv.Quote(dbPath) + `,
		"engine_name": "echo"
	}`)

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), in, &out))

	// Exactly one newline-terminated line on stdout.
	raw := out.String()
	assert.Equal(t, 1, strings.Count(raw, "\n"))
	assert.True(t, strings.HasSuffix(raw, "\n"))

	var res reply.WorkerResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.True(t, res.OK)
	assert.Equal(t, "You said: what is two plus two?", res.Text)
}

func TestRun_InvalidRequestWritesNothing(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), strings.NewReader("garbage"), &out)
	require.Error(t, err)
	assert.Zero(t, out.Len(), "a worker that cannot decode its request stays silent")
}

func TestExecute_AutoTitlesPlaceholderConversation(t *testing.T) {
	dbPath, convID, replyID := seedWorkerDB(t, store.DefaultConversationTitle)

	res := Execute(context.Background(), reply.WorkerRequest{
		MessageID:      replyID,
		ConversationID: convID,
		Content:        "what is two plus two?",
		OwnerID:        1,
		DatabasePath:   dbPath,
		EngineName:     "echo",
	})
	require.True(t, res.OK, "error: %s", res.Error)

	db, err := store.NewDB(dbPath)
	require.NoError(t, err)
	st := store.New(db, store.EngineSettings{})
	defer func() { _ = st.Close() }()

	title, err := st.ConversationTitle(convID)
	require.NoError(t, err)
	assert.NotEqual(t, store.DefaultConversationTitle, title)
	assert.NotEmpty(t, title)
}

func TestExecute_KeepsExistingTitle(t *testing.T) {
	dbPath, convID, replyID := seedWorkerDB(t, "Settled Title")

	res := Execute(context.Background(), reply.WorkerRequest{
		MessageID:      replyID,
		ConversationID: convID,
		Content:        "another question",
		OwnerID:        1,
		DatabasePath:   dbPath,
		EngineName:     "echo",
	})
	require.True(t, res.OK)

	db, err := store.NewDB(dbPath)
	require.NoError(t, err)
	st := store.New(db, store.EngineSettings{})
	defer func() { _ = st.Close() }()

	title, err := st.ConversationTitle(convID)
	require.NoError(t, err)
	assert.Equal(t, "Settled Title", title)
}

func TestExecute_SettingsOverrideFallback(t *testing.T) {
	dbPath, convID, replyID := seedWorkerDB(t, "T")

	// Persisted settings name a nonexistent engine; they must win over the
	// request fallback and surface as an error result.
	db, err := store.NewDB(dbPath)
	require.NoError(t, err)
	st := store.New(db, store.EngineSettings{})
	require.NoError(t, st.SetEngineSettings(store.EngineSettings{Name: "nonexistent"}))
	require.NoError(t, st.Close())

	res := Execute(context.Background(), reply.WorkerRequest{
		MessageID:      replyID,
		ConversationID: convID,
		Content:        "q",
		DatabasePath:   dbPath,
		EngineName:     "echo",
	})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "nonexistent")
}

func TestExecute_UnopenableDatabase(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	res := Execute(context.Background(), reply.WorkerRequest{
		MessageID:      1,
		ConversationID: 1,
		DatabasePath:   filepath.Join(blocker, "parley.db"),
	})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "database")
}
