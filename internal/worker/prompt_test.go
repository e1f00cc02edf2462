package worker

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/parley/internal/reply"
	"github.com/zjrosen/parley/internal/store"
)

func TestBuildPrompt_Sections(t *testing.T) {
	prompt := BuildPrompt(PromptData{
		History: []store.HistoryEntry{
			{Sender: store.SenderUser, Content: "hi"},
			{Sender: store.SenderAssistant, Content: "hello"},
		},
		Now:          time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		UploadDir:    "user_1",
		SystemPrompt: "Be terse.",
		Question:     "what next?",
	})

	assert.Contains(t, prompt, "# Conversation history\nuser: hi\nassistant: hello\n")
	assert.Contains(t, prompt, "Current time: 2026-08-25T10:00:00Z")
	assert.Contains(t, prompt, "user_1 upload directory")
	assert.Contains(t, prompt, reply.DownloadLinksPlaceholder)
	assert.Contains(t, prompt, "# Instructions\nBe terse.")
	assert.True(t, strings.HasSuffix(prompt, "# Question\nwhat next?"),
		"question must be the final section")
}

func TestBuildPrompt_NoHistoryNoSystemPrompt(t *testing.T) {
	prompt := BuildPrompt(PromptData{
		Now:      time.Now(),
		Question: "solo question",
	})

	assert.NotContains(t, prompt, "# Conversation history")
	assert.NotContains(t, prompt, "# Instructions")
	assert.Contains(t, prompt, "# Question\nsolo question")
}

func TestBuildPrompt_HistoryBudget(t *testing.T) {
	var entries []store.HistoryEntry
	for i := 0; i < historyBudget+10; i++ {
		entries = append(entries, store.HistoryEntry{
			Sender:  store.SenderUser,
			Content: fmt.Sprintf("msg-%d", i),
		})
	}

	prompt := BuildPrompt(PromptData{History: entries, Now: time.Now(), Question: "q"})

	assert.NotContains(t, prompt, "msg-0\n", "oldest entries are dropped")
	assert.Contains(t, prompt, fmt.Sprintf("msg-%d\n", historyBudget+9))
	assert.Equal(t, historyBudget, strings.Count(prompt, "user: msg-"))
}

func TestBuildPrompt_Attachments(t *testing.T) {
	prompt := BuildPrompt(PromptData{
		Now:      time.Now(),
		Question: "summarize this",
		Attachments: []reply.AttachedFile{
			{FileName: "doc.pdf", FilePath: "user_1/doc.pdf"},
		},
	})

	assert.Contains(t, prompt, "Attached files:\n- doc.pdf (user_1/doc.pdf)")
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Plain Title", "Plain Title"},
		{`"Quoted Title"`, "Quoted Title"},
		{"  padded  ", "padded"},
		{"First line\nsecond line", "First line"},
		{strings.Repeat("x", 80), strings.Repeat("x", maxTitleRunes)},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeTitle(tt.in))
	}
}

func TestTitlePrompt_TruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("a", 2000)
	p := titlePrompt(long)
	require.Contains(t, p, strings.Repeat("a", 500))
	assert.NotContains(t, p, strings.Repeat("a", 501))
}
