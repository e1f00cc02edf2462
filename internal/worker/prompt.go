package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/zjrosen/parley/internal/reply"
	"github.com/zjrosen/parley/internal/store"
)

// PromptData is everything that goes into one assembled prompt.
type PromptData struct {
	History      []store.HistoryEntry
	Now          time.Time
	UploadDir    string
	SystemPrompt string
	Question     string
	Attachments  []reply.AttachedFile
}

// historyBudget caps how many finalized messages the prompt carries.
// Older context costs tokens without improving short-conversation replies.
const historyBudget = 40

// BuildPrompt assembles the engine prompt from conversation history, the
// runtime environment, the operator's system prompt, and the user's
// question, each under its own markdown heading. The final section is
// always the question.
func BuildPrompt(d PromptData) string {
	var b strings.Builder

	if len(d.History) > 0 {
		entries := d.History
		if len(entries) > historyBudget {
			entries = entries[len(entries)-historyBudget:]
		}
		b.WriteString("# Conversation history\n")
		for _, e := range entries {
			b.WriteString(string(e.Sender))
			b.WriteString(": ")
			b.WriteString(e.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("# Environment\n")
	fmt.Fprintf(&b, "Current time: %s\n", d.Now.Format(time.RFC3339))
	if d.UploadDir != "" {
		fmt.Fprintf(&b, "Files you produce are served from the %s upload directory.\n", d.UploadDir)
		fmt.Fprintf(&b, "To offer downloads, place the literal marker %s on its own line; it becomes the link list.\n",
			reply.DownloadLinksPlaceholder)
	}
	b.WriteString("\n")

	if d.SystemPrompt != "" {
		b.WriteString("# Instructions\n")
		b.WriteString(strings.TrimSpace(d.SystemPrompt))
		b.WriteString("\n\n")
	}

	b.WriteString("# Question\n")
	b.WriteString(d.Question)
	if len(d.Attachments) > 0 {
		b.WriteString("\n\nAttached files:\n")
		for _, f := range d.Attachments {
			fmt.Fprintf(&b, "- %s (%s)\n", f.FileName, f.FilePath)
		}
	}

	return b.String()
}

// titlePromptFormat asks the engine for a conversation title. The reply is
// used verbatim after sanitizing, so the prompt forbids decoration.
const titlePromptFormat = "Produce a short title of at most ten words for a conversation that starts with the " +
	"following message. Reply with the title text only, no quotes, no punctuation at the end.\n\nMessage: %s"

// maxTitleRunes bounds the stored conversation title.
const maxTitleRunes = 50

// titlePrompt renders the auto-title prompt for the user's first message.
func titlePrompt(content string) string {
	runes := []rune(content)
	if len(runes) > 500 {
		content = string(runes[:500])
	}
	return fmt.Sprintf(titlePromptFormat, content)
}

// sanitizeTitle normalizes engine output into a storable title: first line
// only, quotes and whitespace trimmed, length capped.
func sanitizeTitle(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	runes := []rune(s)
	if len(runes) > maxTitleRunes {
		s = strings.TrimSpace(string(runes[:maxTitleRunes]))
	}
	return s
}
