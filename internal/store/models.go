package store

// SenderType identifies which side of the conversation wrote a message.
type SenderType string

const (
	SenderUser      SenderType = "user"
	SenderAssistant SenderType = "assistant"
)

// MessageStatus is the persisted lifecycle state of a message.
// An assistant message transitions pending -> {completed|failed|cancelled}
// exactly once and never returns to pending.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusCompleted MessageStatus = "completed"
	StatusFailed    MessageStatus = "failed"
	StatusCancelled MessageStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DefaultConversationTitle is the placeholder title a new conversation
// carries until the reply worker auto-titles it.
const DefaultConversationTitle = "New Chat"

// Message is a single chat message row.
type Message struct {
	ID              int64
	ConversationID  int64
	Sender          SenderType
	Content         string
	Status          MessageStatus
	ParentMessageID *int64
	CreatedAt       string
	StoppedAt       *string
}

// Conversation is a chat thread. The reply core treats it as an ordering
// anchor plus a title it may fill in once.
type Conversation struct {
	ID        int64
	UserID    int64
	Title     string
	CreatedAt string
	UpdatedAt string
}

// MessageFile is a file persisted alongside an assistant message.
// Rows are created atomically with the owning reply commit and never
// mutated afterward.
type MessageFile struct {
	ID        int64
	MessageID int64
	FileName  string
	FilePath  string // relative to the upload root
	MimeType  string
	SizeBytes int64
}

// HistoryEntry is one line of conversation context handed to the engine.
type HistoryEntry struct {
	ID      int64
	Sender  SenderType
	Content string
}
