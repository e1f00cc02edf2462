package reply

import "github.com/zjrosen/parley/internal/pubsub"

// Event types published on the orchestrator's event broker.
const (
	EventScheduled  pubsub.EventType = "reply.scheduled"
	EventDispatched pubsub.EventType = "reply.dispatched"
	EventCompleted  pubsub.EventType = "reply.completed"
	EventFailed     pubsub.EventType = "reply.failed"
	EventCancelled  pubsub.EventType = "reply.cancelled"
)

// Event describes a reply job lifecycle change. Published for observers
// (SSE bridges, tests); the orchestrator never depends on subscribers.
type Event struct {
	MessageID      int64
	ConversationID int64
	State          JobState
	// Err carries the failure reason for EventFailed, empty otherwise.
	Err string
}
