// Package reply implements the asynchronous reply-generation orchestrator:
// it schedules isolated worker processes for generation jobs, supervises
// their lifecycle, repairs stale upload links in the generated text, and
// commits results to the store with bounded retry under write contention.
package reply

// JobState represents the lifecycle state of an in-flight reply job.
// Valid transitions:
//
//	Scheduled  -> Delayed, Cancelled
//	Delayed    -> Dispatched, Cancelled, Failed
//	Dispatched -> Awaiting, Cancelled, Failed
//	Awaiting   -> Committing, Cancelled, Failed
//	Committing -> Done, Cancelled, Failed
//	Done       -> (terminal)
//	Failed     -> (terminal)
//	Cancelled  -> (terminal)
type JobState string

const (
	// StateScheduled indicates the job is registered but its supervising
	// goroutine has not begun the pre-dispatch delay.
	StateScheduled JobState = "scheduled"
	// StateDelayed indicates the job is waiting out the artificial
	// pre-dispatch delay.
	StateDelayed JobState = "delayed"
	// StateDispatched indicates a worker process has been spawned.
	StateDispatched JobState = "dispatched"
	// StateAwaiting indicates the supervisor is polling the worker's
	// result channel.
	StateAwaiting JobState = "awaiting_result"
	// StateCommitting indicates the result is being persisted.
	StateCommitting JobState = "committing"
	// StateDone indicates the reply committed successfully.
	StateDone JobState = "done"
	// StateFailed indicates the job terminated due to an error.
	StateFailed JobState = "failed"
	// StateCancelled indicates the job was cancelled before completion.
	StateCancelled JobState = "cancelled"
)

// validTransitions defines the allowed state transitions for reply jobs.
var validTransitions = map[JobState]map[JobState]bool{
	StateScheduled: {
		StateDelayed:   true,
		StateCancelled: true,
	},
	StateDelayed: {
		StateDispatched: true,
		StateCancelled:  true,
		StateFailed:     true,
	},
	StateDispatched: {
		StateAwaiting:  true,
		StateCancelled: true,
		StateFailed:    true,
	},
	StateAwaiting: {
		StateCommitting: true,
		StateCancelled:  true,
		StateFailed:     true,
	},
	StateCommitting: {
		StateDone:      true,
		StateCancelled: true,
		StateFailed:    true,
	},
	// Terminal states have no valid transitions
	StateDone:      {},
	StateFailed:    {},
	StateCancelled: {},
}

// String returns the string representation of the JobState.
func (s JobState) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized JobState value.
func (s JobState) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true if this state is Done, Failed, or Cancelled.
func (s JobState) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// CanTransitionTo returns true if moving from the current state to target
// is valid according to the job state machine.
func (s JobState) CanTransitionTo(target JobState) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	return allowed[target]
}
