package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobState_ValidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  JobState
		to    JobState
		valid bool
	}{
		{"scheduled to delayed", StateScheduled, StateDelayed, true},
		{"scheduled to cancelled", StateScheduled, StateCancelled, true},
		{"scheduled to done", StateScheduled, StateDone, false},
		{"delayed to dispatched", StateDelayed, StateDispatched, true},
		{"delayed to failed", StateDelayed, StateFailed, true},
		{"dispatched to awaiting", StateDispatched, StateAwaiting, true},
		{"awaiting to committing", StateAwaiting, StateCommitting, true},
		{"awaiting to done", StateAwaiting, StateDone, false},
		{"committing to done", StateCommitting, StateDone, true},
		{"committing to cancelled", StateCommitting, StateCancelled, true},
		{"done is terminal", StateDone, StateFailed, false},
		{"failed is terminal", StateFailed, StateScheduled, false},
		{"cancelled is terminal", StateCancelled, StateDelayed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobState_IsTerminal(t *testing.T) {
	assert.True(t, StateDone.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
	assert.False(t, StateScheduled.IsTerminal())
	assert.False(t, StateAwaiting.IsTerminal())
}

func TestJobState_IsValid(t *testing.T) {
	assert.True(t, StateDelayed.IsValid())
	assert.False(t, JobState("bogus").IsValid())
}

func TestJobState_TerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []JobState{StateDone, StateFailed, StateCancelled} {
		for target := range validTransitions {
			assert.False(t, terminal.CanTransitionTo(target),
				"%s should not transition to %s", terminal, target)
		}
	}
}
