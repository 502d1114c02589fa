package engine

import (
	"testing"

	"github.com/mailflow/mailflow/internal/store"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name  string
		state ExecutionState
		event ExecutionEvent
		next  store.ExecutionStatus
		fails bool
	}{
		{
			name:  "waiting admits trigger",
			state: &StateWaiting{},
			event: TriggerMatchedEvent{},
			next:  store.StatusRunning,
		},
		{
			name:  "waiting can be stopped",
			state: &StateWaiting{},
			event: StopRequestedEvent{},
			next:  store.StatusPaused,
		},
		{
			name:  "waiting rejects dispatch completion",
			state: &StateWaiting{},
			event: DispatchDoneEvent{},
			fails: true,
		},
		{
			name:  "running re-arms after dispatch",
			state: &StateRunning{},
			event: DispatchDoneEvent{},
			next:  store.StatusWaiting,
		},
		{
			name:  "running can be stopped",
			state: &StateRunning{},
			event: StopRequestedEvent{},
			next:  store.StatusPaused,
		},
		{
			name:  "running rejects a second trigger",
			state: &StateRunning{},
			event: TriggerMatchedEvent{},
			fails: true,
		},
		{
			name:  "fatal error fails a waiting execution",
			state: &StateWaiting{},
			event: FatalErrorEvent{},
			next:  store.StatusFailed,
		},
		{
			name:  "paused is terminal",
			state: &StatePaused{},
			event: TriggerMatchedEvent{},
			fails: true,
		},
		{
			name:  "failed is terminal",
			state: &StateFailed{},
			event: StopRequestedEvent{},
			fails: true,
		},
		{
			name:  "completed is terminal",
			state: &StateCompleted{},
			event: TriggerMatchedEvent{},
			fails: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transition, err := tc.state.ProcessEvent(tc.event)
			if tc.fails {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.next,
				transition.NextState.Status())
		})
	}
}

func TestStateFromStatusRoundTrip(t *testing.T) {
	statuses := []store.ExecutionStatus{
		store.StatusWaiting, store.StatusRunning, store.StatusPaused,
		store.StatusFailed, store.StatusCompleted,
	}

	for _, status := range statuses {
		state := StateFromStatus(status)
		require.Equal(t, status, state.Status())
		require.Equal(t, status.IsTerminal(), state.IsTerminal())
	}
}
