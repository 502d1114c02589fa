package engine

import (
	"fmt"

	"github.com/mailflow/mailflow/internal/store"
	"github.com/mailflow/mailflow/internal/trigger"
)

// ExecutionEvent is an input to the execution state machine.
type ExecutionEvent interface {
	// isExecutionEvent seals the event set.
	isExecutionEvent()
}

// TriggerMatchedEvent fires when an admitted trigger event matched at
// least one condition block.
type TriggerMatchedEvent struct {
	Trigger trigger.Event
}

func (TriggerMatchedEvent) isExecutionEvent() {}

// DispatchDoneEvent fires when the action dispatch for a trigger has
// finished. Per-action failures are contained in the dispatch results, so
// this event always returns the execution to waiting.
type DispatchDoneEvent struct{}

func (DispatchDoneEvent) isExecutionEvent() {}

// StopRequestedEvent fires when the user stops the workflow.
type StopRequestedEvent struct{}

func (StopRequestedEvent) isExecutionEvent() {}

// FatalErrorEvent fires when the execution hits an unrecoverable error.
type FatalErrorEvent struct {
	Err error
}

func (FatalErrorEvent) isExecutionEvent() {}

// Transition is the result of processing an event.
type Transition struct {
	NextState ExecutionState
}

// ExecutionState is the sealed interface for all execution states.
type ExecutionState interface {
	// ProcessEvent handles an incoming event and returns the state
	// transition.
	ProcessEvent(event ExecutionEvent) (*Transition, error)

	// Status returns the persisted status value for this state.
	Status() store.ExecutionStatus

	// IsTerminal returns true if this state accepts no further events.
	IsTerminal() bool

	// String returns a human-readable name for the state.
	String() string

	// isExecutionState seals the interface to prevent external
	// implementations.
	isExecutionState()
}

// Ensure all state types implement ExecutionState.
var (
	_ ExecutionState = (*StateWaiting)(nil)
	_ ExecutionState = (*StateRunning)(nil)
	_ ExecutionState = (*StatePaused)(nil)
	_ ExecutionState = (*StateFailed)(nil)
	_ ExecutionState = (*StateCompleted)(nil)
)

// StateWaiting is the armed state: triggers are live and the execution is
// idle between dispatches.
type StateWaiting struct{}

func (*StateWaiting) isExecutionState() {}
func (*StateWaiting) IsTerminal() bool  { return false }
func (*StateWaiting) String() string    { return "waiting" }

// Status returns the persisted status value.
func (*StateWaiting) Status() store.ExecutionStatus {
	return store.StatusWaiting
}

// ProcessEvent handles events in the waiting state.
func (s *StateWaiting) ProcessEvent(
	event ExecutionEvent,
) (*Transition, error) {

	switch event.(type) {
	case TriggerMatchedEvent:
		return &Transition{NextState: &StateRunning{}}, nil

	case StopRequestedEvent:
		return &Transition{NextState: &StatePaused{}}, nil

	case FatalErrorEvent:
		return &Transition{NextState: &StateFailed{}}, nil

	default:
		return nil, fmt.Errorf("waiting: unexpected event: %T", event)
	}
}

// StateRunning is the dispatching state: a matched trigger is flowing
// through the pipeline's action blocks.
type StateRunning struct{}

func (*StateRunning) isExecutionState() {}
func (*StateRunning) IsTerminal() bool  { return false }
func (*StateRunning) String() string    { return "running" }

// Status returns the persisted status value.
func (*StateRunning) Status() store.ExecutionStatus {
	return store.StatusRunning
}

// ProcessEvent handles events in the running state.
func (s *StateRunning) ProcessEvent(
	event ExecutionEvent,
) (*Transition, error) {

	switch event.(type) {
	case DispatchDoneEvent:
		return &Transition{NextState: &StateWaiting{}}, nil

	case StopRequestedEvent:
		return &Transition{NextState: &StatePaused{}}, nil

	case FatalErrorEvent:
		return &Transition{NextState: &StateFailed{}}, nil

	default:
		return nil, fmt.Errorf("running: unexpected event: %T", event)
	}
}

// StatePaused is the user-stopped terminal state.
type StatePaused struct{}

func (*StatePaused) isExecutionState() {}
func (*StatePaused) IsTerminal() bool  { return true }
func (*StatePaused) String() string    { return "paused" }

// Status returns the persisted status value.
func (*StatePaused) Status() store.ExecutionStatus {
	return store.StatusPaused
}

// ProcessEvent handles events in the paused state.
func (s *StatePaused) ProcessEvent(
	event ExecutionEvent,
) (*Transition, error) {

	return nil, fmt.Errorf("paused: unexpected event: %T", event)
}

// StateFailed is the unrecoverable-error terminal state.
type StateFailed struct{}

func (*StateFailed) isExecutionState() {}
func (*StateFailed) IsTerminal() bool  { return true }
func (*StateFailed) String() string    { return "failed" }

// Status returns the persisted status value.
func (*StateFailed) Status() store.ExecutionStatus {
	return store.StatusFailed
}

// ProcessEvent handles events in the failed state.
func (s *StateFailed) ProcessEvent(
	event ExecutionEvent,
) (*Transition, error) {

	return nil, fmt.Errorf("failed: unexpected event: %T", event)
}

// StateCompleted is a terminal state reserved for workflows that run to a
// natural end. Nothing transitions into it today.
type StateCompleted struct{}

func (*StateCompleted) isExecutionState() {}
func (*StateCompleted) IsTerminal() bool  { return true }
func (*StateCompleted) String() string    { return "completed" }

// Status returns the persisted status value.
func (*StateCompleted) Status() store.ExecutionStatus {
	return store.StatusCompleted
}

// ProcessEvent handles events in the completed state.
func (s *StateCompleted) ProcessEvent(
	event ExecutionEvent,
) (*Transition, error) {

	return nil, fmt.Errorf("completed: unexpected event: %T", event)
}

// StateFromStatus converts a persisted status to an ExecutionState.
func StateFromStatus(status store.ExecutionStatus) ExecutionState {
	switch status {
	case store.StatusWaiting:
		return &StateWaiting{}
	case store.StatusRunning:
		return &StateRunning{}
	case store.StatusPaused:
		return &StatePaused{}
	case store.StatusFailed:
		return &StateFailed{}
	case store.StatusCompleted:
		return &StateCompleted{}
	default:
		return &StateWaiting{}
	}
}
