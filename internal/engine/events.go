package engine

import (
	"time"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventUnitQueued indicates a unit became ready for assignment.
	EventUnitQueued EventType = "unit_queued"
	// EventUnitLeased indicates a unit was handed to an agent.
	EventUnitLeased EventType = "unit_leased"
	// EventUnitProgress provides periodic updates on a leased unit.
	EventUnitProgress EventType = "unit_progress"
	// EventUnitCompleted indicates a unit finished successfully.
	EventUnitCompleted EventType = "unit_completed"
	// EventUnitBlocked indicates a unit reported a blocker.
	EventUnitBlocked EventType = "unit_blocked"
	// EventLeaseReclaimed indicates an expired lease was reclaimed and the
	// unit returned to the pool.
	EventLeaseReclaimed EventType = "lease_reclaimed"
	// EventTaskDecomposed indicates a task was expanded into subtasks.
	EventTaskDecomposed EventType = "task_decomposed"
	// EventParentCompleted indicates a decomposed task auto-completed.
	EventParentCompleted EventType = "parent_completed"
	// EventParentBlocked indicates a decomposed task can no longer progress.
	EventParentBlocked EventType = "parent_blocked"
	// EventRunDone indicates every unit in the graph reached a terminal state.
	EventRunDone EventType = "run_done"
)

// Event represents a state change emitted by the engine.
// These events feed the TUI and the board mirror.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// UnitID is the ID of the related unit, if applicable.
	UnitID string
	// UnitName is the name of the related unit, if applicable.
	UnitName string
	// ParentID is the ID of the parent task, if applicable.
	ParentID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// LeaseID is the ID of the related lease, if applicable.
	LeaseID string
	// Message provides additional context about the event.
	Message string
	// Progress is the completion percentage (for progress events).
	Progress float64
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventEmitter handles event emission for the engine.
// It provides a simple, thread-safe way to emit events to subscribers.
type EventEmitter struct {
	events chan Event
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel. Subscribers are advisory:
// when the channel is full the event is dropped rather than blocking a
// scheduling call.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case e.events <- event:
	default:
	}
}

// Events returns a read-only channel of events.
// This is used by subscribers (e.g., TUI) to receive updates.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel.
func (e *EventEmitter) Close() {
	close(e.events)
}
