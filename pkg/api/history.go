package api

import "time"

// EventKind identifies a workflow history event.
type EventKind string

const (
	EventOrchestrationStarted   EventKind = "orchestration.started"
	EventActivityScheduled      EventKind = "activity.scheduled"
	EventActivityCompleted      EventKind = "activity.completed"
	EventActivityFailed         EventKind = "activity.failed"
	EventExternalReceived       EventKind = "event.received"
	EventOrchestrationCompleted EventKind = "orchestration.completed"
)

// HistoryEvent is one record in an instance's append-only history. History
// is the sole source of truth for an instance's state: replaying the
// orchestrator against the same history prefix must reproduce identical
// scheduling decisions.
//
// Field usage by kind:
//   - orchestration.started: Payload holds the instance input.
//   - activity.scheduled: TaskID, Activity, Payload (activity input).
//   - activity.completed: TaskID, Activity, Payload (activity result).
//   - activity.failed: TaskID, Activity, Error.
//   - event.received: EventName, Payload (event payload).
//   - orchestration.completed: Payload (output) or Error on failure.
type HistoryEvent struct {
	Sequence int64
	Kind     EventKind
	At       time.Time

	TaskID    int
	Activity  string
	EventName string

	Payload any
	Error   string
}

// ActivityTask is a transient request to run one activity invocation. It
// exists between the activity.scheduled event being appended and the
// matching completion or failure being recorded.
type ActivityTask struct {
	InstanceID string
	// TaskID is the 0-based position of this call in the orchestrator's
	// deterministic CallActivity order. The engine never runs the same
	// (InstanceID, TaskID) pair concurrently.
	TaskID   int
	Activity string
	Input    any

	// Attempt counts executions of this task, starting at 1 when a worker
	// first picks it up.
	Attempt int
}
