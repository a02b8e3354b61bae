package taskqueue

import (
	"context"
	"time"
)

// Task is one queued activity invocation. Tasks exist between the
// activity.scheduled event being appended to history and the matching
// result being recorded.
type Task struct {
	// ID is a queue-level identifier, filled by the enqueuer (a UUID).
	ID string

	InstanceID string
	// TaskID is the activity's position in the instance's schedule.
	TaskID   int
	Activity string
	Input    any

	// Attempt counts prior executions; a freshly scheduled task has 0.
	Attempt int

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible for
	// processing, used for retry backoff. Zero means "immediately".
	NotBefore time.Time
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
