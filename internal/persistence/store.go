package persistence

import (
	"context"
	"errors"

	"github.com/mlaakso/orka/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when a workflow instance is not found.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrDuplicateInstance is returned by CreateInstance when the ID is taken.
	ErrDuplicateInstance = errors.New("instance already exists")
)

// InstanceFilter is used to select instances from the store.
// Empty string / zero status mean "no filter" for that field.
type InstanceFilter struct {
	Workflow string
	Status   api.Status
}

// InstanceStore handles storage of workflow instance snapshots.
type InstanceStore interface {
	// CreateInstance persists a new instance. It fails with
	// ErrDuplicateInstance if the ID already exists, in any status.
	CreateInstance(inst *api.WorkflowInstance) error
	UpdateInstance(inst *api.WorkflowInstance) error
	GetInstance(id string) (*api.WorkflowInstance, error)
	ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error)
}

// HistoryStore is the append-only per-instance event log. Events are
// immutable once appended and totally ordered by Sequence; the caller
// assigns sequence numbers under its per-instance lock.
type HistoryStore interface {
	AppendEvents(ctx context.Context, instanceID string, events []api.HistoryEvent) error
	ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error)
}

// EventStore tracks pending external-event waiters and buffers events that
// arrive before their wait is registered. At most one waiter exists per
// (instanceID, eventName); registering the same pair again is a no-op.
// Buffered events are delivered FIFO per (instanceID, eventName).
type EventStore interface {
	RegisterWaiter(ctx context.Context, instanceID, eventName string) error
	// RemoveWaiter removes the waiter and reports whether one existed.
	RemoveWaiter(ctx context.Context, instanceID, eventName string) (bool, error)
	BufferEvent(ctx context.Context, instanceID, eventName string, payload any) error
	// TakeBufferedEvent pops the oldest buffered event for the pair, if any.
	TakeBufferedEvent(ctx context.Context, instanceID, eventName string) (any, bool, error)
}

// Persistence bundles the store interfaces so the engine can depend on a
// single abstraction.
type Persistence struct {
	Instances InstanceStore
	History   HistoryStore
	Events    EventStore
}
