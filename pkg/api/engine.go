package api

import "context"

// Engine is the durable orchestration scheduler API.
type Engine interface {
	// RegisterOrchestration registers an orchestration type by name.
	// Registration happens once at startup; duplicate names are an error.
	RegisterOrchestration(def OrchestrationDefinition) error

	// RegisterActivity registers an activity implementation by name.
	RegisterActivity(def ActivityDefinition) error

	// StartInstance creates a new instance with the caller-supplied ID and
	// runs its first execution pass. It fails with ErrDuplicateInstance if
	// the ID already exists in any status; the existing instance's history
	// is left unmodified.
	StartInstance(ctx context.Context, instanceID, orchestration string, input any) (*WorkflowInstance, error)

	// ResumeInstance re-executes the instance's orchestrator by replaying
	// its full history, persists any new scheduling decisions, and returns
	// the updated snapshot. Resuming with no new history is a no-op that
	// reproduces identical decisions.
	ResumeInstance(ctx context.Context, instanceID string) (*WorkflowInstance, error)

	// RaiseEvent delivers a named external event to an instance. If a
	// matching waiter is registered the event is recorded and the instance
	// resumed; otherwise the event is buffered for the first future waiter
	// with that name. Fails with ErrInstanceNotFound for unknown instances
	// and ErrInstanceTerminal for completed or failed ones.
	RaiseEvent(ctx context.Context, instanceID, eventName string, payload any) error

	// GetStatus returns a snapshot of the instance, or ErrInstanceNotFound.
	GetStatus(ctx context.Context, instanceID string) (*WorkflowInstance, error)

	// ListInstances returns instances matching the given options.
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]*WorkflowInstance, error)

	// History returns the instance's history in sequence order.
	History(ctx context.Context, instanceID string) ([]HistoryEvent, error)

	// ExecuteActivity invokes the registered activity function for the task
	// exactly once, without touching history. Workers own retry policy; use
	// RecordActivityResult to persist the outcome.
	ExecuteActivity(ctx context.Context, task ActivityTask) (any, error)

	// RecordActivityResult appends the activity's completion (actErr == nil)
	// or failure to history and resumes the instance. Appending a result
	// for a task that is already resolved is an error.
	RecordActivityResult(ctx context.Context, instanceID string, taskID int, activity string, result any, actErr error) error

	// RecoverInstances scans for non-terminal instances (for example after
	// a process crash), re-dispatches their outstanding activity tasks, and
	// resumes them from persisted history. It returns the number of
	// instances touched.
	//
	// Call it on startup before accepting new work.
	RecoverInstances(ctx context.Context) (int, error)
}
