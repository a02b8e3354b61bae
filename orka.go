package orka

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/mlaakso/orka/internal/engine"
	"github.com/mlaakso/orka/internal/taskqueue"
	"github.com/mlaakso/orka/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine                  = api.Engine
	OrchestrationContext    = api.OrchestrationContext
	OrchestratorFunc        = api.OrchestratorFunc
	ActivityFunc            = api.ActivityFunc
	OrchestrationDefinition = api.OrchestrationDefinition
	ActivityDefinition      = api.ActivityDefinition
	WorkflowInstance        = api.WorkflowInstance
	InstanceListOptions     = api.InstanceListOptions
	HistoryEvent            = api.HistoryEvent
	ActivityTask            = api.ActivityTask
	Status                  = api.Status
	RetryPolicy             = api.RetryPolicy
	Observer                = api.Observer
	LoggingObserver         = api.LoggingObserver
	BasicMetrics            = api.BasicMetrics
	BasicMetricsSnapshot    = api.BasicMetricsSnapshot
	CompositeObserver       = api.CompositeObserver
	NoopObserver            = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusWaiting   = api.StatusWaiting
	StatusFailed    = api.StatusFailed
	StatusCompleted = api.StatusCompleted
)

// Re-export error sentinels; check them with errors.Is.

var (
	ErrDuplicateInstance = api.ErrDuplicateInstance
	ErrInstanceNotFound  = api.ErrInstanceNotFound
	ErrInstanceTerminal  = api.ErrInstanceTerminal
	ErrTaskResolved      = api.ErrTaskResolved
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
// Activities run inline during resume passes.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists instance state, history
// and buffered events in a SQLite database. Registrations stay in-memory.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewPostgresEngine returns an Engine that persists state in PostgreSQL.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(db)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewPostgresEngineWithObserver(db, obs)
}

// NewRedisEngine returns an Engine that persists state in Redis.
func NewRedisEngine(client *redis.Client) Engine {
	return engine.NewRedisEngine(client)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, obs Observer) Engine {
	return engine.NewRedisEngineWithObserver(client, obs)
}

// NewInMemoryQueue returns a task queue for single-process async execution.
func NewInMemoryQueue(capacity int) taskqueue.Queue {
	return taskqueue.NewInMemoryQueue(capacity)
}

// Convenience helpers that just forward to the underlying Engine.

// StartInstance creates and runs a new orchestration instance up to its
// first suspension point or terminal state.
func StartInstance(ctx context.Context, eng Engine, instanceID, orchestration string, input any) (*WorkflowInstance, error) {
	return eng.StartInstance(ctx, instanceID, orchestration, input)
}

// RaiseEvent delivers a named external event to a waiting instance, or
// buffers it until the instance registers a matching wait.
func RaiseEvent(ctx context.Context, eng Engine, instanceID, eventName string, payload any) error {
	return eng.RaiseEvent(ctx, instanceID, eventName, payload)
}

// GetStatus fetches an instance snapshot by ID.
func GetStatus(ctx context.Context, eng Engine, instanceID string) (*WorkflowInstance, error) {
	return eng.GetStatus(ctx, instanceID)
}

// ListInstances lists orchestration instances according to the given options.
func ListInstances(ctx context.Context, eng Engine, opts InstanceListOptions) ([]*WorkflowInstance, error) {
	return eng.ListInstances(ctx, opts)
}

// History returns an instance's full event log in sequence order.
func History(ctx context.Context, eng Engine, instanceID string) ([]HistoryEvent, error) {
	return eng.History(ctx, instanceID)
}

// RecoverInstances delegates to eng.RecoverInstances.
//
// It is typically called on process startup before serving traffic:
//
//	count, err := orka.RecoverInstances(ctx, engine)
func RecoverInstances(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverInstances(ctx)
}
