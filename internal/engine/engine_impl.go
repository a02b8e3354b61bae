package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mlaakso/orka/internal/persistence"
	"github.com/mlaakso/orka/internal/taskqueue"
	"github.com/mlaakso/orka/pkg/api"
)

// engineImpl is the orchestration scheduler. Each instance's history is the
// sole shared mutable state; a per-instance lock serializes every append and
// resume so sequence numbers are assigned exactly once and the orchestrator
// never runs two control-flow passes concurrently for the same instance.
// Across instances, execution is fully parallel.
type engineImpl struct {
	store    persistence.Persistence
	queue    taskqueue.Queue // nil: activities run inline during resume
	registry *registry
	observer api.Observer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Persistence persistence.Persistence
	// Queue, if set, receives scheduled activity tasks for workers to
	// process. If nil, the engine executes activities inline during the
	// resume pass that scheduled them.
	Queue    taskqueue.Queue
	Observer api.Observer
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &engineImpl{
		store:    cfg.Persistence,
		queue:    cfg.Queue,
		registry: newRegistry(),
		observer: obs,
		locks:    make(map[string]*sync.Mutex),
	}
}

// NewEngine returns an Engine backed by the given persistence bundle with
// inline activity execution.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{Persistence: p})
}

func NewInMemoryEngine() api.Engine {
	return NewEngine(persistence.NewInMemoryStore().Bundle())
}

func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: persistence.NewInMemoryStore().Bundle(),
		Observer:    obs,
	})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	p, err := sqlitePersistence(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Persistence: p, Observer: obs}), nil
}

// NewSQLiteEngineWithQueue builds a SQLite-backed engine that dispatches
// activity tasks to the given queue instead of running them inline.
func NewSQLiteEngineWithQueue(db *sql.DB, q taskqueue.Queue, obs api.Observer) (api.Engine, error) {
	p, err := sqlitePersistence(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Persistence: p, Queue: q, Observer: obs}), nil
}

func sqlitePersistence(db *sql.DB) (persistence.Persistence, error) {
	inst, err := persistence.NewSQLiteInstanceStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	hist, err := persistence.NewSQLiteHistoryStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	return persistence.Persistence{Instances: inst, History: hist, Events: events}, nil
}

func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	return NewPostgresEngineWithObserver(db, nil)
}

func NewPostgresEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	inst, err := persistence.NewPostgresInstanceStore(db)
	if err != nil {
		return nil, err
	}
	hist, err := persistence.NewPostgresHistoryStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewPostgresEventStore(db)
	if err != nil {
		return nil, err
	}
	p := persistence.Persistence{Instances: inst, History: hist, Events: events}
	return NewEngineWithConfig(Config{Persistence: p, Observer: obs}), nil
}

// NewRedisEngine creates an engine that uses Redis for instance, history and
// event persistence.
func NewRedisEngine(client *redis.Client) api.Engine {
	return NewRedisEngineWithObserver(client, nil)
}

func NewRedisEngineWithObserver(client *redis.Client, obs api.Observer) api.Engine {
	store := persistence.NewRedisStore(client, "orka:")
	return NewEngineWithConfig(Config{Persistence: store.Bundle(), Observer: obs})
}

func (e *engineImpl) RegisterOrchestration(def api.OrchestrationDefinition) error {
	return e.registry.RegisterOrchestration(def)
}

func (e *engineImpl) RegisterActivity(def api.ActivityDefinition) error {
	return e.registry.RegisterActivity(def)
}

// instanceLock returns the mutex serializing all history appends and resume
// passes for one instance.
func (e *engineImpl) instanceLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

func (e *engineImpl) StartInstance(ctx context.Context, instanceID, orchestration string, input any) (*api.WorkflowInstance, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instance ID is required")
	}
	if _, err := e.registry.Orchestration(orchestration); err != nil {
		return nil, err
	}

	lock := e.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst := &api.WorkflowInstance{
		ID:        instanceID,
		Workflow:  orchestration,
		Status:    api.StatusPending,
		Input:     input,
		CreatedAt: time.Now(),
	}

	if err := e.store.Instances.CreateInstance(inst); err != nil {
		if errors.Is(err, persistence.ErrDuplicateInstance) {
			return nil, fmt.Errorf("%w: %s", api.ErrDuplicateInstance, instanceID)
		}
		return nil, err
	}

	e.observer.OnInstanceStarted(ctx, inst)

	started := api.HistoryEvent{
		Sequence: 0,
		Kind:     api.EventOrchestrationStarted,
		At:       time.Now(),
		TaskID:   -1,
		Payload:  input,
	}
	if err := e.store.History.AppendEvents(ctx, instanceID, []api.HistoryEvent{started}); err != nil {
		return nil, err
	}

	return e.resumeLocked(ctx, inst)
}

func (e *engineImpl) ResumeInstance(ctx context.Context, instanceID string) (*api.WorkflowInstance, error) {
	lock := e.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.getInstanceLocked(instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status.Terminal() {
		return inst, nil
	}

	return e.resumeLocked(ctx, inst)
}

func (e *engineImpl) RaiseEvent(ctx context.Context, instanceID, eventName string, payload any) error {
	lock := e.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.getInstanceLocked(instanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return fmt.Errorf("%w: %s", api.ErrInstanceTerminal, instanceID)
	}

	removed, err := e.store.Events.RemoveWaiter(ctx, instanceID, eventName)
	if err != nil {
		return err
	}

	if !removed {
		// The orchestration has not reached its wait point yet: buffer the
		// event for the first future waiter with this name.
		return e.store.Events.BufferEvent(ctx, instanceID, eventName, payload)
	}

	if err := e.appendEventReceived(ctx, inst, eventName, payload); err != nil {
		return err
	}

	_, err = e.resumeLocked(ctx, inst)
	return err
}

func (e *engineImpl) GetStatus(ctx context.Context, instanceID string) (*api.WorkflowInstance, error) {
	inst, err := e.store.Instances.GetInstance(instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, instanceID)
		}
		return nil, err
	}
	return inst, nil
}

func (e *engineImpl) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.WorkflowInstance, error) {
	filter := persistence.InstanceFilter{
		Workflow: opts.Workflow,
		Status:   opts.Status,
	}
	return e.store.Instances.ListInstances(filter)
}

func (e *engineImpl) History(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	if _, err := e.GetStatus(ctx, instanceID); err != nil {
		return nil, err
	}
	return e.store.History.ListEvents(ctx, instanceID)
}

func (e *engineImpl) ExecuteActivity(ctx context.Context, task api.ActivityTask) (any, error) {
	def, err := e.registry.Activity(task.Activity)
	if err != nil {
		return nil, err
	}
	return def.Fn(ctx, task.Input)
}

// ActivityRetryPolicy returns the registered retry policy for an activity,
// or nil. Workers use it to decide requeue behavior.
func (e *engineImpl) ActivityRetryPolicy(activity string) *api.RetryPolicy {
	def, err := e.registry.Activity(activity)
	if err != nil {
		return nil
	}
	return def.Retry
}

func (e *engineImpl) RecordActivityResult(ctx context.Context, instanceID string, taskID int, activity string, result any, actErr error) error {
	lock := e.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.getInstanceLocked(instanceID)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return fmt.Errorf("%w: %s", api.ErrInstanceTerminal, instanceID)
	}

	history, err := e.store.History.ListEvents(ctx, instanceID)
	if err != nil {
		return err
	}
	if taskResolved(history, taskID) {
		return fmt.Errorf("%w: task %d of instance %s", api.ErrTaskResolved, taskID, instanceID)
	}

	ev := api.HistoryEvent{
		Sequence: int64(len(history)),
		At:       time.Now(),
		TaskID:   taskID,
		Activity: activity,
	}
	if actErr != nil {
		ev.Kind = api.EventActivityFailed
		ev.Error = actErr.Error()
	} else {
		ev.Kind = api.EventActivityCompleted
		ev.Payload = result
	}
	if err := e.store.History.AppendEvents(ctx, instanceID, []api.HistoryEvent{ev}); err != nil {
		return err
	}

	task := api.ActivityTask{InstanceID: instanceID, TaskID: taskID, Activity: activity}
	e.observer.OnActivityCompleted(ctx, inst, task, actErr, 0)

	_, err = e.resumeLocked(ctx, inst)
	return err
}

func (e *engineImpl) RecoverInstances(ctx context.Context) (int, error) {
	instances, err := e.store.Instances.ListInstances(persistence.InstanceFilter{})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, snapshot := range instances {
		if snapshot.Status.Terminal() {
			continue
		}

		lock := e.instanceLock(snapshot.ID)
		lock.Lock()

		inst, err := e.getInstanceLocked(snapshot.ID)
		if err != nil {
			lock.Unlock()
			return count, err
		}

		history, err := e.store.History.ListEvents(ctx, inst.ID)
		if err != nil {
			lock.Unlock()
			return count, err
		}

		outstanding := outstandingTasks(inst.ID, history)

		if e.queue != nil {
			// At-least-once: the queued task may have been lost with the
			// process, so dispatch again and let history de-duplicate.
			for _, task := range outstanding {
				if err := e.dispatch(ctx, task); err != nil {
					lock.Unlock()
					return count, err
				}
			}
			if len(outstanding) == 0 {
				if _, err := e.resumeLocked(ctx, inst); err != nil {
					lock.Unlock()
					return count, err
				}
			}
		} else {
			for _, task := range outstanding {
				if err := e.executeAndRecordLocked(ctx, inst, task); err != nil {
					lock.Unlock()
					return count, err
				}
			}
			if _, err := e.resumeLocked(ctx, inst); err != nil {
				lock.Unlock()
				return count, err
			}
		}

		lock.Unlock()
		count++
	}

	return count, nil
}

func (e *engineImpl) getInstanceLocked(instanceID string) (*api.WorkflowInstance, error) {
	inst, err := e.store.Instances.GetInstance(instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, instanceID)
		}
		return nil, err
	}
	return inst, nil
}

// resumeLocked drives the instance forward until it parks or terminates.
// The caller holds the instance lock. Each pass rebuilds the orchestrator's
// state purely from history; nothing in-memory survives between passes.
func (e *engineImpl) resumeLocked(ctx context.Context, inst *api.WorkflowInstance) (*api.WorkflowInstance, error) {
	def, err := e.registry.Orchestration(inst.Workflow)
	if err != nil {
		return nil, err
	}

	for {
		history, err := e.store.History.ListEvents(ctx, inst.ID)
		if err != nil {
			return nil, err
		}

		octx := api.NewOrchestrationContext(inst.ID, inst.Input, history)
		output, err := runOrchestrator(octx, def.Fn, inst.ID)

		if err == nil {
			return e.completeLocked(ctx, inst, int64(len(history)), output)
		}

		susp, suspended := api.AsSuspension(err)
		if !suspended {
			// Activity failure that reached the orchestrator, or a
			// determinism fault: one terminal outcome, recorded in history.
			return e.failLocked(ctx, inst, int64(len(history)), err)
		}

		switch {
		case susp.Schedule != nil:
			task := *susp.Schedule
			ev := api.HistoryEvent{
				Sequence: int64(len(history)),
				Kind:     api.EventActivityScheduled,
				At:       time.Now(),
				TaskID:   task.TaskID,
				Activity: task.Activity,
				Payload:  task.Input,
			}
			if err := e.store.History.AppendEvents(ctx, inst.ID, []api.HistoryEvent{ev}); err != nil {
				return nil, err
			}
			if err := e.setStatusLocked(inst, api.StatusRunning); err != nil {
				return nil, err
			}
			e.observer.OnActivityScheduled(ctx, inst, task)

			if e.queue != nil {
				if err := e.dispatch(ctx, task); err != nil {
					return nil, err
				}
				return inst, nil
			}

			if err := e.executeAndRecordLocked(ctx, inst, task); err != nil {
				return nil, err
			}
			continue

		case susp.WaitEvent != "":
			payload, ok, err := e.store.Events.TakeBufferedEvent(ctx, inst.ID, susp.WaitEvent)
			if err != nil {
				return nil, err
			}
			if ok {
				// The event arrived before the wait was registered; deliver
				// it without further external input.
				if err := e.appendEventReceived(ctx, inst, susp.WaitEvent, payload); err != nil {
					return nil, err
				}
				continue
			}
			if err := e.store.Events.RegisterWaiter(ctx, inst.ID, susp.WaitEvent); err != nil {
				return nil, err
			}
			if err := e.setStatusLocked(inst, api.StatusWaiting); err != nil {
				return nil, err
			}
			return inst, nil

		default:
			// A previously scheduled activity is still outstanding; nothing
			// new to persist and the task must not be dispatched again.
			if err := e.setStatusLocked(inst, api.StatusRunning); err != nil {
				return nil, err
			}
			return inst, nil
		}
	}
}

// executeAndRecordLocked runs one activity inline (with its retry policy)
// and appends the result to history. Used when no task queue is configured.
func (e *engineImpl) executeAndRecordLocked(ctx context.Context, inst *api.WorkflowInstance, task api.ActivityTask) error {
	def, err := e.registry.Activity(task.Activity)
	if err != nil {
		return err
	}

	start := time.Now()
	result, actErr := runActivityWithRetry(ctx, def, task.Input)
	duration := time.Since(start)

	history, err := e.store.History.ListEvents(ctx, inst.ID)
	if err != nil {
		return err
	}

	ev := api.HistoryEvent{
		Sequence: int64(len(history)),
		At:       time.Now(),
		TaskID:   task.TaskID,
		Activity: task.Activity,
	}
	if actErr != nil {
		ev.Kind = api.EventActivityFailed
		ev.Error = actErr.Error()
	} else {
		ev.Kind = api.EventActivityCompleted
		ev.Payload = result
	}
	if err := e.store.History.AppendEvents(ctx, inst.ID, []api.HistoryEvent{ev}); err != nil {
		return err
	}

	e.observer.OnActivityCompleted(ctx, inst, task, actErr, duration)
	return nil
}

func (e *engineImpl) appendEventReceived(ctx context.Context, inst *api.WorkflowInstance, eventName string, payload any) error {
	history, err := e.store.History.ListEvents(ctx, inst.ID)
	if err != nil {
		return err
	}
	ev := api.HistoryEvent{
		Sequence:  int64(len(history)),
		Kind:      api.EventExternalReceived,
		At:        time.Now(),
		TaskID:    -1,
		EventName: eventName,
		Payload:   payload,
	}
	if err := e.store.History.AppendEvents(ctx, inst.ID, []api.HistoryEvent{ev}); err != nil {
		return err
	}
	e.observer.OnEventReceived(ctx, inst, eventName)
	return nil
}

func (e *engineImpl) completeLocked(ctx context.Context, inst *api.WorkflowInstance, seq int64, output any) (*api.WorkflowInstance, error) {
	ev := api.HistoryEvent{
		Sequence: seq,
		Kind:     api.EventOrchestrationCompleted,
		At:       time.Now(),
		TaskID:   -1,
		Payload:  output,
	}
	if err := e.store.History.AppendEvents(ctx, inst.ID, []api.HistoryEvent{ev}); err != nil {
		return nil, err
	}

	inst.Status = api.StatusCompleted
	inst.Output = output
	inst.CompletedAt = time.Now()
	if err := e.store.Instances.UpdateInstance(inst); err != nil {
		return nil, err
	}

	e.observer.OnInstanceCompleted(ctx, inst)
	return inst, nil
}

func (e *engineImpl) failLocked(ctx context.Context, inst *api.WorkflowInstance, seq int64, cause error) (*api.WorkflowInstance, error) {
	ev := api.HistoryEvent{
		Sequence: seq,
		Kind:     api.EventOrchestrationCompleted,
		At:       time.Now(),
		TaskID:   -1,
		Error:    cause.Error(),
	}
	if err := e.store.History.AppendEvents(ctx, inst.ID, []api.HistoryEvent{ev}); err != nil {
		return nil, err
	}

	inst.Status = api.StatusFailed
	inst.Err = cause
	inst.Output = cause.Error()
	inst.CompletedAt = time.Now()
	if err := e.store.Instances.UpdateInstance(inst); err != nil {
		return nil, err
	}

	e.observer.OnInstanceFailed(ctx, inst, cause)
	return inst, nil
}

func (e *engineImpl) setStatusLocked(inst *api.WorkflowInstance, status api.Status) error {
	if inst.Status == status {
		return nil
	}
	inst.Status = status
	return e.store.Instances.UpdateInstance(inst)
}

func (e *engineImpl) dispatch(ctx context.Context, task api.ActivityTask) error {
	return e.queue.Enqueue(ctx, taskqueue.Task{
		ID:         uuid.NewString(),
		InstanceID: task.InstanceID,
		TaskID:     task.TaskID,
		Activity:   task.Activity,
		Input:      task.Input,
		Attempt:    task.Attempt,
		EnqueuedAt: time.Now(),
	})
}

// runOrchestrator invokes the orchestration program, converting panics into
// determinism faults instead of letting them crash the hosting process.
func runOrchestrator(octx *api.OrchestrationContext, fn api.OrchestratorFunc, instanceID string) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.FatalError{
				InstanceID: instanceID,
				Detail:     fmt.Sprintf("orchestrator panic: %v", r),
			}
		}
	}()
	return fn(octx)
}

// runActivityWithRetry applies the activity's retry policy to transient
// failures. Permanent failures are returned immediately.
func runActivityWithRetry(ctx context.Context, def api.ActivityDefinition, input any) (any, error) {
	maxAttempts := 1
	if def.Retry != nil && def.Retry.MaxAttempts > 0 {
		maxAttempts = def.Retry.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := def.Fn(ctx, input)
		if err == nil {
			return result, nil
		}
		if api.IsPermanent(err) {
			return nil, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		if delay := def.Retry.NextBackoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, lastErr
}

// taskResolved reports whether history already contains a completion or
// failure for the given task.
func taskResolved(history []api.HistoryEvent, taskID int) bool {
	for i := range history {
		ev := &history[i]
		if ev.TaskID != taskID {
			continue
		}
		if ev.Kind == api.EventActivityCompleted || ev.Kind == api.EventActivityFailed {
			return true
		}
	}
	return false
}

// outstandingTasks returns scheduled activities with no recorded result.
func outstandingTasks(instanceID string, history []api.HistoryEvent) []api.ActivityTask {
	var tasks []api.ActivityTask
	for i := range history {
		ev := &history[i]
		if ev.Kind != api.EventActivityScheduled {
			continue
		}
		if taskResolved(history, ev.TaskID) {
			continue
		}
		tasks = append(tasks, api.ActivityTask{
			InstanceID: instanceID,
			TaskID:     ev.TaskID,
			Activity:   ev.Activity,
			Input:      ev.Payload,
		})
	}
	return tasks
}
