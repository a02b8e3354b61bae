package orka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mlaakso/orka/internal/engine"
	"github.com/mlaakso/orka/internal/persistence"
	"github.com/mlaakso/orka/internal/taskqueue"
	"github.com/mlaakso/orka/pkg/api"
	"github.com/mlaakso/orka/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a
// Worker pool to provide a simple local runtime for development and tests.
//
// Typical usage:
//
//	runner := orka.NewLocalRunner(2)
//	// register orchestrations and activities on runner.Engine
//	runner.Start(ctx)
//	defer runner.Stop()
//
//	_, _ = runner.Engine.StartInstance(ctx, "id-1", "MyWorkflow", input)
//	inst, err := runner.WaitForStatus(ctx, "id-1", orka.StatusWaiting, time.Second)
//
// LocalRunner is intentionally not crash-durable.
type LocalRunner struct {
	// Engine is the in-memory engine used by this runner. Scheduled
	// activities are dispatched to Queue rather than run inline.
	Engine Engine

	// Queue is the in-memory task queue consumed by Worker.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	running bool
}

// NewLocalRunner constructs a LocalRunner with the given worker concurrency.
func NewLocalRunner(concurrency int) *LocalRunner {
	q := taskqueue.NewInMemoryQueue(1024)
	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.NewInMemoryStore().Bundle(),
		Queue:       q,
	})
	w := worker.New(eng, q, worker.Config{Concurrency: concurrency})

	return &LocalRunner{Engine: eng, Queue: q, Worker: w}
}

// Start launches the worker pool. Calling Start twice without Stop is an error.
func (r *LocalRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("orka: LocalRunner already started")
	}
	r.running = true
	r.Worker.Start(ctx)
	return nil
}

// Stop shuts the worker pool down and waits for in-flight tasks to finish.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()
	r.Worker.Stop()
}

// WaitForStatus polls until the instance reaches the given status or the
// timeout elapses. Useful in tests driving async execution.
func (r *LocalRunner) WaitForStatus(ctx context.Context, instanceID string, status Status, timeout time.Duration) (*WorkflowInstance, error) {
	deadline := time.Now().Add(timeout)
	for {
		inst, err := r.Engine.GetStatus(ctx, instanceID)
		if err != nil && !errors.Is(err, api.ErrInstanceNotFound) {
			return nil, err
		}
		if err == nil {
			if inst.Status == status {
				return inst, nil
			}
			if inst.Status.Terminal() && status != inst.Status {
				return inst, fmt.Errorf("instance %s reached terminal status %s while waiting for %s",
					instanceID, inst.Status, status)
			}
		}
		if time.Now().After(deadline) {
			return inst, fmt.Errorf("timed out waiting for instance %s to reach %s", instanceID, status)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
