package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mlaakso/orka/internal/taskqueue"
	"github.com/mlaakso/orka/pkg/api"
)

// Config controls a worker pool.
type Config struct {
	// Concurrency is the number of goroutines pulling tasks. Defaults to 1.
	Concurrency int
	// MaxAttempts bounds retries for transient activity failures when the
	// activity has no retry policy of its own. Defaults to 3.
	MaxAttempts int
	// RetryBackoff is the base delay before a failed task is retried when
	// the activity has no retry policy. Defaults to 500ms.
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

// retryPolicySource is implemented by engines that expose per-activity retry
// policies. The worker uses it when available; otherwise Config applies.
type retryPolicySource interface {
	ActivityRetryPolicy(activity string) *api.RetryPolicy
}

// Worker pulls activity tasks from a queue, executes them through the engine
// and records results back into instance history. Transient failures are
// requeued with backoff until the attempt budget is exhausted.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	cfg    Config
	log    *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Worker{engine: engine, queue: queue, cfg: cfg, log: log}
}

// Start launches the worker goroutines. They run until Stop is called or the
// context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Stop signals all workers and waits for in-flight tasks to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(ctx, *task)
	}
}

func (w *Worker) process(ctx context.Context, task taskqueue.Task) {
	attempt := task.Attempt + 1

	result, err := w.engine.ExecuteActivity(ctx, api.ActivityTask{
		InstanceID: task.InstanceID,
		TaskID:     task.TaskID,
		Activity:   task.Activity,
		Input:      task.Input,
		Attempt:    attempt,
	})

	if err == nil {
		w.record(ctx, task, result, nil)
		return
	}

	if api.IsPermanent(err) {
		w.log.Warn("activity failed permanently",
			"instance_id", task.InstanceID,
			"activity", task.Activity,
			"error", err)
		w.record(ctx, task, nil, err)
		return
	}

	if attempt >= w.maxAttempts(task.Activity) {
		w.log.Warn("activity failed after retries",
			"instance_id", task.InstanceID,
			"activity", task.Activity,
			"attempts", attempt,
			"error", err)
		w.record(ctx, task, nil, err)
		return
	}

	task.Attempt = attempt
	task.NotBefore = time.Now().Add(w.backoff(task.Activity, attempt))
	if qErr := w.queue.Enqueue(ctx, task); qErr != nil {
		w.log.Error("requeue failed",
			"instance_id", task.InstanceID,
			"activity", task.Activity,
			"error", qErr)
		w.record(ctx, task, nil, err)
	}
}

const (
	recordAttempts = 5
	recordBackoff  = 200 * time.Millisecond
)

func (w *Worker) record(ctx context.Context, task taskqueue.Task, result any, actErr error) {
	// The task has already been removed from the durable queue, so a dropped
	// result here strands the instance until the next recovery pass. Transient
	// store errors are retried before giving up.
	var err error
	for attempt := 0; attempt < recordAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(recordBackoff):
			}
		}
		err = w.engine.RecordActivityResult(ctx, task.InstanceID, task.TaskID, task.Activity, result, actErr)
		if err == nil {
			return
		}
		// Duplicate deliveries resolve against history; a task whose result is
		// already recorded, or whose instance has since terminated, is dropped.
		if errors.Is(err, api.ErrTaskResolved) || errors.Is(err, api.ErrInstanceTerminal) || errors.Is(err, api.ErrInstanceNotFound) {
			w.log.Debug("dropping stale task result",
				"instance_id", task.InstanceID,
				"task_id", task.TaskID,
				"reason", err)
			return
		}
		if ctx.Err() != nil {
			break
		}
	}
	w.log.Error("recording activity result failed",
		"instance_id", task.InstanceID,
		"task_id", task.TaskID,
		"error", err)
}

func (w *Worker) maxAttempts(activity string) int {
	if src, ok := w.engine.(retryPolicySource); ok {
		if p := src.ActivityRetryPolicy(activity); p != nil && p.MaxAttempts > 0 {
			return p.MaxAttempts
		}
	}
	return w.cfg.MaxAttempts
}

func (w *Worker) backoff(activity string, attempt int) time.Duration {
	if src, ok := w.engine.(retryPolicySource); ok {
		if p := src.ActivityRetryPolicy(activity); p != nil {
			return p.NextBackoff(attempt)
		}
	}
	return w.cfg.RetryBackoff
}
