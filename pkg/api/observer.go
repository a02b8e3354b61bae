package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay scheduling.
type Observer interface {
	// OnInstanceStarted is called once when an instance is created, before
	// its first execution pass.
	OnInstanceStarted(ctx context.Context, inst *WorkflowInstance)

	// OnInstanceCompleted is called when an instance reaches StatusCompleted.
	OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance)

	// OnInstanceFailed is called when an instance transitions to StatusFailed.
	OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error)

	// OnActivityScheduled is called when a new activity.scheduled event is
	// appended to history.
	OnActivityScheduled(ctx context.Context, inst *WorkflowInstance, task ActivityTask)

	// OnActivityCompleted is called after an activity result is recorded,
	// for both successes and failures (err != nil).
	OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, task ActivityTask, err error, duration time.Duration)

	// OnEventReceived is called when an external event is correlated to a
	// waiting instance (not when it is merely buffered).
	OnEventReceived(ctx context.Context, inst *WorkflowInstance, eventName string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance)             {}
func (NoopObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance)           {}
func (NoopObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error)   {}
func (NoopObserver) OnActivityScheduled(ctx context.Context, inst *WorkflowInstance, task ActivityTask) {
}
func (NoopObserver) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, task ActivityTask, err error, d time.Duration) {
}
func (NoopObserver) OnEventReceived(ctx context.Context, inst *WorkflowInstance, eventName string) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnActivityScheduled(ctx context.Context, inst *WorkflowInstance, task ActivityTask) {
	for _, o := range c.observers {
		o.OnActivityScheduled(ctx, inst, task)
	}
}

func (c *CompositeObserver) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, task ActivityTask, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityCompleted(ctx, inst, task, err, d)
	}
}

func (c *CompositeObserver) OnEventReceived(ctx context.Context, inst *WorkflowInstance, eventName string) {
	for _, o := range c.observers {
		o.OnEventReceived(ctx, inst, eventName)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance / activity
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "instance_started",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "instance_completed",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	o.Logger.ErrorContext(ctx, "instance_failed",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnActivityScheduled(ctx context.Context, inst *WorkflowInstance, task ActivityTask) {
	o.Logger.DebugContext(ctx, "activity_scheduled",
		slog.String("instance_id", inst.ID),
		slog.String("activity", task.Activity),
		slog.Int("task_id", task.TaskID),
	)
}

func (o *LoggingObserver) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, task ActivityTask, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "activity_completed",
		slog.String("instance_id", inst.ID),
		slog.String("activity", task.Activity),
		slog.Int("task_id", task.TaskID),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnEventReceived(ctx context.Context, inst *WorkflowInstance, eventName string) {
	o.Logger.InfoContext(ctx, "event_received",
		slog.String("instance_id", inst.ID),
		slog.String("event", eventName),
	)
}

// BasicMetrics collects simple counters and aggregate activity durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesStarted   atomic.Int64
	instancesCompleted atomic.Int64
	instancesFailed    atomic.Int64
	activitiesDone     atomic.Int64
	totalActivityNanos atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted   int64
	InstancesCompleted int64
	InstancesFailed    int64
	InFlightInstances  int64

	ActivitiesCompleted int64
	AvgActivityDuration time.Duration
}

func (m *BasicMetrics) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance) {
	m.instancesStarted.Add(1)
}

func (m *BasicMetrics) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	m.instancesCompleted.Add(1)
}

func (m *BasicMetrics) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	m.instancesFailed.Add(1)
}

func (m *BasicMetrics) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, task ActivityTask, err error, d time.Duration) {
	// Only count successful activities for average duration.
	if err == nil {
		m.activitiesDone.Add(1)
		m.totalActivityNanos.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.instancesStarted.Load()
	completed := m.instancesCompleted.Load()
	failed := m.instancesFailed.Load()
	done := m.activitiesDone.Load()
	totalNs := m.totalActivityNanos.Load()

	var avg time.Duration
	if done > 0 {
		avg = time.Duration(totalNs / done)
	}

	return BasicMetricsSnapshot{
		InstancesStarted:    started,
		InstancesCompleted:  completed,
		InstancesFailed:     failed,
		InFlightInstances:   started - completed - failed,
		ActivitiesCompleted: done,
		AvgActivityDuration: avg,
	}
}
