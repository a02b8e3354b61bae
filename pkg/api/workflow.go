package api

import (
	"context"
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusWaiting   Status = "WAITING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether s is a terminal status. Terminal instances are
// never resumed and never accept external events.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OrchestratorFunc is the control-flow program of a workflow. It is
// re-executed from scratch on every resume against the instance's recorded
// history, so it must be deterministic: no wall-clock reads, no randomness,
// no direct I/O. Every side effect goes through ctx.CallActivity, and every
// external input through ctx.WaitForEvent.
type OrchestratorFunc func(ctx *OrchestrationContext) (any, error)

// ActivityFunc is a single unit of side-effecting work invoked by a worker.
// Activities may run at-least-once under failure and retry, so they should
// be idempotent where that matters.
type ActivityFunc func(ctx context.Context, input any) (any, error)

// OrchestrationDefinition binds an orchestration type name to its program.
type OrchestrationDefinition struct {
	Name string
	Fn   OrchestratorFunc
}

// ActivityDefinition binds an activity name to its implementation.
// Retry, if set, controls how transient failures are retried before the
// failure is recorded into history.
type ActivityDefinition struct {
	Name  string
	Fn    ActivityFunc
	Retry *RetryPolicy
}

// WorkflowInstance is a snapshot of one durably tracked orchestration run.
type WorkflowInstance struct {
	ID       string
	Workflow string
	Status   Status
	Input    any
	Output   any
	Err      error

	CreatedAt   time.Time
	CompletedAt time.Time
}

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	// Workflow, if non-empty, limits results to instances of the given
	// orchestration type.
	Workflow string

	// Status, if non-empty, limits results to instances with the given status.
	Status Status
}

// RetryPolicy controls how an activity is retried when it fails with a
// transient error. MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// InitialBackoff is the delay before the first retry; each subsequent delay
// is multiplied by BackoffMultiplier (default 2.0) and capped at MaxBackoff
// if that is set. Permanent failures are never retried regardless of policy.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NextBackoff returns the delay to apply after the given 1-based failed
// attempt, honoring the multiplier and cap.
func (p *RetryPolicy) NextBackoff(attempt int) time.Duration {
	if p == nil || p.InitialBackoff <= 0 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxBackoff > 0 && d > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
