package api

import (
	"errors"
	"fmt"
)

// Suspension is the error an OrchestrationContext returns when the
// orchestrator cannot make progress without more history. It is control
// flow, not a failure: the orchestrator propagates it up, the scheduler
// persists whatever decision it carries, and the instance parks until the
// missing history arrives.
//
// At most one of the fields is set:
//   - Schedule: a new activity invocation to record and dispatch.
//   - WaitEvent: an external event name to register a waiter for.
//   - Neither: a previously scheduled activity is still outstanding;
//     nothing new to persist, and the task must not be re-dispatched.
type Suspension struct {
	Schedule  *ActivityTask
	WaitEvent string
}

func (s *Suspension) Error() string {
	switch {
	case s.Schedule != nil:
		return "suspended: scheduling activity " + s.Schedule.Activity
	case s.WaitEvent != "":
		return "suspended: waiting for event " + s.WaitEvent
	default:
		return "suspended: activity outstanding"
	}
}

// AsSuspension returns the Suspension carried by err, if any.
func AsSuspension(err error) (*Suspension, bool) {
	var s *Suspension
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// OrchestrationContext drives one replay pass of an orchestrator function.
// It feeds recorded results back to the program in deterministic order: the
// N-th CallActivity of a run always resolves against task N of the history,
// and the N-th WaitForEvent for a name consumes the N-th recorded event with
// that name. The context is rebuilt from history on every resume; it holds
// no state that outlives a single pass.
type OrchestrationContext struct {
	instanceID string
	input      any
	history    []HistoryEvent

	nextTask int
	consumed map[string]int
}

// NewOrchestrationContext builds a replay context over the given history.
func NewOrchestrationContext(instanceID string, input any, history []HistoryEvent) *OrchestrationContext {
	return &OrchestrationContext{
		instanceID: instanceID,
		input:      input,
		history:    history,
		consumed:   make(map[string]int),
	}
}

// InstanceID returns the instance's caller-supplied identifier. It is stable
// across replays and therefore safe for the orchestrator to use.
func (c *OrchestrationContext) InstanceID() string {
	return c.instanceID
}

// Input returns the input the instance was started with.
func (c *OrchestrationContext) Input() any {
	return c.input
}

// CallActivity resolves one activity invocation against history.
//
// If the invocation was already completed, the recorded result is returned
// without re-invoking anything. If it was recorded as failed, the recorded
// failure is returned as a permanent ActivityError. If it is scheduled but
// not yet resolved, or not scheduled at all, CallActivity returns a
// Suspension and the orchestrator must unwind.
func (c *OrchestrationContext) CallActivity(name string, input any) (any, error) {
	taskID := c.nextTask
	c.nextTask++

	var scheduled *HistoryEvent
	for i := range c.history {
		ev := &c.history[i]
		if ev.Kind == EventActivityScheduled && ev.TaskID == taskID {
			scheduled = ev
			break
		}
	}

	if scheduled == nil {
		return nil, &Suspension{Schedule: &ActivityTask{
			InstanceID: c.instanceID,
			TaskID:     taskID,
			Activity:   name,
			Input:      input,
		}}
	}

	if scheduled.Activity != name {
		return nil, &FatalError{
			InstanceID: c.instanceID,
			Detail: fmt.Sprintf("history has activity %q at task %d, orchestrator called %q",
				scheduled.Activity, taskID, name),
		}
	}

	for i := range c.history {
		ev := &c.history[i]
		if ev.TaskID != taskID {
			continue
		}
		switch ev.Kind {
		case EventActivityCompleted:
			return ev.Payload, nil
		case EventActivityFailed:
			// Recorded failures have already exhausted any retries.
			return nil, &ActivityError{Activity: ev.Activity, Reason: ev.Error, Permanent: true}
		}
	}

	// Scheduled, not yet resolved: a task is outstanding.
	return nil, &Suspension{}
}

// WaitForEvent resolves one external-event wait against history. If the
// event has already been recorded, its payload is returned; otherwise a
// Suspension requesting a waiter registration is returned.
func (c *OrchestrationContext) WaitForEvent(name string) (any, error) {
	want := c.consumed[name]
	seen := 0
	for i := range c.history {
		ev := &c.history[i]
		if ev.Kind != EventExternalReceived || ev.EventName != name {
			continue
		}
		if seen == want {
			c.consumed[name] = want + 1
			return ev.Payload, nil
		}
		seen++
	}
	return nil, &Suspension{WaitEvent: name}
}
