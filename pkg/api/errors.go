package api

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateInstance is returned by StartInstance when the instance ID
	// already exists, in any status. The existing instance is left untouched.
	ErrDuplicateInstance = errors.New("instance already exists")

	// ErrInstanceNotFound is returned when no instance exists for an ID.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceTerminal is returned when an event is raised against an
	// instance that has already completed or failed.
	ErrInstanceTerminal = errors.New("instance already terminal")

	// ErrTaskResolved is returned by RecordActivityResult when history already
	// holds a result for the task. Duplicate deliveries are expected after a
	// crash-recovery re-dispatch; workers drop them silently.
	ErrTaskResolved = errors.New("task already resolved")
)

// ActivityError is a failure produced by an activity. Permanent failures
// (business-rule violations such as a missing required field) are recorded
// into history immediately and never retried; transient failures are retried
// according to the activity's RetryPolicy first.
type ActivityError struct {
	Activity  string
	Reason    string
	Permanent bool
}

func (e *ActivityError) Error() string {
	if e.Activity == "" {
		return e.Reason
	}
	return e.Activity + ": " + e.Reason
}

// NewValidationError returns a permanent ActivityError for a business-rule
// violation in the given activity.
func NewValidationError(activity, reason string) *ActivityError {
	return &ActivityError{Activity: activity, Reason: reason, Permanent: true}
}

// IsPermanent reports whether err is an ActivityError marked permanent.
func IsPermanent(err error) bool {
	var ae *ActivityError
	return errors.As(err, &ae) && ae.Permanent
}

// FatalError indicates a determinism violation detected during replay, for
// example an orchestrator calling a different activity than the one recorded
// at the same position. It is never retried; the instance is marked FAILED
// and needs operator attention.
type FatalError struct {
	InstanceID string
	Detail     string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("orchestration fatal for instance %s: %s", e.InstanceID, e.Detail)
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
