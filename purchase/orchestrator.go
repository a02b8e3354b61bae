package purchase

import (
	"encoding/gob"
	"fmt"
	"time"

	"github.com/mlaakso/orka/pkg/api"
)

// WorkflowName is the orchestration type registered with the engine.
const WorkflowName = "PurchaseOrderApproval"

// EventApprovalResponse is the external event the workflow suspends on while
// waiting for the approver's decision.
const EventApprovalResponse = "ApprovalResponse"

// Result is the workflow output on completion.
type Result struct {
	OrderID          string
	ValidationResult string
	ApprovalResult   string
	UserAction       string
	FinalStatus      string
}

func init() {
	gob.Register(Order{})
	gob.Register(NotifyRequest{})
	gob.Register(RecordRequest{})
	gob.Register(Result{})
}

// Orchestrator is the purchase-order approval program. It is replayed from
// scratch on every resume, so it performs no I/O and reads no clock or
// randomness; every side effect goes through CallActivity or WaitForEvent.
func Orchestrator(octx *api.OrchestrationContext) (any, error) {
	order, ok := octx.Input().(Order)
	if !ok {
		return nil, fmt.Errorf("input is %T, want purchase.Order", octx.Input())
	}

	validation, err := octx.CallActivity(ActivityValidateOrder, order)
	if err != nil {
		return nil, err
	}

	tier, err := octx.CallActivity(ActivityScoreApproval, order)
	if err != nil {
		return nil, err
	}

	_, err = octx.CallActivity(ActivityNotifyApprover, NotifyRequest{
		InstanceID: octx.InstanceID(),
		Order:      order,
		Tier:       asString(tier),
	})
	if err != nil {
		return nil, err
	}

	decision, err := octx.WaitForEvent(EventApprovalResponse)
	if err != nil {
		return nil, err
	}
	action := decisionAction(decision)

	final, err := octx.CallActivity(ActivityRecordFinalStatus, RecordRequest{
		OrderID: order.OrderID,
		Status:  action,
	})
	if err != nil {
		return nil, err
	}

	return Result{
		OrderID:          order.OrderID,
		ValidationResult: asString(validation),
		ApprovalResult:   asString(tier),
		UserAction:       action,
		FinalStatus:      asString(final),
	}, nil
}

// decisionAction extracts the approver's action from the event payload. The
// action value is passed through verbatim; no whitelist is applied here.
func decisionAction(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case map[string]any:
		if action, ok := v["action"].(string); ok {
			return action
		}
	}
	return fmt.Sprint(payload)
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Register wires the orchestration and its four activities into an engine.
// NotifyApprover gets a retry policy since notification delivery is the one
// activity whose failures are expected to be transient.
func Register(engine api.Engine, acts *Activities) error {
	err := engine.RegisterOrchestration(api.OrchestrationDefinition{
		Name: WorkflowName,
		Fn:   Orchestrator,
	})
	if err != nil {
		return err
	}

	defs := []api.ActivityDefinition{
		{Name: ActivityValidateOrder, Fn: acts.ValidateOrder},
		{Name: ActivityScoreApproval, Fn: acts.ScoreApproval},
		{Name: ActivityNotifyApprover, Fn: acts.NotifyApprover, Retry: &api.RetryPolicy{
			MaxAttempts:       3,
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2,
		}},
		{Name: ActivityRecordFinalStatus, Fn: acts.RecordFinalStatus},
	}
	for _, def := range defs {
		if err := engine.RegisterActivity(def); err != nil {
			return err
		}
	}
	return nil
}
