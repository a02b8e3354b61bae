package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mlaakso/orka/pkg/api"
)

// Activity names registered with the engine.
const (
	ActivityValidateOrder     = "ValidateOrder"
	ActivityScoreApproval     = "ScoreApproval"
	ActivityNotifyApprover    = "NotifyApprover"
	ActivityRecordFinalStatus = "RecordFinalStatus"
)

// NotifyRequest is the NotifyApprover input. It carries the instance ID so
// the notification can reference where the approval decision should be sent.
type NotifyRequest struct {
	InstanceID string
	Order      Order
	Tier       string
}

// RecordRequest is the RecordFinalStatus input.
type RecordRequest struct {
	OrderID string
	Status  string
}

// Notifier delivers an approval request to a human approver.
type Notifier interface {
	Notify(ctx context.Context, req NotifyRequest) (string, error)
}

// OrderStore persists final order statuses outside the workflow engine.
type OrderStore interface {
	SetStatus(ctx context.Context, orderID, status string) error
	GetStatus(ctx context.Context, orderID string) (string, bool, error)
}

// Activities holds the four workflow activities and their dependencies.
// Validator and Scorer are pluggable so thresholds can change without
// touching orchestration logic.
type Activities struct {
	Validate Validator
	Score    Scorer
	Notifier Notifier
	Orders   OrderStore
}

// NewActivities wires the default validator and scorer to the given notifier
// and order store.
func NewActivities(notifier Notifier, orders OrderStore) *Activities {
	return &Activities{
		Validate: DefaultValidator,
		Score:    DefaultScorer,
		Notifier: notifier,
		Orders:   orders,
	}
}

// ValidateOrder checks the order against the validator. Violations are
// permanent failures: the input is defective and retrying cannot fix it.
func (a *Activities) ValidateOrder(ctx context.Context, input any) (any, error) {
	order, err := orderInput(ActivityValidateOrder, input)
	if err != nil {
		return nil, err
	}
	if violations := a.Validate(order); len(violations) > 0 {
		return nil, api.NewValidationError(ActivityValidateOrder, strings.Join(violations, "; "))
	}
	return "Validated", nil
}

// ScoreApproval maps the order amount to an approval tier. It never fails;
// an unparseable amount scores as zero.
func (a *Activities) ScoreApproval(ctx context.Context, input any) (any, error) {
	order, err := orderInput(ActivityScoreApproval, input)
	if err != nil {
		return nil, err
	}
	return a.Score(ParseAmount(order.Amount)), nil
}

// NotifyApprover sends the approval request. Delivery errors are transient
// and retried by the engine; a duplicate notification under retry is
// acceptable.
func (a *Activities) NotifyApprover(ctx context.Context, input any) (any, error) {
	req, ok := input.(NotifyRequest)
	if !ok {
		return nil, api.NewValidationError(ActivityNotifyApprover,
			fmt.Sprintf("unexpected input type %T", input))
	}
	return a.Notifier.Notify(ctx, req)
}

// RecordFinalStatus writes the approver's decision to the order store.
func (a *Activities) RecordFinalStatus(ctx context.Context, input any) (any, error) {
	req, ok := input.(RecordRequest)
	if !ok {
		return nil, api.NewValidationError(ActivityRecordFinalStatus,
			fmt.Sprintf("unexpected input type %T", input))
	}
	if err := a.Orders.SetStatus(ctx, req.OrderID, req.Status); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Order %s marked %s", req.OrderID, req.Status), nil
}

func orderInput(activity string, input any) (Order, error) {
	order, ok := input.(Order)
	if !ok {
		return Order{}, api.NewValidationError(activity,
			fmt.Sprintf("unexpected input type %T", input))
	}
	return order, nil
}

// LogNotifier writes approval requests to a structured log. It stands in for
// a real delivery channel such as email.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, req NotifyRequest) (string, error) {
	log := n.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("approval request",
		"instance_id", req.InstanceID,
		"order_id", req.Order.OrderID,
		"tier", req.Tier,
		"amount", req.Order.Amount)
	return fmt.Sprintf("Approver notified for order %s (%s)", req.Order.OrderID, req.Tier), nil
}

// MemoryOrderStore is an in-memory OrderStore for tests and examples.
type MemoryOrderStore struct {
	mu       sync.RWMutex
	statuses map[string]string
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{statuses: make(map[string]string)}
}

func (s *MemoryOrderStore) SetStatus(ctx context.Context, orderID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[orderID] = status
	return nil
}

func (s *MemoryOrderStore) GetStatus(ctx context.Context, orderID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[orderID]
	return status, ok, nil
}
