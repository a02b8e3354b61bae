// Package purchase implements the purchase-order approval workflow: an order
// is validated, scored for an approval tier, an approver is notified, the
// workflow suspends until the approver responds, and the final status is
// recorded in the order store.
package purchase

import "strconv"

// Order is the workflow input. Amount stays a string because it arrives from
// clients unparsed; scoring converts it with ParseAmount.
type Order struct {
	OrderID string
	Status  string
	Details string
	Amount  string
}

// Approval tier labels returned by the scorer.
const (
	TierAuto      = "Auto-Approved"
	TierManager   = "Manager Approval"
	TierExecutive = "Executive Approval Required"
)

// Validator checks an order and returns a list of violations, empty when the
// order is valid.
type Validator func(Order) []string

// Scorer maps an order amount to an approval tier label.
type Scorer func(amount float64) string

// DefaultValidator requires OrderID, Status and Details to be present and the
// order to still be in Draft.
func DefaultValidator(o Order) []string {
	var violations []string
	if o.OrderID == "" {
		violations = append(violations, "OrderID is missing")
	}
	if o.Status == "" {
		violations = append(violations, "Status is missing")
	}
	if o.Details == "" {
		violations = append(violations, "Details is missing")
	}
	if o.Status != "" && o.Status != "Draft" {
		violations = append(violations, "Status must be 'Draft'")
	}
	return violations
}

// DefaultScorer applies the standard thresholds. Boundaries belong to the
// lower tier: exactly 1000 is auto-approved, exactly 10000 needs a manager.
func DefaultScorer(amount float64) string {
	switch {
	case amount <= 1000:
		return TierAuto
	case amount <= 10000:
		return TierManager
	default:
		return TierExecutive
	}
}

// ParseAmount converts an order amount to a number. Unparseable values score
// as zero rather than failing the workflow.
func ParseAmount(s string) float64 {
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return amount
}
