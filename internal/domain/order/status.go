package order

import (
	"strings"
)

// Status is the lifecycle state of an Order.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusShipped   Status = "Shipped"
	StatusPickedUp  Status = "PickedUp"
	StatusDelivered Status = "Delivered"
	StatusCancelled Status = "Cancelled"
	StatusRefunded  Status = "Refunded"
)

var allStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusShipped,
	StatusPickedUp,
	StatusDelivered,
	StatusCancelled,
	StatusRefunded,
}

// ParseStatus matches s case-insensitively against the known statuses.
// "Picked Up" is accepted for PickedUp.
func ParseStatus(s string) (Status, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	for _, st := range allStatuses {
		if strings.ToLower(string(st)) == norm {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

// IsFinal reports whether no customer or vendor action may change the order.
// Delivered and Cancelled only move on to Refunded through reconciliation.
func (s Status) IsFinal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// transitions is the adjacency table for vendor and rider driven updates.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusPickedUp, StatusCancelled},
	StatusPickedUp:  {StatusDelivered, StatusCancelled},
}

// refundable lists the states from which reconciliation may refund.
var refundable = map[Status]bool{
	StatusCancelled: true,
	StatusDelivered: true,
}

// CanTransitionTo reports whether to is adjacent to s in the transition table.
func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Policy selects how vendor status updates are checked.
type Policy string

const (
	// PolicyStrict enforces the adjacency table.
	PolicyStrict Policy = "strict"
	// PolicyPermissive lets vendors set any status on a non-final order.
	// Jumps outside the table are logged as policy exceptions.
	PolicyPermissive Policy = "permissive"
)

// ParsePolicy returns PolicyStrict for an empty string.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyPermissive:
		return PolicyPermissive, nil
	default:
		return "", ErrInvalidPolicy
	}
}
