package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/payment"
	"github.com/xenking/pharmacart/internal/domain/pricing"
)

var (
	ErrNotFound = apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	// ErrAlreadyTerminal is returned when acting on a Delivered, Cancelled or
	// Refunded order.
	ErrAlreadyTerminal = apperr.New(apperr.KindConflict, "already_terminal", "order already delivered or cancelled")
	// ErrInvalidTransition is returned for a status change outside the
	// transition table.
	ErrInvalidTransition = apperr.New(apperr.KindConflict, "invalid_transition", "status transition not allowed")
	ErrInvalidStatus     = apperr.New(apperr.KindValidation, "invalid_status", "unknown order status")
	ErrInvalidPolicy     = apperr.New(apperr.KindValidation, "invalid_transition_policy", "unknown transition policy")
	ErrInvalidDecision   = apperr.New(apperr.KindValidation, "invalid_decision", "decision must be Accepted or Rejected")
	ErrProofRequired     = apperr.New(apperr.KindValidation, "delivery_proof_required", "delivery proof image url is required")
	// ErrAlreadyResponded is returned when a pharmacy or rider responds twice.
	ErrAlreadyResponded = apperr.New(apperr.KindConflict, "already_responded", "response already recorded")
	// ErrNotDelivered is returned when removing an order that is not Delivered.
	ErrNotDelivered = apperr.New(apperr.KindConflict, "not_delivered", "only delivered orders can be removed")
	// ErrConcurrentUpdate is returned when the stored version moved on.
	ErrConcurrentUpdate = apperr.New(apperr.KindConflict, "concurrent_update", "order was modified concurrently")
	// ErrCheckoutInProgress is returned while another checkout holds the
	// user's lock.
	ErrCheckoutInProgress = apperr.New(apperr.KindConflict, "checkout_in_progress", "another checkout is in progress")
)

// Item is a priced line snapshotted when the order is created.
type Item struct {
	MedicineID string
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	PharmacyID string
}

// Total returns UnitPrice * Quantity rounded to 2 decimal places.
func (i Item) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(2)
}

// Address is the delivery address copied onto the order.
type Address struct {
	House   string
	Street  string
	City    string
	State   string
	Pincode string
	Country string
}

// TimelineEntry is one immutable audit record.
type TimelineEntry struct {
	Status    string
	Message   string
	Timestamp time.Time
}

// ResponseStatus is a pharmacy's answer to an order.
type ResponseStatus string

const (
	ResponsePending  ResponseStatus = "Pending"
	ResponseAccepted ResponseStatus = "Accepted"
	ResponseRejected ResponseStatus = "Rejected"
)

// PharmacyResponse records one pharmacy's answer. RespondedAt is zero while
// Pending.
type PharmacyResponse struct {
	Status      ResponseStatus
	RespondedAt time.Time
}

// Decision is an Accept or Reject answer from a pharmacy or rider.
type Decision string

const (
	Accept Decision = "Accepted"
	Reject Decision = "Rejected"
)

// ParseDecision accepts "accept", "accepted", "reject" and "rejected" in any case.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept", "accepted":
		return Accept, nil
	case "reject", "rejected":
		return Reject, nil
	default:
		return "", ErrInvalidDecision
	}
}

// RiderStatus tracks the assigned rider's progress.
type RiderStatus string

const (
	RiderUnassigned RiderStatus = ""
	RiderAssigned   RiderStatus = "Assigned"
	RiderAccepted   RiderStatus = "Accepted"
	RiderRejected   RiderStatus = "Rejected"
	RiderPickedUp   RiderStatus = "PickedUp"
	RiderCompleted  RiderStatus = "Completed"
)

// DeliveryProof is the rider's photo evidence. The image is stored by the
// file service; only its URL is kept.
type DeliveryProof struct {
	RiderID    string
	ImageURL   string
	UploadedAt time.Time
}

// PlanType is the schedule of a periodic order.
type PlanType string

const (
	PlanNone    PlanType = ""
	PlanWeekly  PlanType = "Weekly"
	PlanMonthly PlanType = "Monthly"
)

// ParsePlanType accepts Weekly or Monthly in any case.
func ParsePlanType(s string) (PlanType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly":
		return PlanWeekly, nil
	case "monthly":
		return PlanMonthly, nil
	default:
		return PlanNone, ErrInvalidPlanType
	}
}

// ErrInvalidPlanType is returned for a plan other than Weekly or Monthly.
var ErrInvalidPlanType = apperr.New(apperr.KindValidation, "invalid_plan_type", "plan type must be Weekly or Monthly")

// Payment is the payment outcome stored on the order.
type Payment struct {
	Method        payment.Method
	Status        payment.Status
	TransactionID string
}

// Order is the central fulfilment record. Rider and pharmacy are weak
// references kept as ids.
type Order struct {
	ID     string
	UserID string
	Items  []Item
	// Pricing is fixed at creation.
	Pricing pricing.Breakdown
	Payment Payment
	Status  Status
	// Timeline is append-only.
	Timeline []TimelineEntry
	// PharmacyResponses has one entry per distinct pharmacy among Items.
	PharmacyResponses map[string]PharmacyResponse

	AssignedPharmacyID string
	AssignedRiderID    string
	RiderName          string
	RiderStatus        RiderStatus

	AddressID       string
	DeliveryAddress Address
	Notes           string
	VoiceNoteURL    string

	IsReordered   bool
	SourceOrderID string
	PlanType      PlanType
	DeliveryDate  time.Time

	DeliveryProof []DeliveryProof

	// Version is the optimistic concurrency token bumped by every update.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	pending []Event
}

// PullEvents returns and clears events recorded since the last call.
func (o *Order) PullEvents() []Event {
	ev := o.pending
	o.pending = nil
	return ev
}

// PharmacyIDs returns the distinct pharmacies among Items in item order.
func (o *Order) PharmacyIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	var ids []string
	for _, it := range o.Items {
		if it.PharmacyID == "" {
			continue
		}
		if _, ok := seen[it.PharmacyID]; ok {
			continue
		}
		seen[it.PharmacyID] = struct{}{}
		ids = append(ids, it.PharmacyID)
	}
	return ids
}

// HasPharmacy reports whether pharmacyID contributed items to the order.
func (o *Order) HasPharmacy(pharmacyID string) bool {
	_, ok := o.PharmacyResponses[pharmacyID]
	return ok || (pharmacyID != "" && o.AssignedPharmacyID == pharmacyID)
}

// Repository persists orders together with their outbox events.
type Repository interface {
	// Create inserts o and events in one transaction. A transaction id that
	// is already attached to another order yields payment.ErrPaymentAlreadyUsed.
	Create(ctx context.Context, o *Order, events []Event) error
	// CreateBatch inserts all orders and events in one transaction.
	CreateBatch(ctx context.Context, orders []*Order, events []Event) error
	// Get returns ErrNotFound when no order has id.
	Get(ctx context.Context, id string) (*Order, error)
	// Update stores o if the stored version equals expected and sets
	// o.Version to expected+1. Returns ErrConcurrentUpdate otherwise.
	Update(ctx context.Context, o *Order, expected int64, events []Event) error
	// Delete removes the order if the stored version equals expected.
	Delete(ctx context.Context, id string, expected int64, events []Event) error
	// TransactionUsed reports whether ref is attached to any order.
	TransactionUsed(ctx context.Context, ref string) (bool, error)
}
