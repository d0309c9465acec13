package order

import (
	"strings"
	"time"

	"github.com/xenking/pharmacart/internal/domain/pricing"
)

// Timeline labels for entries that do not carry a Status value.
const (
	LabelRiderAssigned     = "Rider Assigned"
	LabelRiderAccepted     = "Rider Accepted"
	LabelRiderRejected     = "Rider Rejected"
	LabelPharmacyAccepted  = "Pharmacy Accepted"
	LabelPharmacyRejected  = "Pharmacy Rejected"
	MessageOrderPlaced     = "Order placed"
	ETAMessageAfterPickup  = "Your order will be delivered in ~10 minutes"
	defaultCancelMessage   = "Order cancelled"
	defaultRefundedMessage = "Payment refunded"
)

// NewParams holds everything needed to create an Order.
type NewParams struct {
	ID                 string
	UserID             string
	Items              []Item
	Pricing            pricing.Breakdown
	Payment            Payment
	AssignedPharmacyID string
	AddressID          string
	DeliveryAddress    Address
	Notes              string
	VoiceNoteURL       string
	SourceOrderID      string
	PlanType           PlanType
	DeliveryDate       time.Time
	At                 time.Time
}

// New creates a Pending order with its first timeline entry and a Pending
// response for every distinct pharmacy among its items.
func New(p NewParams) *Order {
	at := stampTime(p.At)
	o := &Order{
		ID:                 p.ID,
		UserID:             p.UserID,
		Items:              append([]Item(nil), p.Items...),
		Pricing:            p.Pricing,
		Payment:            p.Payment,
		Status:             StatusPending,
		AssignedPharmacyID: p.AssignedPharmacyID,
		AddressID:          p.AddressID,
		DeliveryAddress:    p.DeliveryAddress,
		Notes:              p.Notes,
		VoiceNoteURL:       p.VoiceNoteURL,
		IsReordered:        p.SourceOrderID != "",
		SourceOrderID:      p.SourceOrderID,
		PlanType:           p.PlanType,
		DeliveryDate:       p.DeliveryDate,
		CreatedAt:          at,
		UpdatedAt:          at,
	}

	o.PharmacyResponses = make(map[string]PharmacyResponse)
	for _, id := range o.PharmacyIDs() {
		o.PharmacyResponses[id] = PharmacyResponse{Status: ResponsePending}
	}

	o.Timeline = []TimelineEntry{{Status: string(StatusPending), Message: MessageOrderPlaced, Timestamp: at}}
	o.record(EventPlaced, MessageOrderPlaced, at)
	return o
}

// stampTime normalises a timestamp to the persisted millisecond precision.
func stampTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// appendEntry adds a timeline entry no earlier than the previous one.
func (o *Order) appendEntry(status, message string, at time.Time) time.Time {
	ts := stampTime(at)
	if n := len(o.Timeline); n > 0 && ts.Before(o.Timeline[n-1].Timestamp) {
		ts = o.Timeline[n-1].Timestamp
	}
	o.Timeline = append(o.Timeline, TimelineEntry{Status: status, Message: message, Timestamp: ts})
	o.UpdatedAt = ts
	return ts
}

// transition sets the status and appends its timeline entry together.
func (o *Order) transition(to Status, message string, at time.Time) {
	o.Status = to
	ts := o.appendEntry(string(to), message, at)

	switch to {
	case StatusPickedUp:
		if o.AssignedRiderID != "" {
			o.RiderStatus = RiderPickedUp
		}
		o.record(EventStatusChanged, message, ts)
	case StatusDelivered:
		if o.AssignedRiderID != "" {
			o.RiderStatus = RiderCompleted
		}
		o.record(EventDelivered, message, ts)
	case StatusCancelled:
		o.record(EventCancelled, message, ts)
	default:
		o.record(EventStatusChanged, message, ts)
	}
}

// AssignRider sets the weak rider reference. Status is unchanged.
func (o *Order) AssignRider(riderID, riderName string, at time.Time) error {
	if o.Status.IsFinal() {
		return ErrAlreadyTerminal
	}
	o.AssignedRiderID = riderID
	o.RiderName = riderName
	o.RiderStatus = RiderAssigned
	ts := o.appendEntry(LabelRiderAssigned, riderName, at)
	o.record(EventRiderAssigned, riderName, ts)
	return nil
}

// Cancel moves a non-final order to Cancelled. The cancelled event carries
// the assigned rider so it can be notified.
func (o *Order) Cancel(reason string, at time.Time) error {
	if o.Status.IsFinal() {
		return ErrAlreadyTerminal
	}
	msg := defaultCancelMessage
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += ": " + reason
	}
	o.transition(StatusCancelled, msg, at)
	return nil
}

// SetStatusByVendor applies a pharmacy status update. Under PolicyPermissive
// any status except Refunded is accepted on a non-final order; exception
// reports that the jump is outside the transition table.
func (o *Order) SetStatusByVendor(to Status, policy Policy, at time.Time) (exception bool, err error) {
	if o.Status.IsFinal() {
		return false, ErrAlreadyTerminal
	}
	if to == StatusRefunded {
		return false, ErrInvalidTransition
	}
	adjacent := o.Status.CanTransitionTo(to)
	if !adjacent && policy != PolicyPermissive {
		return false, ErrInvalidTransition
	}
	o.transition(to, "Order status updated to "+string(to)+" by pharmacy", at)
	return !adjacent, nil
}

// RespondAsPharmacy records a pharmacy's decision. Status is unchanged.
func (o *Order) RespondAsPharmacy(pharmacyID, pharmacyName string, d Decision, at time.Time) error {
	resp, ok := o.PharmacyResponses[pharmacyID]
	if !ok {
		return ErrNotFound
	}
	if o.Status.IsFinal() {
		return ErrAlreadyTerminal
	}
	if resp.Status != ResponsePending {
		return ErrAlreadyResponded
	}

	label := LabelPharmacyAccepted
	status := ResponseAccepted
	if d == Reject {
		label = LabelPharmacyRejected
		status = ResponseRejected
	}
	ts := o.appendEntry(label, pharmacyName, at)
	o.PharmacyResponses[pharmacyID] = PharmacyResponse{Status: status, RespondedAt: ts}
	o.record(EventPharmacyResponse, label, ts)
	return nil
}

// RespondAsRider records the assigned rider's decision. Rejecting clears the
// rider reference so another rider can be assigned.
func (o *Order) RespondAsRider(riderID string, d Decision, at time.Time) error {
	if riderID == "" || o.AssignedRiderID != riderID {
		return ErrNotFound
	}
	if o.Status.IsFinal() {
		return ErrAlreadyTerminal
	}
	if o.RiderStatus != RiderAssigned {
		return ErrAlreadyResponded
	}

	name := o.RiderName
	if d == Reject {
		ts := o.appendEntry(LabelRiderRejected, name, at)
		o.RiderStatus = RiderRejected
		o.record(EventRiderResponded, LabelRiderRejected, ts)
		o.AssignedRiderID = ""
		o.RiderName = ""
		return nil
	}
	o.RiderStatus = RiderAccepted
	ts := o.appendEntry(LabelRiderAccepted, name, at)
	o.record(EventRiderResponded, LabelRiderAccepted, ts)
	return nil
}

// MarkPickedUp is the rider's Shipped to PickedUp transition.
func (o *Order) MarkPickedUp(riderID string, at time.Time) error {
	if riderID == "" || o.AssignedRiderID != riderID {
		return ErrNotFound
	}
	if o.Status.IsFinal() {
		return ErrAlreadyTerminal
	}
	if !o.Status.CanTransitionTo(StatusPickedUp) {
		return ErrInvalidTransition
	}
	o.transition(StatusPickedUp, "Order picked up by "+o.RiderName, at)
	return nil
}

// MarkDelivered is the rider's PickedUp to Delivered transition. It records
// the delivery proof and makes the order final.
func (o *Order) MarkDelivered(riderID, proofURL string, at time.Time) error {
	if riderID == "" || o.AssignedRiderID != riderID {
		return ErrNotFound
	}
	if o.Status.IsFinal() {
		return ErrAlreadyTerminal
	}
	if !o.Status.CanTransitionTo(StatusDelivered) {
		return ErrInvalidTransition
	}
	proofURL = strings.TrimSpace(proofURL)
	if proofURL == "" {
		return ErrProofRequired
	}

	o.transition(StatusDelivered, "Order delivered", at)
	o.DeliveryProof = append(o.DeliveryProof, DeliveryProof{
		RiderID:    riderID,
		ImageURL:   proofURL,
		UploadedAt: o.UpdatedAt,
	})
	return nil
}

// Refund moves a Cancelled or Delivered order to Refunded. Only the payment
// reconciliation collaborator calls it.
func (o *Order) Refund(note string, at time.Time) error {
	if !refundable[o.Status] {
		return ErrInvalidTransition
	}
	msg := defaultRefundedMessage
	if note = strings.TrimSpace(note); note != "" {
		msg += ": " + note
	}
	o.transition(StatusRefunded, msg, at)
	return nil
}

// CheckRemovable reports whether the order may be deleted.
func (o *Order) CheckRemovable() error {
	if o.Status != StatusDelivered {
		return ErrNotDelivered
	}
	return nil
}

// IsPickedUp reports whether any timeline entry records a pickup.
func (o *Order) IsPickedUp() bool {
	for _, e := range o.Timeline {
		if e.Status == string(StatusPickedUp) {
			return true
		}
	}
	return false
}

// ETAMessage returns the delivery estimate shown once the order is picked up
// and still on its way, or "".
func (o *Order) ETAMessage() string {
	if o.IsPickedUp() && !o.Status.IsFinal() {
		return ETAMessageAfterPickup
	}
	return ""
}
