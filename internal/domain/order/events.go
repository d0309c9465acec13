package order

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

// EventType names an order domain event published through the outbox.
type EventType string

const (
	EventPlaced           EventType = "order.placed"
	EventRiderAssigned    EventType = "order.rider_assigned"
	EventRiderResponded   EventType = "order.rider_responded"
	EventPharmacyResponse EventType = "order.pharmacy_responded"
	EventStatusChanged    EventType = "order.status_changed"
	EventCancelled        EventType = "order.cancelled"
	EventDelivered        EventType = "order.delivered"
	EventRemoved          EventType = "order.removed"
)

// Event is a notification for riders, pharmacies and customers. Delivery is
// fire-and-forget relative to the request that produced it.
type Event struct {
	ID         string
	Type       EventType
	OrderID    string
	Payload    []byte
	OccurredAt time.Time
}

// record appends an event describing the order's current state.
func (o *Order) record(t EventType, message string, at time.Time) {
	o.pending = append(o.pending, newEvent(o, t, message, at))
}

func newEvent(o *Order, t EventType, message string, at time.Time) Event {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("type")
	e.Str(string(t))
	e.FieldStart("orderId")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	if o.AssignedRiderID != "" {
		e.FieldStart("riderId")
		e.Str(o.AssignedRiderID)
	}
	e.FieldStart("pharmacyIds")
	e.ArrStart()
	for _, id := range o.PharmacyIDs() {
		e.Str(id)
	}
	e.ArrEnd()
	if message != "" {
		e.FieldStart("message")
		e.Str(message)
	}
	e.FieldStart("totalPayable")
	e.Num(jx.Num(o.Pricing.TotalPayable.StringFixed(2)))
	e.FieldStart("occurredAt")
	e.Str(formatTime(at))
	e.ObjEnd()

	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OrderID:    o.ID,
		Payload:    append([]byte(nil), e.Bytes()...),
		OccurredAt: at,
	}
}
