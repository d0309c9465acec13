// Package periodic pre-materialises recurring orders: one Pending order per
// delivery date, all sharing a single price computed at planning time.
package periodic

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/catalog"
	"github.com/xenking/pharmacart/internal/domain/coupon"
	"github.com/xenking/pharmacart/internal/domain/order"
	"github.com/xenking/pharmacart/internal/domain/payment"
	"github.com/xenking/pharmacart/internal/domain/pricing"
)

var (
	// ErrInvalidDeliveryDate is returned when a delivery date cannot be parsed.
	ErrInvalidDeliveryDate = apperr.New(apperr.KindValidation, "invalid_delivery_date", "invalid delivery date")
	// ErrNoDeliveryDates is returned for an empty date list.
	ErrNoDeliveryDates = apperr.New(apperr.KindValidation, "no_delivery_dates", "at least one delivery date is required")
	// ErrNoItems is returned for an empty item list.
	ErrNoItems = apperr.New(apperr.KindValidation, "no_items", "at least one item is required")
	// ErrInvalidQuantity is returned for an item quantity below 1.
	ErrInvalidQuantity = apperr.New(apperr.KindValidation, "invalid_quantity", "quantity must be at least 1")
)

// DateLayout is the preferred delivery date format. RFC 3339 timestamps are
// accepted too.
const DateLayout = "2006-01-02"

// InvalidDeliveryDateError names the rejected input. It matches
// ErrInvalidDeliveryDate with errors.Is.
type InvalidDeliveryDateError struct {
	Value string
}

func (e *InvalidDeliveryDateError) Error() string {
	return "invalid delivery date " + `"` + e.Value + `"`
}

func (e *InvalidDeliveryDateError) Unwrap() error { return ErrInvalidDeliveryDate }

// ParseDeliveryDate parses a date in DateLayout or RFC 3339.
func ParseDeliveryDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, &InvalidDeliveryDateError{Value: s}
}

// Item is a requested medicine and quantity.
type Item struct {
	MedicineID string
	Quantity   int
}

// PlanRequest holds the input of Plan.
type PlanRequest struct {
	UserID        string
	PlanType      string
	Items         []Item
	DeliveryDates []string
	CouponCode    string
	// AddressID is optional; the user's default address is used otherwise.
	AddressID string
}

// BatchWriter stores several orders and their events atomically.
type BatchWriter interface {
	CreateBatch(ctx context.Context, orders []*order.Order, events []order.Event) error
}

// Planner creates periodic orders.
type Planner struct {
	orders     BatchWriter
	medicines  catalog.MedicineRepository
	pharmacies catalog.PharmacyRepository
	addresses  catalog.AddressRepository
	coupons    coupon.Resolver
	engine     *pricing.Engine
	lg         *zap.Logger
	now        func() time.Time
}

// NewPlanner creates a Planner.
func NewPlanner(
	orders BatchWriter,
	medicines catalog.MedicineRepository,
	pharmacies catalog.PharmacyRepository,
	addresses catalog.AddressRepository,
	coupons coupon.Resolver,
	engine *pricing.Engine,
	lg *zap.Logger,
) *Planner {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Planner{
		orders:     orders,
		medicines:  medicines,
		pharmacies: pharmacies,
		addresses:  addresses,
		coupons:    coupons,
		engine:     engine,
		lg:         lg,
		now:        time.Now,
	}
}

// Plan validates the request and creates one cash-on-delivery order per
// delivery date. Pricing uses current catalog prices and the default
// delivery charge; no rider is assigned at planning time. Fulfilment goes to
// any active pharmacy rather than the nearest one.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) ([]*order.Order, error) {
	plan, err := order.ParsePlanType(req.PlanType)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}
	if len(req.DeliveryDates) == 0 {
		return nil, ErrNoDeliveryDates
	}

	dates := make([]time.Time, len(req.DeliveryDates))
	for i, s := range req.DeliveryDates {
		d, err := ParseDeliveryDate(s)
		if err != nil {
			return nil, err
		}
		dates[i] = d
	}

	ids := make([]string, len(req.Items))
	for i, it := range req.Items {
		if it.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
		ids[i] = it.MedicineID
	}
	meds, err := catalog.MedicinesByID(ctx, p.medicines, ids)
	if err != nil {
		return nil, err
	}

	items := make([]order.Item, len(req.Items))
	lines := make([]pricing.Line, len(req.Items))
	for i, it := range req.Items {
		m := meds[it.MedicineID]
		items[i] = order.Item{
			MedicineID: m.ID,
			Name:       m.Name,
			Quantity:   it.Quantity,
			UnitPrice:  m.MRP,
			PharmacyID: m.PharmacyID,
		}
		lines[i] = pricing.Line{
			ItemID:    m.ID,
			Name:      m.Name,
			UnitPrice: m.MRP,
			Quantity:  it.Quantity,
			VendorID:  m.PharmacyID,
		}
	}

	cp, err := p.coupons.Resolve(ctx, req.CouponCode)
	if err != nil {
		return nil, err
	}
	at := p.now()
	b, err := p.engine.Price(lines, pricing.Delivery{}, cp, at)
	if err != nil {
		return nil, err
	}

	addr, err := p.address(ctx, req.UserID, req.AddressID)
	if err != nil {
		return nil, err
	}

	ph, err := p.pharmacies.AnyActive(ctx)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			return nil, apperr.Dependency("find active pharmacy", err)
		}
		return nil, err
	}

	orders := make([]*order.Order, len(dates))
	var events []order.Event
	for i, d := range dates {
		o := order.New(order.NewParams{
			ID:                 uuid.NewString(),
			UserID:             req.UserID,
			Items:              items,
			Pricing:            b,
			Payment:            order.Payment{Method: payment.MethodCashOnDelivery, Status: payment.StatusCashOnDelivery},
			AssignedPharmacyID: ph.ID,
			AddressID:          addr.ID,
			DeliveryAddress: order.Address{
				House:   addr.House,
				Street:  addr.Street,
				City:    addr.City,
				State:   addr.State,
				Pincode: addr.Pincode,
				Country: addr.Country,
			},
			PlanType:     plan,
			DeliveryDate: d,
			At:           at,
		})
		orders[i] = o
		events = append(events, o.PullEvents()...)
	}

	if err := p.orders.CreateBatch(ctx, orders, events); err != nil {
		if apperr.KindOf(err) != apperr.KindUnknown {
			return nil, err
		}
		return nil, apperr.Dependency("create periodic orders", err)
	}

	p.lg.Info("Periodic orders planned",
		zap.String("user_id", req.UserID),
		zap.String("plan_type", string(plan)),
		zap.Int("orders", len(orders)),
		zap.String("pharmacy_id", ph.ID),
		zap.String("total_each", b.TotalPayable.StringFixed(2)),
	)
	return orders, nil
}

func (p *Planner) address(ctx context.Context, userID, addressID string) (*catalog.Address, error) {
	var (
		a   *catalog.Address
		err error
	)
	if addressID == "" {
		a, err = p.addresses.Default(ctx, userID)
	} else {
		a, err = p.addresses.Get(ctx, userID, addressID)
	}
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			return nil, apperr.Dependency("get address", err)
		}
		return nil, err
	}
	return a, nil
}
