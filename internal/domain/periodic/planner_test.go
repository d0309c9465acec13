package periodic

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/catalog"
	"github.com/xenking/pharmacart/internal/domain/coupon"
	"github.com/xenking/pharmacart/internal/domain/order"
	"github.com/xenking/pharmacart/internal/domain/payment"
	"github.com/xenking/pharmacart/internal/domain/pricing"
)

// --- Mock implementations ---

type mockBatchWriter struct {
	orders []*order.Order
	events []order.Event
	err    error
}

func (m *mockBatchWriter) CreateBatch(_ context.Context, orders []*order.Order, events []order.Event) error {
	if m.err != nil {
		return m.err
	}
	m.orders = orders
	m.events = events
	return nil
}

type mockMedicines struct {
	byID map[string]catalog.Medicine
}

func (m *mockMedicines) GetByIDs(_ context.Context, ids []string) ([]catalog.Medicine, error) {
	var out []catalog.Medicine
	for _, id := range ids {
		if med, ok := m.byID[id]; ok {
			out = append(out, med)
		}
	}
	return out, nil
}

type mockPharmacies struct {
	active *catalog.Pharmacy
}

func (m *mockPharmacies) GetByIDs(_ context.Context, _ []string) ([]catalog.Pharmacy, error) {
	return nil, nil
}

func (m *mockPharmacies) AnyActive(_ context.Context) (*catalog.Pharmacy, error) {
	if m.active == nil {
		return nil, catalog.ErrNoActivePharmacy
	}
	return m.active, nil
}

type mockAddresses struct{}

func (mockAddresses) Get(_ context.Context, userID, id string) (*catalog.Address, error) {
	if id != "a1" {
		return nil, catalog.ErrAddressNotFound
	}
	return &catalog.Address{ID: "a1", UserID: userID, City: "Pune"}, nil
}

func (mockAddresses) Default(_ context.Context, userID string) (*catalog.Address, error) {
	return &catalog.Address{ID: "home", UserID: userID, City: "Mumbai", IsDefault: true}, nil
}

type mockCoupons struct{}

func (mockCoupons) Resolve(_ context.Context, code string) (*coupon.Coupon, error) {
	switch code {
	case "":
		return nil, nil
	case "TENOFF":
		return &coupon.Coupon{Code: "TENOFF", DiscountPercentage: decimal.NewFromInt(10)}, nil
	default:
		return nil, coupon.ErrInvalidCoupon
	}
}

// --- Helpers ---

func newTestPlanner(w *mockBatchWriter, ph *mockPharmacies) *Planner {
	meds := &mockMedicines{byID: map[string]catalog.Medicine{
		"m1": {ID: "m1", PharmacyID: "ph1", Name: "Metformin", MRP: decimal.NewFromInt(100)},
		"m2": {ID: "m2", PharmacyID: "ph2", Name: "Vitamin D", MRP: decimal.RequireFromString("45.50")},
	}}
	engine := pricing.NewEngine(pricing.Config{
		PlatformFee:           decimal.NewFromInt(10),
		DefaultDeliveryCharge: decimal.NewFromInt(22),
	})
	p := NewPlanner(w, meds, ph, mockAddresses{}, mockCoupons{}, engine, nil)
	p.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	return p
}

func activePharmacy() *mockPharmacies {
	return &mockPharmacies{active: &catalog.Pharmacy{ID: "ph-any", Name: "Any Meds", Active: true}}
}

// --- Tests ---

func TestPlan_CreatesOneOrderPerDate(t *testing.T) {
	w := &mockBatchWriter{}
	p := newTestPlanner(w, activePharmacy())

	orders, err := p.Plan(context.Background(), PlanRequest{
		UserID:        "u1",
		PlanType:      "weekly",
		Items:         []Item{{MedicineID: "m1", Quantity: 2}},
		DeliveryDates: []string{"2025-06-07", "2025-06-14T08:00:00Z", "2025-06-21"},
		CouponCode:    "TENOFF",
	})
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, orders, w.orders)
	assert.Len(t, w.events, 3)

	ids := map[string]bool{}
	for _, o := range orders {
		ids[o.ID] = true
		assert.Equal(t, order.PlanWeekly, o.PlanType)
		assert.Equal(t, order.StatusPending, o.Status)
		assert.Equal(t, payment.StatusCashOnDelivery, o.Payment.Status)
		assert.Equal(t, "ph-any", o.AssignedPharmacyID)
		assert.Empty(t, o.AssignedRiderID)
		assert.Equal(t, "home", o.AddressID)
		assert.Equal(t, "212.00", o.Pricing.TotalPayable.StringFixed(2))
		require.Len(t, o.Timeline, 1)
	}
	assert.Len(t, ids, 3)
	assert.Equal(t, time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC), orders[0].DeliveryDate)
	assert.Equal(t, time.Date(2025, 6, 14, 8, 0, 0, 0, time.UTC), orders[1].DeliveryDate)
}

func TestPlan_OrdersAreIndependentlyCancellable(t *testing.T) {
	w := &mockBatchWriter{}
	p := newTestPlanner(w, activePharmacy())

	orders, err := p.Plan(context.Background(), PlanRequest{
		UserID:        "u1",
		PlanType:      "Monthly",
		Items:         []Item{{MedicineID: "m1", Quantity: 1}, {MedicineID: "m2", Quantity: 2}},
		DeliveryDates: []string{"2025-07-01", "2025-08-01"},
		AddressID:     "a1",
	})
	require.NoError(t, err)

	require.NoError(t, orders[0].Cancel("", time.Now()))
	assert.Equal(t, order.StatusCancelled, orders[0].Status)
	assert.Equal(t, order.StatusPending, orders[1].Status)
	assert.Equal(t, "a1", orders[1].AddressID)
	// 100 + 2*45.50
	assert.Equal(t, "191.00", orders[1].Pricing.SubTotal.StringFixed(2))
}

func TestPlan_Errors(t *testing.T) {
	valid := func() PlanRequest {
		return PlanRequest{
			UserID:        "u1",
			PlanType:      "Weekly",
			Items:         []Item{{MedicineID: "m1", Quantity: 1}},
			DeliveryDates: []string{"2025-07-01"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *PlanRequest)
		ph      *mockPharmacies
		wantErr error
	}{
		{name: "bad plan", mutate: func(r *PlanRequest) { r.PlanType = "Daily" }, wantErr: order.ErrInvalidPlanType},
		{name: "bad date", mutate: func(r *PlanRequest) { r.DeliveryDates = []string{"2025-07-01", "next tuesday"} }, wantErr: ErrInvalidDeliveryDate},
		{name: "no dates", mutate: func(r *PlanRequest) { r.DeliveryDates = nil }, wantErr: ErrNoDeliveryDates},
		{name: "no items", mutate: func(r *PlanRequest) { r.Items = nil }, wantErr: ErrNoItems},
		{name: "bad quantity", mutate: func(r *PlanRequest) { r.Items[0].Quantity = 0 }, wantErr: ErrInvalidQuantity},
		{name: "unknown medicine", mutate: func(r *PlanRequest) { r.Items[0].MedicineID = "gone" }, wantErr: catalog.ErrMedicineNotFound},
		{name: "unknown coupon", mutate: func(r *PlanRequest) { r.CouponCode = "NOPE" }, wantErr: coupon.ErrInvalidCoupon},
		{name: "unknown address", mutate: func(r *PlanRequest) { r.AddressID = "zzz" }, wantErr: catalog.ErrAddressNotFound},
		{name: "no active pharmacy", ph: &mockPharmacies{}, wantErr: catalog.ErrNoActivePharmacy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ph := tt.ph
			if ph == nil {
				ph = activePharmacy()
			}
			w := &mockBatchWriter{}
			p := newTestPlanner(w, ph)
			req := valid()
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			_, err := p.Plan(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, w.orders)
		})
	}
}

func TestPlan_WriteError(t *testing.T) {
	w := &mockBatchWriter{err: errors.New("deadlock detected")}
	p := newTestPlanner(w, activePharmacy())

	_, err := p.Plan(context.Background(), PlanRequest{
		UserID:        "u1",
		PlanType:      "Weekly",
		Items:         []Item{{MedicineID: "m1", Quantity: 1}},
		DeliveryDates: []string{"2025-07-01"},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))
}

func TestParseDeliveryDate(t *testing.T) {
	_, err := ParseDeliveryDate("2025-02-30")
	var de *InvalidDeliveryDateError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "2025-02-30", de.Value)
}
