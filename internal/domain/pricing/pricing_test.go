package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pharmacart/internal/domain/coupon"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(Config{
		PlatformFee:           decimal.NewFromInt(10),
		DefaultDeliveryCharge: decimal.NewFromInt(22),
	})
}

func line(id, price string, qty int) Line {
	return Line{ItemID: id, UnitPrice: decimal.RequireFromString(price), Quantity: qty, VendorID: "ph1"}
}

func pct(p int64) *coupon.Coupon {
	return &coupon.Coupon{
		Code:               "SAVE",
		DiscountPercentage: decimal.NewFromInt(p),
		ExpirationDate:     testNow.Add(time.Hour),
	}
}

func TestPrice_Scenarios(t *testing.T) {
	e := newTestEngine()
	lines := []Line{line("m1", "100", 2)}

	t.Run("no coupon", func(t *testing.T) {
		b, err := e.Price(lines, Delivery{}, nil, testNow)
		require.NoError(t, err)

		assert.Equal(t, "200.00", b.SubTotal.StringFixed(2))
		assert.Equal(t, "10.00", b.PlatformFee.StringFixed(2))
		assert.Equal(t, "22.00", b.DeliveryCharge.StringFixed(2))
		assert.True(t, b.DiscountAmount.IsZero())
		assert.Equal(t, "232.00", b.TotalPayable.StringFixed(2))
		assert.Empty(t, b.Adjustments)
	})

	t.Run("ten percent coupon", func(t *testing.T) {
		b, err := e.Price(lines, Delivery{}, pct(10), testNow)
		require.NoError(t, err)

		assert.Equal(t, "20.00", b.DiscountAmount.StringFixed(2))
		assert.Equal(t, "212.00", b.TotalPayable.StringFixed(2))
		require.Len(t, b.Adjustments, 1)
		assert.Equal(t, "-20.00", b.Adjustments[0].Amount.StringFixed(2))
		assert.Equal(t, "SAVE", b.CouponCode)
	})
}

func TestPrice_Errors(t *testing.T) {
	e := newTestEngine()
	expired := pct(10)
	expired.ExpirationDate = testNow.Add(-time.Second)

	tests := []struct {
		name    string
		lines   []Line
		d       Delivery
		c       *coupon.Coupon
		wantErr error
	}{
		{name: "empty", lines: nil, wantErr: ErrEmptyCart},
		{name: "zero quantity", lines: []Line{line("m1", "5", 0)}, wantErr: ErrInvalidQuantity},
		{name: "negative price", lines: []Line{line("m1", "-5", 1)}, wantErr: ErrInvalidPrice},
		{name: "expired coupon", lines: []Line{line("m1", "5", 1)}, c: expired, wantErr: coupon.ErrExpiredCoupon},
		{name: "out of range coupon", lines: []Line{line("m1", "5", 1)}, c: pct(101), wantErr: coupon.ErrInvalidCoupon},
		{
			name:    "negative rate",
			lines:   []Line{line("m1", "5", 1)},
			d:       KnownDelivery(3, decimal.NewFromInt(-1)),
			wantErr: ErrInvalidDelivery,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Price(tt.lines, tt.d, tt.c, testNow)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPrice_DeliveryChargeFromDistance(t *testing.T) {
	e := newTestEngine()

	b, err := e.Price([]Line{line("m1", "50", 1)}, KnownDelivery(3.4, decimal.NewFromInt(8)), nil, testNow)
	require.NoError(t, err)

	// 3.4 km * 8 = 27.2 -> 27
	assert.Equal(t, "27.00", b.DeliveryCharge.StringFixed(2))
	assert.Equal(t, "87.00", b.TotalPayable.StringFixed(2))
}

func TestPrice_SubtotalRounding(t *testing.T) {
	e := newTestEngine()

	b, err := e.Price([]Line{line("m1", "0.333", 3), line("m2", "1.005", 1)}, Delivery{}, nil, testNow)
	require.NoError(t, err)

	// 0.999 + 1.005 = 2.004 -> 2.00
	assert.Equal(t, "2.00", b.SubTotal.StringFixed(2))
}

func TestPrice_TotalFormulaAndNonNegative(t *testing.T) {
	e := newTestEngine()
	lineSets := [][]Line{
		{line("m1", "0", 1)},
		{line("m1", "0.01", 1)},
		{line("m1", "19.99", 3), line("m2", "4.50", 2)},
		{line("m1", "1000", 10)},
	}

	for _, lines := range lineSets {
		for p := int64(0); p <= 100; p += 25 {
			b, err := e.Price(lines, Delivery{}, pct(p), testNow)
			require.NoError(t, err)

			want := b.SubTotal.Add(b.PlatformFee).Add(b.DeliveryCharge).Sub(b.DiscountAmount)
			if want.IsNegative() {
				want = decimal.Zero
			}
			assert.True(t, want.Round(2).Equal(b.TotalPayable), "total %s != formula %s", b.TotalPayable, want)
			assert.False(t, b.TotalPayable.IsNegative())
		}
	}
}

func TestPrice_DiscountIsMonotonic(t *testing.T) {
	e := newTestEngine()
	lines := []Line{line("m1", "37.45", 3), line("m2", "12.10", 1)}

	prev, err := e.Price(lines, Delivery{}, pct(0), testNow)
	require.NoError(t, err)

	for p := int64(1); p <= 100; p++ {
		b, err := e.Price(lines, Delivery{}, pct(p), testNow)
		require.NoError(t, err)
		assert.True(t, b.TotalPayable.LessThanOrEqual(prev.TotalPayable),
			"%d%%: total %s > previous %s", p, b.TotalPayable, prev.TotalPayable)
		prev = b
	}
}

func TestPrice_Idempotent(t *testing.T) {
	e := newTestEngine()
	lines := []Line{line("m1", "12.34", 2)}

	a, err := e.Price(lines, KnownDelivery(1.25, decimal.NewFromInt(10)), pct(15), testNow)
	require.NoError(t, err)
	b, err := e.Price(lines, KnownDelivery(1.25, decimal.NewFromInt(10)), pct(15), testNow)
	require.NoError(t, err)

	assert.True(t, a.TotalPayable.Equal(b.TotalPayable))
	assert.True(t, a.DiscountAmount.Equal(b.DiscountAmount))
	assert.True(t, a.DeliveryCharge.Equal(b.DeliveryCharge))
}
