// Package pricing computes order totals from priced line items.
//
// The engine is pure: it performs no I/O and, for the same inputs, always
// returns the same Breakdown. Money is kept in shopspring/decimal and every
// reported amount is rounded to 2 decimal places, except the delivery charge
// which is rounded to whole currency units.
package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/coupon"
)

var (
	// ErrEmptyCart is returned when there are no lines to price.
	ErrEmptyCart = apperr.New(apperr.KindValidation, "empty_cart", "cart is empty")
	// ErrInvalidQuantity is returned for a line with quantity below 1.
	ErrInvalidQuantity = apperr.New(apperr.KindValidation, "invalid_quantity", "quantity must be at least 1")
	// ErrInvalidPrice is returned for a line with a negative unit price.
	ErrInvalidPrice = apperr.New(apperr.KindValidation, "invalid_price", "unit price must not be negative")
	// ErrInvalidDelivery is returned for a negative distance or per-km rate.
	ErrInvalidDelivery = apperr.New(apperr.KindValidation, "invalid_delivery", "delivery distance and rate must not be negative")
)

var hundred = decimal.NewFromInt(100)

// Line is one catalog entry and quantity to be priced.
type Line struct {
	ItemID    string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	VendorID  string
}

// Total returns UnitPrice * Quantity, unrounded.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Delivery describes how the delivery charge is derived.
type Delivery struct {
	DistanceKm float64
	PerKmRate  decimal.Decimal
	// Known is false when no rider or distance is available; the engine then
	// applies its default delivery charge.
	Known bool
}

// KnownDelivery returns a Delivery priced by distance.
func KnownDelivery(distanceKm float64, perKmRate decimal.Decimal) Delivery {
	return Delivery{DistanceKm: distanceKm, PerKmRate: perKmRate, Known: true}
}

// Adjustment is a synthetic negative line recorded for audit display.
type Adjustment struct {
	Code        string
	Description string
	Amount      decimal.Decimal
}

// Breakdown is the priced result for a set of lines.
//
// TotalPayable = max(0, SubTotal + PlatformFee + DeliveryCharge - DiscountAmount).
type Breakdown struct {
	SubTotal           decimal.Decimal
	PlatformFee        decimal.Decimal
	DeliveryCharge     decimal.Decimal
	DiscountAmount     decimal.Decimal
	TotalPayable       decimal.Decimal
	CouponCode         string
	DiscountPercentage decimal.Decimal
	Adjustments        []Adjustment
}

// Config holds the fixed charges of the engine.
type Config struct {
	// PlatformFee is charged once per order regardless of basket size.
	PlatformFee decimal.Decimal
	// DefaultDeliveryCharge applies when the delivery distance is unknown.
	DefaultDeliveryCharge decimal.Decimal
}

// Engine prices line items.
type Engine struct {
	platformFee     decimal.Decimal
	defaultDelivery decimal.Decimal
}

// NewEngine creates an Engine with the given fixed charges.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		platformFee:     cfg.PlatformFee.Round(2),
		defaultDelivery: cfg.DefaultDeliveryCharge.Round(2),
	}
}

// Price computes the breakdown for lines. The coupon is optional; at is the
// instant against which its expiration is checked.
func (e *Engine) Price(lines []Line, d Delivery, c *coupon.Coupon, at time.Time) (Breakdown, error) {
	if len(lines) == 0 {
		return Breakdown{}, ErrEmptyCart
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity < 1 {
			return Breakdown{}, ErrInvalidQuantity
		}
		if l.UnitPrice.IsNegative() {
			return Breakdown{}, ErrInvalidPrice
		}
		subtotal = subtotal.Add(l.Total())
	}
	subtotal = subtotal.Round(2)

	delivery, err := e.deliveryCharge(d)
	if err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{
		SubTotal:           subtotal,
		PlatformFee:        e.platformFee,
		DeliveryCharge:     delivery,
		DiscountAmount:     decimal.Zero,
		DiscountPercentage: decimal.Zero,
	}

	if c != nil {
		if !c.Valid() {
			return Breakdown{}, coupon.ErrInvalidCoupon
		}
		if c.Expired(at) {
			return Breakdown{}, coupon.ErrExpiredCoupon
		}
		b.CouponCode = c.Code
		b.DiscountPercentage = c.DiscountPercentage
		b.DiscountAmount = subtotal.Mul(c.DiscountPercentage).Div(hundred).Round(2)
		b.Adjustments = append(b.Adjustments, Adjustment{
			Code:        c.Code,
			Description: "Coupon " + c.Code + " (" + c.DiscountPercentage.String() + "% off)",
			Amount:      b.DiscountAmount.Neg(),
		})
	}

	total := b.SubTotal.Add(b.PlatformFee).Add(b.DeliveryCharge).Sub(b.DiscountAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	b.TotalPayable = total.Round(2)

	return b, nil
}

// DefaultDeliveryCharge returns the charge used when distance is unknown.
func (e *Engine) DefaultDeliveryCharge() decimal.Decimal {
	return e.defaultDelivery
}

func (e *Engine) deliveryCharge(d Delivery) (decimal.Decimal, error) {
	if !d.Known {
		return e.defaultDelivery, nil
	}
	if math.IsNaN(d.DistanceKm) || math.IsInf(d.DistanceKm, 0) || d.DistanceKm < 0 || d.PerKmRate.IsNegative() {
		return decimal.Zero, ErrInvalidDelivery
	}
	return decimal.NewFromFloat(d.DistanceKm).Mul(d.PerKmRate).Round(0), nil
}
