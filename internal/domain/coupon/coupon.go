package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacart/internal/domain/apperr"
)

var (
	// ErrInvalidCoupon is returned when a coupon code does not exist or its
	// stored percentage is outside [0,100].
	ErrInvalidCoupon = apperr.New(apperr.KindNotFound, "invalid_coupon", "invalid coupon code")
	// ErrExpiredCoupon is returned when a coupon's expiration date has passed.
	ErrExpiredCoupon = apperr.New(apperr.KindValidation, "expired_coupon", "coupon expired")
)

var hundred = decimal.NewFromInt(100)

// Coupon is a percentage discount applied to an order subtotal.
type Coupon struct {
	Code               string
	DiscountPercentage decimal.Decimal
	// ExpirationDate is the instant after which the coupon is rejected.
	// A zero value never expires.
	ExpirationDate time.Time
}

// Expired reports whether the coupon is past its expiration date at t.
func (c *Coupon) Expired(t time.Time) bool {
	return !c.ExpirationDate.IsZero() && c.ExpirationDate.Before(t)
}

// Valid reports whether the percentage lies in [0,100].
func (c *Coupon) Valid() bool {
	return !c.DiscountPercentage.IsNegative() && c.DiscountPercentage.LessThanOrEqual(hundred)
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup of coupons.
type Repository interface {
	// FindByCode returns ErrInvalidCoupon when no coupon matches.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}
