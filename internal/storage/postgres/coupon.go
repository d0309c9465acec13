package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/coupon"
)

const (
	getCouponSQL = `SELECT code, discount_percentage, expiration_date
		FROM coupons WHERE code = UPPER(TRIM($1))`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_percentage, expiration_date)
		VALUES (UPPER(TRIM($1)), $2, $3)
		ON CONFLICT (code) DO UPDATE
		SET discount_percentage = EXCLUDED.discount_percentage,
			expiration_date = EXCLUDED.expiration_date`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code, ignoring case and surrounding
// whitespace. Expiry is left to the caller. Returns coupon.ErrInvalidCoupon
// when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := r.pool.QueryRow(ctx, getCouponSQL, code).Scan(&c.Code, &c.DiscountPercentage, &c.ExpirationDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, apperr.Dependency("find coupon", err)
	}
	return &c, nil
}

// Upsert inserts or replaces coupons in a single batch.
func (r *CouponRepository) Upsert(ctx context.Context, coupons []coupon.Coupon) error {
	b := &pgx.Batch{}
	for _, c := range coupons {
		b.Queue(upsertCouponSQL, c.Code, c.DiscountPercentage, c.ExpirationDate)
	}
	return sendBatch(ctx, r.pool, "upsert coupons", b)
}
