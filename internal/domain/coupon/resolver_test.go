package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	coupon   *Coupon
	err      error
	lastCode string
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lastCode = code
	return m.coupon, m.err
}

func TestRepoResolver_Resolve(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name    string
		repo    *mockCouponRepo
		code    string
		wantPct string
		wantNil bool
		wantErr error
	}{
		{
			name:    "empty code resolves to no coupon",
			repo:    &mockCouponRepo{},
			code:    "   ",
			wantNil: true,
		},
		{
			name: "valid coupon",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:               "SAVE10",
				DiscountPercentage: decimal.NewFromInt(10),
				ExpirationDate:     future,
			}},
			code:    "save10",
			wantPct: "10",
		},
		{
			name: "no expiration date never expires",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:               "FOREVER",
				DiscountPercentage: decimal.NewFromInt(5),
			}},
			code:    "FOREVER",
			wantPct: "5",
		},
		{
			name:    "unknown code",
			repo:    &mockCouponRepo{err: ErrInvalidCoupon},
			code:    "BOGUS",
			wantErr: ErrInvalidCoupon,
		},
		{
			name: "expired coupon",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:               "OLD",
				DiscountPercentage: decimal.NewFromInt(10),
				ExpirationDate:     past,
			}},
			code:    "OLD",
			wantErr: ErrExpiredCoupon,
		},
		{
			name: "percentage above 100 is invalid",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code:               "BROKEN",
				DiscountPercentage: decimal.NewFromInt(150),
			}},
			code:    "BROKEN",
			wantErr: ErrInvalidCoupon,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRepoResolver(tt.repo)
			r.now = func() time.Time { return fixedNow }

			got, err := r.Resolve(context.Background(), tt.code)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, decimal.RequireFromString(tt.wantPct).Equal(got.DiscountPercentage))
			assert.Equal(t, NormalizeCode(tt.code), tt.repo.lastCode)
		})
	}
}

func TestRepoResolver_RepositoryError(t *testing.T) {
	r := NewRepoResolver(&mockCouponRepo{err: errors.New("db down")})

	_, err := r.Resolve(context.Background(), "SAVE10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup coupon")
}
