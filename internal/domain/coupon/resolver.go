package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Resolver turns an optional user supplied code into a usable Coupon.
type Resolver interface {
	Resolve(ctx context.Context, code string) (*Coupon, error)
}

// RepoResolver implements Resolver by looking coupons up in a Repository and
// rejecting expired or malformed ones.
type RepoResolver struct {
	repo Repository
	now  func() time.Time
}

// NewRepoResolver creates a RepoResolver backed by the given Repository.
func NewRepoResolver(repo Repository) *RepoResolver {
	return &RepoResolver{repo: repo, now: time.Now}
}

// Resolve returns (nil, nil) for an empty code.
func (r *RepoResolver) Resolve(ctx context.Context, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, nil
	}

	c, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !c.Valid() {
		return nil, ErrInvalidCoupon
	}
	if c.Expired(r.now()) {
		return nil, ErrExpiredCoupon
	}
	return c, nil
}
