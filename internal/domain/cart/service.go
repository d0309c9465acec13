package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/catalog"
	"github.com/xenking/pharmacart/internal/domain/pricing"
)

// View is a cart with its preview breakdown. Breakdown is nil for an empty cart.
type View struct {
	Cart      *Cart
	Breakdown *pricing.Breakdown
}

// Service implements cart mutations.
type Service struct {
	carts     Repository
	medicines catalog.MedicineRepository
	engine    *pricing.Engine
	now       func() time.Time
}

// NewService creates a cart Service.
func NewService(carts Repository, medicines catalog.MedicineRepository, engine *pricing.Engine) *Service {
	return &Service{
		carts:     carts,
		medicines: medicines,
		engine:    engine,
		now:       time.Now,
	}
}

// Get returns the user's cart with a preview using the default delivery charge.
func (s *Service) Get(ctx context.Context, userID string) (*View, error) {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, apperr.Dependency("get cart", err)
	}
	return s.view(c)
}

// AddItem adds qty of a medicine, resolving its current MRP and pharmacy.
func (s *Service) AddItem(ctx context.Context, userID, medicineID string, qty int) (*View, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	meds, err := catalog.MedicinesByID(ctx, s.medicines, []string{medicineID})
	if err != nil {
		return nil, err
	}
	m := meds[medicineID]

	return s.mutate(ctx, userID, func(c *Cart) error {
		return c.Add(Item{
			MedicineID:  m.ID,
			Name:        m.Name,
			Quantity:    qty,
			MRP:         m.MRP,
			PharmacyID:  m.PharmacyID,
			Description: m.Description,
			Images:      m.Images,
		})
	})
}

// SetQuantity sets a line's quantity, clamped to at least 1.
func (s *Service) SetQuantity(ctx context.Context, userID, medicineID string, qty int) (*View, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		return c.SetQuantity(medicineID, qty)
	})
}

// Decrement lowers a line's quantity by one, never below 1.
func (s *Service) Decrement(ctx context.Context, userID, medicineID string) (*View, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		return c.Decrement(medicineID)
	})
}

// RemoveItem deletes a line.
func (s *Service) RemoveItem(ctx context.Context, userID, medicineID string) (*View, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		return c.Remove(medicineID)
	})
}

func (s *Service) mutate(ctx context.Context, userID string, fn func(c *Cart) error) (*View, error) {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, apperr.Dependency("get cart", err)
	}
	if err := fn(c); err != nil {
		return nil, err
	}

	expected := c.Version
	c.UpdatedAt = s.now().UTC()
	if err := s.carts.Save(ctx, c, expected); err != nil {
		if errors.Is(err, ErrStaleCart) {
			return nil, ErrStaleCart
		}
		return nil, apperr.Dependency("save cart", err)
	}
	return s.view(c)
}

func (s *Service) view(c *Cart) (*View, error) {
	v := &View{Cart: c}
	if len(c.Items) == 0 {
		return v, nil
	}
	b, err := s.engine.Price(c.Lines(), pricing.Delivery{}, nil, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "price cart")
	}
	v.Breakdown = &b
	return v, nil
}
