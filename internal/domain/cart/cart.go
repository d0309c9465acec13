// Package cart manages the customer's shopping cart. Every mutation bumps
// Version, which checkout uses as an optimistic concurrency token.
package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/pricing"
)

var (
	// ErrStaleCart is returned when the cart changed since the caller read it.
	ErrStaleCart = apperr.New(apperr.KindConflict, "stale_cart", "cart was modified, reload and retry")
	// ErrItemNotInCart is returned when mutating an absent line.
	ErrItemNotInCart = apperr.New(apperr.KindNotFound, "item_not_in_cart", "item not in cart")
	// ErrInvalidQuantity is returned for a requested quantity below 1.
	ErrInvalidQuantity = apperr.New(apperr.KindValidation, "invalid_quantity", "quantity must be at least 1")
)

// Item is one cart line. MRP is captured when the item is added.
type Item struct {
	MedicineID  string
	Name        string
	Quantity    int
	MRP         decimal.Decimal
	PharmacyID  string
	Description string
	Images      []string
}

// Cart is a user's cart. Version 0 means the cart was never saved.
type Cart struct {
	UserID    string
	Items     []Item
	Version   int64
	UpdatedAt time.Time
}

func (c *Cart) index(medicineID string) int {
	for i := range c.Items {
		if c.Items[i].MedicineID == medicineID {
			return i
		}
	}
	return -1
}

// Add merges item into the cart, adding quantities for an existing line and
// refreshing its price.
func (c *Cart) Add(item Item) error {
	if item.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if i := c.index(item.MedicineID); i >= 0 {
		qty := c.Items[i].Quantity + item.Quantity
		c.Items[i] = item
		c.Items[i].Quantity = qty
		return nil
	}
	c.Items = append(c.Items, item)
	return nil
}

// SetQuantity sets a line's quantity, clamped to at least 1.
func (c *Cart) SetQuantity(medicineID string, qty int) error {
	i := c.index(medicineID)
	if i < 0 {
		return ErrItemNotInCart
	}
	c.Items[i].Quantity = max(qty, 1)
	return nil
}

// Decrement lowers a line's quantity by one, never below 1.
func (c *Cart) Decrement(medicineID string) error {
	return c.SetQuantityBy(medicineID, -1)
}

// SetQuantityBy adjusts a line's quantity by delta, clamped to at least 1.
func (c *Cart) SetQuantityBy(medicineID string, delta int) error {
	i := c.index(medicineID)
	if i < 0 {
		return ErrItemNotInCart
	}
	c.Items[i].Quantity = max(c.Items[i].Quantity+delta, 1)
	return nil
}

// Remove deletes a line.
func (c *Cart) Remove(medicineID string) error {
	i := c.index(medicineID)
	if i < 0 {
		return ErrItemNotInCart
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return nil
}

// Lines converts the cart into pricing lines.
func (c *Cart) Lines() []pricing.Line {
	lines := make([]pricing.Line, len(c.Items))
	for i, it := range c.Items {
		lines[i] = pricing.Line{
			ItemID:    it.MedicineID,
			Name:      it.Name,
			UnitPrice: it.MRP,
			Quantity:  it.Quantity,
			VendorID:  it.PharmacyID,
		}
	}
	return lines
}

// PharmacyIDs returns the distinct pharmacies in cart order.
func (c *Cart) PharmacyIDs() []string {
	seen := make(map[string]struct{}, len(c.Items))
	var ids []string
	for _, it := range c.Items {
		if it.PharmacyID == "" {
			continue
		}
		if _, ok := seen[it.PharmacyID]; ok {
			continue
		}
		seen[it.PharmacyID] = struct{}{}
		ids = append(ids, it.PharmacyID)
	}
	return ids
}

// Repository persists carts with optimistic versioning.
type Repository interface {
	// Get returns the user's cart, or an empty cart with Version 0.
	Get(ctx context.Context, userID string) (*Cart, error)
	// Save stores c if the stored version equals expected and sets
	// c.Version to expected+1. Returns ErrStaleCart otherwise.
	Save(ctx context.Context, c *Cart, expected int64) error
	// Clear empties the cart if the stored version equals expected.
	// Returns ErrStaleCart otherwise.
	Clear(ctx context.Context, userID string, expected int64) error
}
