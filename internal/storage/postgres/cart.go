package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/cart"
	"github.com/xenking/pharmacart/internal/domain/order"
)

const (
	getCartSQL = `SELECT items, version, updated_at FROM carts WHERE user_id = $1`

	insertCartSQL = `INSERT INTO carts (user_id, items, version, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id) DO NOTHING`

	updateCartSQL = `UPDATE carts SET items = $2, version = version + 1, updated_at = $4
		WHERE user_id = $1 AND version = $3`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Items are
// stored as a JSONB array and every write bumps the version column.
type CartRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool, now: time.Now}
}

// Get returns the stored cart or an empty cart with version 0.
func (r *CartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	var (
		raw []byte
		c   = cart.Cart{UserID: userID}
	)
	err := r.pool.QueryRow(ctx, getCartSQL, userID).Scan(&raw, &c.Version, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &c, nil
		}
		return nil, apperr.Dependency("get cart", err)
	}
	items, err := decodeCartItems(raw)
	if err != nil {
		return nil, apperr.Dependency("decode cart", err)
	}
	c.Items = items
	return &c, nil
}

// Save writes c when the stored version equals expected. A cart that was
// never saved has version 0.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart, expected int64) error {
	return r.write(ctx, c.UserID, c.Items, expected, func(at time.Time) {
		c.Version = expected + 1
		c.UpdatedAt = at
	})
}

// Clear empties the cart when the stored version equals expected.
func (r *CartRepository) Clear(ctx context.Context, userID string, expected int64) error {
	return r.write(ctx, userID, nil, expected, func(time.Time) {})
}

func (r *CartRepository) write(ctx context.Context, userID string, items []cart.Item, expected int64, done func(time.Time)) error {
	raw := encodeCartItems(items)
	at := r.now().UTC()

	var (
		tag pgconn.CommandTag
		err error
	)
	if expected == 0 {
		tag, err = r.pool.Exec(ctx, insertCartSQL, userID, raw, at)
	} else {
		tag, err = r.pool.Exec(ctx, updateCartSQL, userID, raw, expected, at)
	}
	if err != nil {
		return apperr.Dependency("save cart", err)
	}
	if tag.RowsAffected() != 1 {
		return cart.ErrStaleCart
	}
	done(at)
	return nil
}

func encodeCartItems(items []cart.Item) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("medicineId")
		e.Str(it.MedicineID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("mrp")
		order.EncodeMoney(e, it.MRP)
		e.FieldStart("pharmacyId")
		e.Str(it.PharmacyID)
		e.FieldStart("description")
		e.Str(it.Description)
		e.FieldStart("images")
		e.ArrStart()
		for _, img := range it.Images {
			e.Str(img)
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ArrEnd()

	return append([]byte(nil), e.Bytes()...)
}

func decodeCartItems(raw []byte) ([]cart.Item, error) {
	var items []cart.Item
	err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		var it cart.Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "medicineId":
				it.MedicineID, err = d.Str()
			case "name":
				it.Name, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			case "mrp":
				it.MRP, err = order.DecodeMoney(d)
			case "pharmacyId":
				it.PharmacyID, err = d.Str()
			case "description":
				it.Description, err = d.Str()
			case "images":
				err = d.Arr(func(d *jx.Decoder) error {
					s, err := d.Str()
					it.Images = append(it.Images, s)
					return err
				})
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode cart items")
	}
	return items, nil
}
