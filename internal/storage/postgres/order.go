package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/order"
	"github.com/xenking/pharmacart/internal/domain/payment"
)

const (
	transactionIDConstraint = "orders_transaction_id_key"

	insertOrderSQL = `INSERT INTO orders (id, user_id, status, transaction_id, pharmacy_ids,
			assigned_rider_id, total_payable, document, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getOrderSQL = `SELECT document, version FROM orders WHERE id = $1`

	updateOrderSQL = `UPDATE orders
		SET status = $3, transaction_id = $4, pharmacy_ids = $5, assigned_rider_id = $6,
			total_payable = $7, document = $8, version = $9, updated_at = $10
		WHERE id = $1 AND version = $2`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1 AND version = $2`

	transactionUsedSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE transaction_id = $1)`

	insertEventSQL = `INSERT INTO order_outbox (id, order_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Each
// write stores the order and appends its events to order_outbox in the same
// transaction.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order with its events.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, events []order.Event) error {
	return r.CreateBatch(ctx, []*order.Order{o}, events)
}

// CreateBatch persists orders and events atomically. New orders start at
// version 1.
func (r *OrderRepository) CreateBatch(ctx context.Context, orders []*order.Order, events []order.Event) error {
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, o := range orders {
			if err := insertOrder(ctx, tx, o); err != nil {
				return err
			}
		}
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		if isUniqueViolation(err, transactionIDConstraint) {
			return payment.ErrPaymentAlreadyUsed.With(err)
		}
		return apperr.Dependency("create orders", err)
	}
	return nil
}

// Get returns order.ErrNotFound for an unknown id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var (
		doc     []byte
		version int64
	)
	if err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(&doc, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, apperr.Dependency("get order", err)
	}

	var o order.Order
	if err := o.UnmarshalJSON(doc); err != nil {
		return nil, apperr.Dependency("decode order", errors.Wrapf(err, "order %q", id))
	}
	o.Version = version
	return &o, nil
}

// Update stores o when the stored version equals expected.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order, expected int64, events []order.Event) error {
	o.Version = expected + 1
	doc, err := o.MarshalJSON()
	if err != nil {
		o.Version = expected
		return errors.Wrap(err, "encode order")
	}

	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateOrderSQL,
			o.ID, expected, string(o.Status), nullable(o.Payment.TransactionID), pharmacyIDs(o),
			o.AssignedRiderID, o.Pricing.TotalPayable, doc, o.Version, o.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return order.ErrConcurrentUpdate
		}
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		o.Version = expected
		if errors.Is(err, order.ErrConcurrentUpdate) {
			return order.ErrConcurrentUpdate
		}
		return apperr.Dependency("update order", err)
	}
	return nil
}

// Delete removes the order when the stored version equals expected.
func (r *OrderRepository) Delete(ctx context.Context, id string, expected int64, events []order.Event) error {
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, deleteOrderSQL, id, expected)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return order.ErrConcurrentUpdate
		}
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		if errors.Is(err, order.ErrConcurrentUpdate) {
			return order.ErrConcurrentUpdate
		}
		return apperr.Dependency("delete order", err)
	}
	return nil
}

// TransactionUsed reports whether ref is attached to any stored order.
func (r *OrderRepository) TransactionUsed(ctx context.Context, ref string) (bool, error) {
	var used bool
	if err := r.pool.QueryRow(ctx, transactionUsedSQL, ref).Scan(&used); err != nil {
		return false, apperr.Dependency("check transaction", err)
	}
	return used, nil
}

func insertOrder(ctx context.Context, q querier, o *order.Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	doc, err := o.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "encode order")
	}
	_, err = q.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, string(o.Status), nullable(o.Payment.TransactionID), pharmacyIDs(o),
		o.AssignedRiderID, o.Pricing.TotalPayable, doc, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert order %q", o.ID)
	}
	return nil
}

func insertEvents(ctx context.Context, q querier, events []order.Event) error {
	for _, ev := range events {
		if _, err := q.Exec(ctx, insertEventSQL, ev.ID, ev.OrderID, string(ev.Type), ev.Payload, ev.OccurredAt); err != nil {
			return errors.Wrapf(err, "insert event %s", ev.Type)
		}
	}
	return nil
}

func pharmacyIDs(o *order.Order) []string {
	ids := o.PharmacyIDs()
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
