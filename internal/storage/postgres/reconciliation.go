package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/domain/order"
)

const insertReconciliationSQL = `INSERT INTO payment_reconciliation
		(transaction_id, user_id, order_id, amount, reason, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

var _ order.ReconciliationLog = (*ReconciliationLog)(nil)

// ReconciliationLog appends to payment_reconciliation.
type ReconciliationLog struct {
	pool *pgxpool.Pool
}

// NewReconciliationLog returns a ReconciliationLog that uses the given pool.
func NewReconciliationLog(pool *pgxpool.Pool) *ReconciliationLog {
	return &ReconciliationLog{pool: pool}
}

// Record stores one captured-but-unpersisted payment.
func (l *ReconciliationLog) Record(ctx context.Context, rec order.Reconciliation) error {
	_, err := l.pool.Exec(ctx, insertReconciliationSQL,
		rec.TransactionID, rec.UserID, rec.OrderID, rec.Amount, rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		return apperr.Dependency("record reconciliation", err)
	}
	return nil
}
