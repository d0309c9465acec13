package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pharmacart/internal/domain/apperr"
	"github.com/xenking/pharmacart/internal/outbox"
)

const (
	fetchPendingSQL = `SELECT seq, id::text, order_id, event_type, payload, occurred_at
		FROM order_outbox WHERE sent_at IS NULL ORDER BY seq LIMIT $1`

	markSentSQL = `UPDATE order_outbox SET sent_at = now() WHERE seq = ANY($1)`
)

var _ outbox.Store = (*OutboxRepository)(nil)

// OutboxRepository reads and acknowledges order_outbox rows.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// FetchPending returns up to limit unsent events in insertion order.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]outbox.Message, error) {
	rows, err := r.pool.Query(ctx, fetchPendingSQL, limit)
	if err != nil {
		return nil, apperr.Dependency("fetch outbox", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Message, error) {
		var m outbox.Message
		err := row.Scan(&m.Seq, &m.ID, &m.OrderID, &m.Type, &m.Payload, &m.OccurredAt)
		return m, err
	})
	if err != nil {
		return nil, apperr.Dependency("fetch outbox", err)
	}
	return msgs, nil
}

// MarkSent stamps sent_at on the given rows.
func (r *OutboxRepository) MarkSent(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, markSentSQL, seqs); err != nil {
		return apperr.Dependency("mark outbox sent", err)
	}
	return nil
}
