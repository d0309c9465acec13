// Package outbox relays order events written to the transactional outbox
// table to the message broker.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Message is one stored event.
type Message struct {
	Seq        int64
	ID         string
	OrderID    string
	Type       string
	Payload    []byte
	OccurredAt time.Time
}

// Store reads pending messages and acknowledges published ones.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, seqs []int64) error
}

// Publisher delivers messages in the given order.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
}

// Config tunes the relay loop.
type Config struct {
	Interval  time.Duration
	BatchSize int
	// Parallelism bounds how many orders are published concurrently.
	Parallelism int
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 8
	}
}

// Relay polls the store and publishes pending messages. Messages of one
// order are published sequentially; different orders go out in parallel.
type Relay struct {
	store Store
	pub   Publisher
	cfg   Config
	lg    *zap.Logger

	published metric.Int64Counter
	failed    metric.Int64Counter
}

// NewRelay creates a Relay. A nil MeterProvider disables metrics.
func NewRelay(store Store, pub Publisher, cfg Config, mp metric.MeterProvider, lg *zap.Logger) (*Relay, error) {
	cfg.setDefaults()
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	meter := mp.Meter("github.com/xenking/pharmacart/internal/outbox")
	published, err := meter.Int64Counter("outbox.published",
		metric.WithDescription("Order events published to the broker"))
	if err != nil {
		return nil, errors.Wrap(err, "create published counter")
	}
	failed, err := meter.Int64Counter("outbox.publish_failures",
		metric.WithDescription("Order events that failed to publish"))
	if err != nil {
		return nil, errors.Wrap(err, "create failures counter")
	}
	return &Relay{store: store, pub: pub, cfg: cfg, lg: lg, published: published, failed: failed}, nil
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.lg.Info("Outbox relay started", zap.Duration("interval", r.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			r.lg.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.lg.Warn("Outbox flush failed", zap.Error(err))
			}
		}
	}
}

// Flush publishes one batch and returns how many messages were acknowledged.
// Orders whose publish fails stay pending and are retried on the next flush.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.store.FetchPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "fetch pending")
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	groups := groupByOrder(msgs)
	sent := make([][]int64, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for i, grp := range groups {
		g.Go(func() error {
			if err := r.pub.Publish(gctx, grp); err != nil {
				r.failed.Add(gctx, int64(len(grp)))
				r.lg.Warn("Publish order events failed",
					zap.String("order_id", grp[0].OrderID),
					zap.Int("events", len(grp)),
					zap.Error(err),
				)
				return nil
			}
			seqs := make([]int64, len(grp))
			for j, m := range grp {
				seqs[j] = m.Seq
			}
			sent[i] = seqs
			return nil
		})
	}
	_ = g.Wait()

	var acked []int64
	for _, s := range sent {
		acked = append(acked, s...)
	}
	if len(acked) == 0 {
		return 0, nil
	}
	if err := r.store.MarkSent(ctx, acked); err != nil {
		return 0, errors.Wrap(err, "mark sent")
	}
	r.published.Add(ctx, int64(len(acked)))
	return len(acked), nil
}

// groupByOrder splits msgs per order keeping first-seen order of orders and
// sequence order within each.
func groupByOrder(msgs []Message) [][]Message {
	index := make(map[string]int)
	var groups [][]Message
	for _, m := range msgs {
		i, ok := index[m.OrderID]
		if !ok {
			i = len(groups)
			index[m.OrderID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}
