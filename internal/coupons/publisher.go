package coupons

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-commerce-saga.git/internal/kafka"
	"github.com/ariefcatur/go-commerce-saga.git/internal/metrics"
)

// Publisher ngurasin coupon_outbox ke bus. Row ditandai published di transaksi
// yang sama dengan pull; kalau broker nolak, transaksi rollback dan row
// ke-pull lagi di tick berikutnya (at-least-once, consumer yang dedup).
type Publisher struct {
	DB       *pgxpool.Pool
	Outbox   *OutboxRepo
	Producer *kafkax.Producer
	Log      *zap.Logger
	Interval time.Duration
	Batch    int
}

func (p *Publisher) Run(ctx context.Context) {
	t := time.NewTicker(p.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.drainOnce(ctx); err != nil {
				p.Log.Warn("outbox drain", zap.Error(err))
			}
			if n, err := p.Outbox.CountUnpublished(ctx); err == nil {
				metrics.OutboxLag.Set(float64(n))
			}
		}
	}
}

func (p *Publisher) drainOnce(ctx context.Context) error {
	for {
		n, err := p.drainBatch(ctx)
		if err != nil || n == 0 {
			return err
		}
	}
}

func (p *Publisher) drainBatch(ctx context.Context) (int, error) {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := p.Outbox.PullUnpublished(ctx, tx, p.Batch)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		err := p.Producer.PublishSync(ctx, r.Topic, PartitionKey(r.Key), r.Payload,
			kafkago.Header{Key: "x-event-type", Value: []byte(EventClaimRequested)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
		if err != nil {
			metrics.ClaimEvents.WithLabelValues("publish", "error").Inc()
			return 0, err
		}
		metrics.ClaimEvents.WithLabelValues("publish", "ok").Inc()
		ids = append(ids, r.ID)
	}
	if err := p.Outbox.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(rows), nil
}
