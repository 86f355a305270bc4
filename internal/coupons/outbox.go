package coupons

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OutboxRow struct {
	ID      int64
	EventID string
	Topic   string
	Key     string
	Payload []byte
}

type OutboxRepo struct{ DB *pgxpool.Pool }

// PullUnpublished: ambil batch di dalam transaksi dengan SKIP LOCKED supaya
// beberapa publisher bisa jalan paralel tanpa dobel-ambil batch yang sama.
// Caller publish lalu MarkPublished di tx yang sama; gagal publish = rollback
// = row ke-pull lagi nanti (at-least-once).
func (o *OutboxRepo) PullUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, topic, key, payload
		FROM coupon_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var r OutboxRow
		if err := rows.Scan(&r.ID, &r.EventID, &r.Topic, &r.Key, &r.Payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (o *OutboxRepo) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE coupon_outbox SET published_at = now() WHERE id = ANY($1)`, ids)
	return err
}

func (o *OutboxRepo) CountUnpublished(ctx context.Context) (int64, error) {
	var n int64
	err := o.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM coupon_outbox WHERE published_at IS NULL`).Scan(&n)
	return n, err
}
