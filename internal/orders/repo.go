package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// Create: order PENDING + items satu transaksi. idempotency_key UNIQUE;
// retry dengan key sama dapet ErrOrderExists, order lama tidak disentuh.
func (r *Repo) Create(ctx context.Context, o Order, items []OrderItem) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, total_cents, discount_cents, final_cents, status,
		                   idempotency_key, applied_user_coupon_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.UserID, o.TotalCents, o.DiscountCents, o.FinalCents, o.Status,
		o.IdempotencyKey, o.AppliedUserCouponID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrOrderExists
		}
		return err
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, qty, price_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, it.OrderID, it.ProductID, it.Qty, it.PriceCents, it.TotalCents); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, user_id, total_cents, discount_cents, final_cents, status, failure_reason,
		       idempotency_key, applied_user_coupon_id, created_at, updated_at
		FROM orders WHERE id = $1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

func (r *Repo) ByIdempotencyKey(ctx context.Context, key string) (Order, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, user_id, total_cents, discount_cents, final_cents, status, failure_reason,
		       idempotency_key, applied_user_coupon_id, created_at, updated_at
		FROM orders WHERE idempotency_key = $1`, key)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

func (r *Repo) Items(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, qty, price_cents, total_cents
		FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.PriceCents, &it.TotalCents); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdatePricing: discount ketahuan baru di Prepare (setelah coupon dicek).
// Cuma boleh selama masih PENDING.
func (r *Repo) UpdatePricing(ctx context.Context, orderID string, discountCents, finalCents int) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET discount_cents = $2, final_cents = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		orderID, discountCents, finalCents, StatusPending)
	return err
}

// MarkSuccess / MarkFailed: transisi state machine di-enforce oleh kondisi
// status='PENDING'; terminal state nggak bisa ditimpa.
func (r *Repo) MarkSuccess(ctx context.Context, orderID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		orderID, StatusSuccess, StatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *Repo) MarkFailed(ctx context.Context, orderID, reason string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		orderID, StatusFailed, reason, StatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// MarkCompensated: Recover selesai utuh; sweeper berhenti ngulang order ini.
func (r *Repo) MarkCompensated(ctx context.Context, orderID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET compensated_at = now(), updated_at = now()
		WHERE id = $1 AND compensated_at IS NULL`, orderID)
	return err
}

// FindStalePending: PENDING yang kelamaan = saga-nya diduga mati di tengah.
func (r *Repo) FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	return r.findIDs(ctx, `
		SELECT id FROM orders
		WHERE status = $1 AND updated_at < now() - ($2 * interval '1 second')
		ORDER BY updated_at
		LIMIT $3`,
		StatusPending, int64(olderThan.Seconds()), limit)
}

// FindFailedUncompensated: FAILED yang kompensasinya belum dikonfirmasi beres.
func (r *Repo) FindFailedUncompensated(ctx context.Context, limit int) ([]string, error) {
	return r.findIDs(ctx, `
		SELECT id FROM orders
		WHERE status = $1 AND compensated_at IS NULL
		ORDER BY updated_at
		LIMIT $2`,
		StatusFailed, limit)
}

func (r *Repo) findIDs(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.TotalCents, &o.DiscountCents, &o.FinalCents, &o.Status,
		&o.FailureReason, &o.IdempotencyKey, &o.AppliedUserCouponID, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
