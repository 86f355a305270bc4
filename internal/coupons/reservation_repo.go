package coupons

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	kafkax "github.com/ariefcatur/go-commerce-saga.git/internal/kafka"
)

// ReservationRepo: langkah murah yang nyerap burst claim. Insert row PENDING
// + row outbox dalam SATU transaksi; issuance beratnya nyusul lewat consumer.
type ReservationRepo struct{ DB *pgxpool.Pool }

type ClaimInput struct {
	CouponID       string
	UserID         string
	CouponCode     string
	IdempotencyKey string
	TTL            time.Duration
	Producer       string
	TraceID        string
}

// Claim: idempotent via (coupon_id, user_id, idempotency_key). Retry balikin
// reservation lama tanpa outbox row baru.
func (r *ReservationRepo) Claim(ctx context.Context, in ClaimInput) (ClaimReservation, bool, error) {
	if res, err := r.byIdemKey(ctx, in.CouponID, in.UserID, in.IdempotencyKey); err == nil {
		return res, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return ClaimReservation{}, false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ClaimReservation{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res := ClaimReservation{
		ID:             uuid.NewString(),
		CouponID:       in.CouponID,
		UserID:         in.UserID,
		IdempotencyKey: in.IdempotencyKey,
		Status:         ReservationPending,
		ExpiresAt:      time.Now().UTC().Add(in.TTL),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO coupon_reservations(id, coupon_id, user_id, idempotency_key, status, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		res.ID, res.CouponID, res.UserID, res.IdempotencyKey, res.Status, res.ExpiresAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// dua first-claim identik lolos short-circuit barengan; yang kalah
			// ambil reservation punya pemenang
			_ = tx.Rollback(ctx)
			existing, lookupErr := r.byIdemKey(ctx, in.CouponID, in.UserID, in.IdempotencyKey)
			if lookupErr != nil {
				return ClaimReservation{}, false, lookupErr
			}
			return existing, true, nil
		}
		return ClaimReservation{}, false, err
	}

	// outbox row satu transaksi dengan reservation (hindari dual-write)
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventClaimRequested,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      in.Producer,
		TraceID:       in.TraceID,
		CorrelationID: res.ID,
	}
	ev.Payload = kafkax.MustMarshal(ClaimRequestedPayload{
		ReservationID: res.ID,
		CouponID:      res.CouponID,
		UserID:        res.UserID,
		CouponCode:    in.CouponCode,
	})
	if _, err := tx.Exec(ctx, `
		INSERT INTO coupon_outbox(event_id, topic, key, payload)
		VALUES ($1,$2,$3,$4)`,
		ev.EventID, TopicClaimRequested, res.CouponID, kafkax.MustMarshal(ev)); err != nil {
		return ClaimReservation{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ClaimReservation{}, false, err
	}
	return res, false, nil
}

func (r *ReservationRepo) Get(ctx context.Context, id string) (ClaimReservation, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, coupon_id, user_id, idempotency_key, status, failure_reason, user_coupon_id,
		       expires_at, created_at, updated_at
		FROM coupon_reservations WHERE id = $1`, id)
	res, err := scanClaimReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ClaimReservation{}, ErrReservationMissing
	}
	return res, err
}

// MarkCompleted: transisi cuma dari PENDING. Return false kalau row sudah
// terminal (consumer re-delivery → no-op).
func (r *ReservationRepo) MarkCompleted(ctx context.Context, id, userCouponID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE coupon_reservations
		SET status = $2, user_coupon_id = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, ReservationCompleted, userCouponID, ReservationPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *ReservationRepo) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE coupon_reservations
		SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, ReservationFailed, reason, ReservationPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// MarkTimeout: satu row PENDING yang ketahuan kedaluwarsa saat diproses.
func (r *ReservationRepo) MarkTimeout(ctx context.Context, id string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE coupon_reservations SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, ReservationTimeout, ReservationPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// SweepExpired: PENDING yang lewat TTL jadi TIMEOUT. Dipanggil sweeper.
func (r *ReservationRepo) SweepExpired(ctx context.Context, limit int) (int64, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE coupon_reservations SET status = $1, updated_at = now()
		WHERE id IN (
			SELECT id FROM coupon_reservations
			WHERE status = $2 AND expires_at < now()
			LIMIT $3
		)`,
		ReservationTimeout, ReservationPending, limit)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *ReservationRepo) byIdemKey(ctx context.Context, couponID, userID, key string) (ClaimReservation, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, coupon_id, user_id, idempotency_key, status, failure_reason, user_coupon_id,
		       expires_at, created_at, updated_at
		FROM coupon_reservations
		WHERE coupon_id = $1 AND user_id = $2 AND idempotency_key = $3`,
		couponID, userID, key)
	return scanClaimReservation(row)
}

func scanClaimReservation(row pgx.Row) (ClaimReservation, error) {
	var res ClaimReservation
	err := row.Scan(&res.ID, &res.CouponID, &res.UserID, &res.IdempotencyKey, &res.Status,
		&res.FailureReason, &res.UserCouponID, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
	return res, err
}
