package coupons

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo = issuance & usage ledger. Kuota coupon (issued_count/used_count)
// cuma boleh berubah lewat sini, selalu via conditional update.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Get(ctx context.Context, couponID string) (Coupon, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, code, total_count, issued_count, used_count, discount_type,
		       discount_value, min_order_cents, max_discount_cents, valid_from, valid_until
		FROM coupons WHERE id = $1`, couponID)
	c, err := scanCoupon(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Coupon{}, ErrCouponNotFound
	}
	return c, err
}

// Issue: validasi code + window, lalu issued_count naik lewat conditional
// update (issued_count < total_count). Kalah race = ErrCouponExhausted.
func (r *Repo) Issue(ctx context.Context, couponID, userID, code string) (UserCoupon, error) {
	c, err := r.Get(ctx, couponID)
	if err != nil {
		return UserCoupon{}, err
	}
	if c.Code != code {
		return UserCoupon{}, ErrCodeMismatch
	}
	now := time.Now().UTC()
	if now.Before(c.ValidFrom) {
		return UserCoupon{}, ErrCouponNotYetValid
	}
	if now.After(c.ValidUntil) {
		return UserCoupon{}, ErrCouponExpired
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return UserCoupon{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE coupons SET issued_count = issued_count + 1
		WHERE id = $1 AND issued_count < total_count`, couponID)
	if err != nil {
		return UserCoupon{}, err
	}
	if ct.RowsAffected() == 0 {
		return UserCoupon{}, ErrCouponExhausted
	}

	uc := UserCoupon{
		ID:        uuid.NewString(),
		CouponID:  couponID,
		UserID:    userID,
		Status:    UserCouponIssued,
		ExpiresAt: c.ValidUntil,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_coupons(id, coupon_id, user_id, status, expires_at)
		VALUES ($1,$2,$3,$4,$5)`,
		uc.ID, uc.CouponID, uc.UserID, uc.Status, uc.ExpiresAt); err != nil {
		return UserCoupon{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return UserCoupon{}, err
	}
	return uc, nil
}

// CheckEligibility: validasi read-only buat fase Prepare, tidak mutasi apapun.
// Balikin calon discount supaya orchestrator bisa hitung final price duluan.
func (r *Repo) CheckEligibility(ctx context.Context, userCouponID, userID string, orderPriceCents int) (int, error) {
	uc, c, err := r.userCouponWithCoupon(ctx, r.DB, userCouponID, false)
	if err != nil {
		return 0, err
	}
	if uc.UserID != userID {
		return 0, ErrUserCouponNotFound
	}
	if err := usable(uc, c, orderPriceCents); err != nil {
		return 0, err
	}
	return ComputeDiscount(c, orderPriceCents), nil
}

// Use: tandai USED + used_count naik, satu transaksi. Use ulang dengan orderID
// yang sama balikin discount lama (idempotent utk re-drive Process).
func (r *Repo) Use(ctx context.Context, userCouponID, orderID string, orderPriceCents int) (int, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	uc, c, err := r.userCouponWithCoupon(ctx, tx, userCouponID, true)
	if err != nil {
		return 0, err
	}
	if uc.Status == UserCouponUsed && uc.OrderID != nil && *uc.OrderID == orderID {
		if uc.DiscountCents != nil {
			return *uc.DiscountCents, nil
		}
		return 0, nil
	}
	if err := usable(uc, c, orderPriceCents); err != nil {
		return 0, err
	}

	discount := ComputeDiscount(c, orderPriceCents)
	if _, err := tx.Exec(ctx, `
		UPDATE user_coupons
		SET status = $2, discount_cents = $3, order_id = $4, updated_at = now()
		WHERE id = $1`,
		userCouponID, UserCouponUsed, discount, orderID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`, uc.CouponID); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return discount, nil
}

// Revert: kompensasi Use. USED -> ISSUED + used_count turun. Idempotent:
// row yang sudah ISSUED/CANCELLED dibiarkan.
func (r *Repo) Revert(ctx context.Context, userCouponID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE user_coupons
		SET status = $2, discount_cents = NULL, order_id = NULL, updated_at = now()
		WHERE id = $1 AND status = $3`,
		userCouponID, UserCouponIssued, UserCouponUsed)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return nil // tidak pernah dipakai, atau sudah di-revert
	}
	if _, err := tx.Exec(ctx, `
		UPDATE coupons SET used_count = used_count - 1
		WHERE id = (SELECT coupon_id FROM user_coupons WHERE id = $1) AND used_count > 0`,
		userCouponID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Cancel: ISSUED -> CANCELLED + issued_count turun. Coupon yang belum pernah
// kepakai dibatalkan = slot kuotanya balik, bisa di-claim user lain.
func (r *Repo) Cancel(ctx context.Context, userCouponID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE user_coupons SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		userCouponID, UserCouponCancelled, UserCouponIssued)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return nil // sudah USED/CANCELLED, bukan urusan Cancel
	}
	if _, err := tx.Exec(ctx, `
		UPDATE coupons SET issued_count = issued_count - 1
		WHERE id = (SELECT coupon_id FROM user_coupons WHERE id = $1) AND issued_count > used_count`,
		userCouponID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) GetUserCoupon(ctx context.Context, userCouponID string) (UserCoupon, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, coupon_id, user_id, status, discount_cents, order_id, expires_at, created_at, updated_at
		FROM user_coupons WHERE id = $1`, userCouponID)
	uc, err := scanUserCoupon(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserCoupon{}, ErrUserCouponNotFound
	}
	return uc, err
}

// UsedByOrder: cari user_coupon yang kepakai utk satu order (buat Recover).
func (r *Repo) UsedByOrder(ctx context.Context, orderID string) (UserCoupon, bool, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, coupon_id, user_id, status, discount_cents, order_id, expires_at, created_at, updated_at
		FROM user_coupons WHERE order_id = $1 AND status = $2`, orderID, UserCouponUsed)
	uc, err := scanUserCoupon(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserCoupon{}, false, nil
	}
	if err != nil {
		return UserCoupon{}, false, err
	}
	return uc, true, nil
}

func usable(uc UserCoupon, c Coupon, orderPriceCents int) error {
	if uc.Status != UserCouponIssued {
		return ErrCouponNotUsable
	}
	if time.Now().UTC().After(uc.ExpiresAt) {
		return ErrCouponExpired
	}
	if orderPriceCents < c.MinOrderCents {
		return ErrMinOrderPrice
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repo) userCouponWithCoupon(ctx context.Context, q querier, userCouponID string, forUpdate bool) (UserCoupon, Coupon, error) {
	sfx := ""
	if forUpdate {
		sfx = " FOR UPDATE OF uc"
	}
	row := q.QueryRow(ctx, `
		SELECT uc.id, uc.coupon_id, uc.user_id, uc.status, uc.discount_cents, uc.order_id,
		       uc.expires_at, uc.created_at, uc.updated_at,
		       c.id, c.code, c.total_count, c.issued_count, c.used_count, c.discount_type,
		       c.discount_value, c.min_order_cents, c.max_discount_cents, c.valid_from, c.valid_until
		FROM user_coupons uc
		JOIN coupons c ON c.id = uc.coupon_id
		WHERE uc.id = $1`+sfx, userCouponID)

	var uc UserCoupon
	var c Coupon
	err := row.Scan(
		&uc.ID, &uc.CouponID, &uc.UserID, &uc.Status, &uc.DiscountCents, &uc.OrderID,
		&uc.ExpiresAt, &uc.CreatedAt, &uc.UpdatedAt,
		&c.ID, &c.Code, &c.TotalCount, &c.IssuedCount, &c.UsedCount, &c.DiscountType,
		&c.DiscountValue, &c.MinOrderCents, &c.MaxDiscountCents, &c.ValidFrom, &c.ValidUntil,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserCoupon{}, Coupon{}, ErrUserCouponNotFound
	}
	return uc, c, err
}

func scanCoupon(row pgx.Row) (Coupon, error) {
	var c Coupon
	err := row.Scan(&c.ID, &c.Code, &c.TotalCount, &c.IssuedCount, &c.UsedCount, &c.DiscountType,
		&c.DiscountValue, &c.MinOrderCents, &c.MaxDiscountCents, &c.ValidFrom, &c.ValidUntil)
	return c, err
}

func scanUserCoupon(row pgx.Row) (UserCoupon, error) {
	var uc UserCoupon
	err := row.Scan(&uc.ID, &uc.CouponID, &uc.UserID, &uc.Status, &uc.DiscountCents, &uc.OrderID,
		&uc.ExpiresAt, &uc.CreatedAt, &uc.UpdatedAt)
	return uc, err
}
