package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger menjaga counter total_stock/reserved_stock per product.
// Satu-satunya serialisasi adalah conditional UPDATE: tidak ada lock aplikasi.
type Ledger struct{ DB *pgxpool.Pool }

type ReserveInput struct {
	OrderID   string
	ProductID string
	UserID    string
	Qty       int
	TTL       time.Duration
}

// Reserve: sukses hanya kalau conditional update kena 1 row
// (reserved_stock + qty <= total_stock). Retry dengan (order_id, product_id)
// yang sama balikin reservation lama tanpa nambah counter lagi.
func (l *Ledger) Reserve(ctx context.Context, in ReserveInput) (Reservation, error) {
	// idempotent short-circuit
	if res, err := l.byOrderProduct(ctx, in.OrderID, in.ProductID); err == nil {
		return res, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, err
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reservation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE products
		SET reserved_stock = reserved_stock + $2, updated_at = now()
		WHERE id = $1 AND reserved_stock + $2 <= total_stock`,
		in.ProductID, in.Qty)
	if err != nil {
		return Reservation{}, err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, in.ProductID).Scan(&exists); err != nil {
			return Reservation{}, err
		}
		if !exists {
			return Reservation{}, ErrProductNotFound
		}
		return Reservation{}, ErrInsufficientStock
	}

	res := Reservation{
		ID:        uuid.NewString(),
		OrderID:   in.OrderID,
		ProductID: in.ProductID,
		UserID:    in.UserID,
		Qty:       in.Qty,
		Status:    StatusReserved,
		ExpiresAt: time.Now().UTC().Add(in.TTL),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_reservations(id, order_id, product_id, user_id, qty, status, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		res.ID, res.OrderID, res.ProductID, res.UserID, res.Qty, res.Status, res.ExpiresAt); err != nil {
		return Reservation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// Confirm: stok keluar beneran. total_stock & reserved_stock dua-duanya turun qty.
// Confirm row yang sudah CONFIRMED = no-op.
func (l *Ledger) Confirm(ctx context.Context, reservationID string) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := lockReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	switch res.Status {
	case StatusConfirmed:
		return nil // idempotent
	case StatusReleased:
		return ErrReservationMissing
	}

	if _, err := tx.Exec(ctx, `
		UPDATE products
		SET total_stock = total_stock - $2, reserved_stock = reserved_stock - $2, updated_at = now()
		WHERE id = $1`,
		res.ProductID, res.Qty); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE stock_reservations SET status = $2, updated_at = now() WHERE id = $1`,
		reservationID, StatusConfirmed); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Release: balikin hold. RESERVED -> reserved_stock turun; CONFIRMED -> stok
// dikembalikan (undo confirm, dipakai kompensasi Process/Recover). Idempotent.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := lockReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if err := releaseLocked(ctx, tx, res); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReleaseByOrder: kompensasi semua hold satu order dalam satu transaksi.
func (l *Ledger) ReleaseByOrder(ctx context.Context, orderID string) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, order_id, product_id, user_id, qty, status, expires_at, created_at, updated_at
		FROM stock_reservations
		WHERE order_id = $1 AND status IN ('RESERVED','CONFIRMED')
		FOR UPDATE`, orderID)
	if err != nil {
		return err
	}
	list, err := scanReservations(rows)
	if err != nil {
		return err
	}
	for _, res := range list {
		if err := releaseLocked(ctx, tx, res); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (l *Ledger) ListByOrder(ctx context.Context, orderID string) ([]Reservation, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id, order_id, product_id, user_id, qty, status, expires_at, created_at, updated_at
		FROM stock_reservations WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func (l *Ledger) byOrderProduct(ctx context.Context, orderID, productID string) (Reservation, error) {
	row := l.DB.QueryRow(ctx, `
		SELECT id, order_id, product_id, user_id, qty, status, expires_at, created_at, updated_at
		FROM stock_reservations WHERE order_id = $1 AND product_id = $2`, orderID, productID)
	return scanReservation(row)
}

func releaseLocked(ctx context.Context, tx pgx.Tx, res Reservation) error {
	switch res.Status {
	case StatusReleased:
		return nil // idempotent
	case StatusReserved:
		if _, err := tx.Exec(ctx, `
			UPDATE products SET reserved_stock = reserved_stock - $2, updated_at = now() WHERE id = $1`,
			res.ProductID, res.Qty); err != nil {
			return err
		}
	case StatusConfirmed:
		if _, err := tx.Exec(ctx, `
			UPDATE products SET total_stock = total_stock + $2, updated_at = now() WHERE id = $1`,
			res.ProductID, res.Qty); err != nil {
			return err
		}
	}
	_, err := tx.Exec(ctx, `
		UPDATE stock_reservations SET status = $2, updated_at = now() WHERE id = $1`,
		res.ID, StatusReleased)
	return err
}

func lockReservation(ctx context.Context, tx pgx.Tx, id string) (Reservation, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, order_id, product_id, user_id, qty, status, expires_at, created_at, updated_at
		FROM stock_reservations WHERE id = $1 FOR UPDATE`, id)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationMissing
	}
	return res, err
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var r Reservation
	err := row.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.UserID, &r.Qty, &r.Status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.UserID, &r.Qty, &r.Status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
