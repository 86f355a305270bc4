package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger: balance per user + append-only transaction log.
// UNIQUE(ref_id, type) di point_transactions yang nolak double-apply.
type Ledger struct{ DB *pgxpool.Pool }

func (l *Ledger) Charge(ctx context.Context, userID string, amount int64, refID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO point_transactions(id, user_id, amount, type, ref_id)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (ref_id, type) DO NOTHING`,
		uuid.NewString(), userID, amount, TxnCharge, refID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicateTxn
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_balances(user_id, balance) VALUES ($1,$2)
		ON CONFLICT (user_id) DO UPDATE SET balance = user_balances.balance + $2`,
		userID, amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Use: conditional decrement, gagal ErrInsufficientBalance kalau saldo kurang.
// Banyak Use paralel ke user yang sama diserialisasi oleh update ini saja.
func (l *Ledger) Use(ctx context.Context, userID string, amount int64, refID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO point_transactions(id, user_id, amount, type, ref_id)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (ref_id, type) DO NOTHING`,
		uuid.NewString(), userID, amount, TxnUse, refID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicateTxn
	}

	ct, err = tx.Exec(ctx, `
		UPDATE user_balances SET balance = balance - $2
		WHERE user_id = $1 AND balance >= $2`,
		userID, amount)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrInsufficientBalance // rollback buang juga row USE-nya
	}
	return tx.Commit(ctx)
}

// Recover: kompensasi USE. Kredit balik cuma kalau memang ada USE utk refID
// dan belum pernah ada RECOVER utk refID yang sama. Panggilan kedua = no-op.
func (l *Ledger) Recover(ctx context.Context, userID string, amount int64, refID string) (applied bool, err error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO point_transactions(id, user_id, amount, type, ref_id)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (
			SELECT 1 FROM point_transactions WHERE ref_id = $5 AND type = 'USE'
		)
		ON CONFLICT (ref_id, type) DO NOTHING`,
		uuid.NewString(), userID, amount, TxnRecover, refID)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil // sudah di-recover, atau tidak ada USE sama sekali
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_balances(user_id, balance) VALUES ($1,$2)
		ON CONFLICT (user_id) DO UPDATE SET balance = user_balances.balance + $2`,
		userID, amount); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var b int64
	err := l.DB.QueryRow(ctx, `SELECT balance FROM user_balances WHERE user_id=$1`, userID).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return b, err
}

func (l *Ledger) Transactions(ctx context.Context, userID string) ([]Transaction, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id, user_id, amount, type, ref_id, created_at
		FROM point_transactions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.RefID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
