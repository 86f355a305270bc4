package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE user_balances, point_transactions`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func mustBalance(t *testing.T, l *Ledger, userID string) int64 {
	t.Helper()
	b, err := l.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

// balance=5000, 10 Use(1000) paralel dengan ref berbeda: tepat 5 sukses,
// 5 ditolak insufficient, saldo akhir 0, tidak pernah negatif.
func TestUse_Concurrent(t *testing.T) {
	pool := setupDB(t)
	l := &Ledger{DB: pool}
	ctx := context.Background()

	if err := l.Charge(ctx, "u1", 5000, "seed-u1"); err != nil {
		t.Fatalf("charge: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- l.Use(ctx, "u1", 1000, fmt.Sprintf("order-%d", i))
		}(i)
	}
	wg.Wait()
	close(results)

	okCount, failCount := 0, 0
	for err := range results {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrInsufficientBalance):
			failCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 5 || failCount != 5 {
		t.Fatalf("ok=%d fail=%d, want 5/5", okCount, failCount)
	}
	if b := mustBalance(t, l, "u1"); b != 0 {
		t.Fatalf("balance = %d, want 0", b)
	}
}

func TestCharge_DuplicateRefRejected(t *testing.T) {
	pool := setupDB(t)
	l := &Ledger{DB: pool}
	ctx := context.Background()

	if err := l.Charge(ctx, "u1", 3000, "topup-1"); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if err := l.Charge(ctx, "u1", 3000, "topup-1"); !errors.Is(err, ErrDuplicateTxn) {
		t.Fatalf("second charge err = %v, want ErrDuplicateTxn", err)
	}
	if b := mustBalance(t, l, "u1"); b != 3000 {
		t.Fatalf("balance = %d, want 3000 (no double credit)", b)
	}
}

// Use yang ditolak tidak boleh ninggalin row USE di log: ref yang sama harus
// bisa dicoba lagi setelah saldo cukup.
func TestUse_RejectedLeavesNoTrace(t *testing.T) {
	pool := setupDB(t)
	l := &Ledger{DB: pool}
	ctx := context.Background()

	if err := l.Charge(ctx, "u1", 500, "seed-u1"); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if err := l.Use(ctx, "u1", 1000, "order-1"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("use err = %v, want ErrInsufficientBalance", err)
	}
	if err := l.Charge(ctx, "u1", 500, "seed-u1-2"); err != nil {
		t.Fatalf("second charge: %v", err)
	}
	if err := l.Use(ctx, "u1", 1000, "order-1"); err != nil {
		t.Fatalf("retry use: %v", err)
	}
	if b := mustBalance(t, l, "u1"); b != 0 {
		t.Fatalf("balance = %d, want 0", b)
	}
}

func TestRecover_AppliedOnce(t *testing.T) {
	pool := setupDB(t)
	l := &Ledger{DB: pool}
	ctx := context.Background()

	if err := l.Charge(ctx, "u1", 5000, "seed-u1"); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if err := l.Use(ctx, "u1", 2000, "order-1"); err != nil {
		t.Fatalf("use: %v", err)
	}

	applied, err := l.Recover(ctx, "u1", 2000, "order-1")
	if err != nil || !applied {
		t.Fatalf("recover = (%v, %v), want applied", applied, err)
	}
	applied, err = l.Recover(ctx, "u1", 2000, "order-1")
	if err != nil || applied {
		t.Fatalf("second recover = (%v, %v), want no-op", applied, err)
	}
	if b := mustBalance(t, l, "u1"); b != 5000 {
		t.Fatalf("balance = %d, want 5000", b)
	}
}

// Recover tanpa USE sebelumnya = no-op, bukan mencetak poin gratis.
func TestRecover_WithoutUseIsNoop(t *testing.T) {
	pool := setupDB(t)
	l := &Ledger{DB: pool}
	ctx := context.Background()

	if err := l.Charge(ctx, "u1", 1000, "seed-u1"); err != nil {
		t.Fatalf("charge: %v", err)
	}
	applied, err := l.Recover(ctx, "u1", 2000, "order-never-used")
	if err != nil || applied {
		t.Fatalf("recover = (%v, %v), want no-op", applied, err)
	}
	if b := mustBalance(t, l, "u1"); b != 1000 {
		t.Fatalf("balance = %d, want 1000", b)
	}
}

func TestUse_InvalidAmount(t *testing.T) {
	l := &Ledger{}
	if err := l.Use(context.Background(), "u1", 0, "order-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if err := l.Charge(context.Background(), "u1", -5, "topup"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}
