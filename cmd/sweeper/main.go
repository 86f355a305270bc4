package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-saga.git/internal/catalog"
	"github.com/ariefcatur/go-commerce-saga.git/internal/config"
	"github.com/ariefcatur/go-commerce-saga.git/internal/coupons"
	"github.com/ariefcatur/go-commerce-saga.git/internal/orders"
	"github.com/ariefcatur/go-commerce-saga.git/internal/postgres"
	"github.com/ariefcatur/go-commerce-saga.git/internal/stock"
	"github.com/ariefcatur/go-commerce-saga.git/internal/sweeper"
	"github.com/ariefcatur/go-commerce-saga.git/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db", zap.Error(err))
	}
	defer db.Close()

	orderRepo := &orders.Repo{DB: db}
	saga := &orders.Saga{
		Orders:   orderRepo,
		Stock:    &stock.Ledger{DB: db},
		Wallet:   &wallet.Ledger{DB: db},
		Coupons:  &coupons.Repo{DB: db},
		Products: &catalog.Repo{DB: db},
		Log:      log,
		StockTTL: cfg.StockReservationTTL,
	}

	sw := &sweeper.Sweeper{
		Saga:           saga,
		Orders:         orderRepo,
		Claims:         &coupons.ReservationRepo{DB: db},
		Log:            log,
		Interval:       cfg.SweepInterval,
		PendingTimeout: cfg.PendingTimeout,
		BatchLimit:     cfg.SweepBatchLimit,
	}

	go func() {
		log.Info("sweeper started",
			zap.Duration("interval", cfg.SweepInterval),
			zap.Duration("pending_timeout", cfg.PendingTimeout))
		sw.Run(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down sweeper...")
	cancel()
}
