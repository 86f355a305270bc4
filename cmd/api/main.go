package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-saga.git/internal/catalog"
	"github.com/ariefcatur/go-commerce-saga.git/internal/config"
	"github.com/ariefcatur/go-commerce-saga.git/internal/coupons"
	"github.com/ariefcatur/go-commerce-saga.git/internal/httpx"
	"github.com/ariefcatur/go-commerce-saga.git/internal/orders"
	"github.com/ariefcatur/go-commerce-saga.git/internal/postgres"
	"github.com/ariefcatur/go-commerce-saga.git/internal/redisx"
	"github.com/ariefcatur/go-commerce-saga.git/internal/stock"
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

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Ledgers + saga
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

	// Router & handlers
	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Saga: saga, Repo: orderRepo, Redis: rdb}).Register(router)
	(&httpx.CouponsHandler{
		Reservations: &coupons.ReservationRepo{DB: db},
		Redis:        rdb,
		ServiceName:  cfg.ServiceName,
		ClaimTTL:     cfg.ClaimReservationTTL,
	}).Register(router)
	(&httpx.WalletHandler{Ledger: &wallet.Ledger{DB: db}}).Register(router)
	(&httpx.ProductsHandler{Catalog: &catalog.Repo{DB: db}}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
}
