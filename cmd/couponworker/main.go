package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-saga.git/internal/config"
	"github.com/ariefcatur/go-commerce-saga.git/internal/coupons"
	kafkax "github.com/ariefcatur/go-commerce-saga.git/internal/kafka"
	"github.com/ariefcatur/go-commerce-saga.git/internal/postgres"
	"github.com/ariefcatur/go-commerce-saga.git/internal/redisx"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

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
		log.Fatal("db", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Outbox publisher: drain coupon_outbox -> bus
	prod := kafkax.NewProducer(cfg.KafkaBrokers, coupons.TopicClaimRequested, 1024, log)
	prod.Start(ctx)
	pub := &coupons.Publisher{
		DB:       db,
		Outbox:   &coupons.OutboxRepo{DB: db},
		Producer: prod,
		Log:      log,
		Interval: cfg.OutboxPollInterval,
		Batch:    cfg.OutboxBatchLimit,
	}
	go pub.Run(ctx)

	// Claim consumer: issuance beneran, idempotent
	svc := &coupons.ClaimConsumer{
		Issuer:       &coupons.Repo{DB: db},
		Reservations: &coupons.ReservationRepo{DB: db},
		Redis:        rdb,
		Log:          log,
		ServiceName:  cfg.ServiceName + "-couponworker",
	}

	group := getenv("CLAIM_GROUP", "couponworker")
	workers := mustAtoi(os.Getenv("CLAIM_WORKERS"), "8")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, coupons.TopicClaimRequested, workers, log)

	go func() {
		log.Info("claim consumer started",
			zap.String("group", group),
			zap.String("topic", coupons.TopicClaimRequested),
			zap.Int("workers", workers))
		if err := cons.Start(ctx, svc.HandleClaimRequested); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down couponworker...")
	cancel()
	prod.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
