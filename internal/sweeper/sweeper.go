package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-commerce-saga.git/internal/metrics"
)

// SagaDriver: entry point orchestrator yang dipakai ulang sama sweeper.
type SagaDriver interface {
	Resume(ctx context.Context, orderID string) error
	Recover(ctx context.Context, orderID string) error
}

type OrderFinder interface {
	FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
	FindFailedUncompensated(ctx context.Context, limit int) ([]string, error)
}

type ReservationSweep interface {
	SweepExpired(ctx context.Context, limit int) (int64, error)
}

// Sweeper: background pass yang mulungin order nyangkut bekas crash.
// Error per row diisolasi; satu row busuk tidak menghentikan sisanya.
type Sweeper struct {
	Saga           SagaDriver
	Orders         OrderFinder
	Claims         ReservationSweep
	Log            *zap.Logger
	Interval       time.Duration
	PendingTimeout time.Duration
	BatchLimit     int
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce: tiga pass independen, jalan paralel. Masing-masing idempotent,
// jadi overlap dengan request path atau sweep sebelumnya aman.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { s.sweepStalePending(gctx); return nil })
	g.Go(func() error { s.sweepFailed(gctx); return nil })
	g.Go(func() error { s.sweepClaimTTL(gctx); return nil })
	_ = g.Wait()
}

func (s *Sweeper) sweepStalePending(ctx context.Context) {
	ids, err := s.Orders.FindStalePending(ctx, s.PendingTimeout, s.BatchLimit)
	if err != nil {
		s.Log.Error("find stale pending", zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := s.Saga.Resume(ctx, id); err != nil {
			metrics.SweeperRepairs.WithLabelValues("stale_pending", "error").Inc()
			s.Log.Warn("resume stale order", zap.String("order_id", id), zap.Error(err))
			continue
		}
		metrics.SweeperRepairs.WithLabelValues("stale_pending", "ok").Inc()
	}
	if len(ids) > 0 {
		s.Log.Info("stale pending sweep", zap.Int("count", len(ids)))
	}
}

func (s *Sweeper) sweepFailed(ctx context.Context) {
	ids, err := s.Orders.FindFailedUncompensated(ctx, s.BatchLimit)
	if err != nil {
		s.Log.Error("find failed orders", zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := s.Saga.Recover(ctx, id); err != nil {
			metrics.SweeperRepairs.WithLabelValues("failed_orders", "error").Inc()
			s.Log.Warn("recover failed order", zap.String("order_id", id), zap.Error(err))
			continue
		}
		metrics.SweeperRepairs.WithLabelValues("failed_orders", "ok").Inc()
	}
	if len(ids) > 0 {
		s.Log.Info("failed order sweep", zap.Int("count", len(ids)))
	}
}

func (s *Sweeper) sweepClaimTTL(ctx context.Context) {
	n, err := s.Claims.SweepExpired(ctx, s.BatchLimit)
	if err != nil {
		s.Log.Error("sweep claim ttl", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.SweeperRepairs.WithLabelValues("claim_ttl", "ok").Add(float64(n))
		s.Log.Info("claim reservations timed out", zap.Int64("count", n))
	}
}
