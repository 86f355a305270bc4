package coupons

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-commerce-saga.git/internal/kafka"
	"github.com/ariefcatur/go-commerce-saga.git/internal/metrics"
	"github.com/ariefcatur/go-commerce-saga.git/internal/redisx"
)

type issuer interface {
	Issue(ctx context.Context, couponID, userID, code string) (UserCoupon, error)
	Cancel(ctx context.Context, userCouponID string) error
}

type reservationStore interface {
	Get(ctx context.Context, id string) (ClaimReservation, error)
	MarkCompleted(ctx context.Context, id, userCouponID string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	MarkTimeout(ctx context.Context, id string) (bool, error)
}

// ClaimConsumer ngejalanin issuance beneran dari event bus. Harus idempotent:
// event bisa datang dobel (at-least-once), reservation yang sudah terminal
// dibiarkan apa adanya.
type ClaimConsumer struct {
	Issuer       issuer
	Reservations reservationStore
	Redis        *redis.Client
	Log          *zap.Logger
	ServiceName  string
}

func (c *ClaimConsumer) HandleClaimRequested(ctx context.Context, m kafkago.Message) error {
	var env Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != EventClaimRequested {
		return nil // ignore
	}

	// dedup via Redis (pakai event_id); best effort, status reservation
	// tetap jadi guard terakhir
	dkey := fmt.Sprintf(redisx.KeyDedup, c.ServiceName, env.EventID)
	if exists, _ := redisx.Exists(ctx, c.Redis, dkey); exists {
		return nil
	}

	p, err := kafkax.UnwrapPayload[ClaimRequestedPayload](env.Payload)
	if err != nil {
		return err
	}
	if err := c.process(ctx, p); err != nil {
		return err
	}
	_ = c.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	return nil
}

func (c *ClaimConsumer) process(ctx context.Context, p ClaimRequestedPayload) error {
	res, err := c.Reservations.Get(ctx, p.ReservationID)
	if err != nil {
		if errors.Is(err, ErrReservationMissing) {
			c.Log.Warn("claim event without reservation", zap.String("reservation_id", p.ReservationID))
			return nil
		}
		return err
	}
	if res.Status != ReservationPending {
		metrics.ClaimEvents.WithLabelValues("consume", "noop").Inc()
		return nil // redelivery setelah selesai
	}
	if time.Now().UTC().After(res.ExpiresAt) {
		if _, err := c.Reservations.MarkTimeout(ctx, res.ID); err != nil {
			return err
		}
		c.cacheStatus(ctx, res.ID, ReservationTimeout)
		metrics.ClaimEvents.WithLabelValues("consume", "timeout").Inc()
		return nil
	}

	uc, err := c.Issuer.Issue(ctx, p.CouponID, p.UserID, p.CouponCode)
	if err != nil {
		if isClaimRejection(err) {
			if _, err2 := c.Reservations.MarkFailed(ctx, res.ID, err.Error()); err2 != nil {
				return err2
			}
			c.cacheStatus(ctx, res.ID, ReservationFailed)
			metrics.ClaimEvents.WithLabelValues("consume", "rejected").Inc()
			return nil // business failure: jangan di-retry
		}
		return err // infra: biarkan offset nggak ke-commit, retry
	}

	ok, err := c.Reservations.MarkCompleted(ctx, res.ID, uc.ID)
	if err != nil {
		return err
	}
	if !ok {
		// kalah race dengan timeout sweep / redelivery: coupon yang barusan
		// ke-issue ditarik lagi supaya kuota tidak bocor
		if err := c.Issuer.Cancel(ctx, uc.ID); err != nil {
			return err
		}
		metrics.ClaimEvents.WithLabelValues("consume", "noop").Inc()
		return nil
	}
	c.cacheStatus(ctx, res.ID, ReservationCompleted)
	metrics.ClaimEvents.WithLabelValues("consume", "completed").Inc()
	c.Log.Info("coupon claim completed",
		zap.String("reservation_id", res.ID),
		zap.String("coupon_id", p.CouponID),
		zap.String("user_id", p.UserID))
	return nil
}

func (c *ClaimConsumer) cacheStatus(ctx context.Context, reservationID, status string) {
	key := fmt.Sprintf(redisx.KeyClaimStatus, reservationID)
	_ = c.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, status), redisx.TTLStatusCache).Err()
}

func isClaimRejection(err error) bool {
	return errors.Is(err, ErrCouponExhausted) ||
		errors.Is(err, ErrCouponExpired) ||
		errors.Is(err, ErrCouponNotYetValid) ||
		errors.Is(err, ErrCodeMismatch) ||
		errors.Is(err, ErrCouponNotFound)
}
