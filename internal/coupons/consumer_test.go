package coupons

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-commerce-saga.git/internal/kafka"
)

type fakeIssuer struct {
	mu        sync.Mutex
	issueErr  error
	issued    []UserCoupon
	cancelled []string
}

func (f *fakeIssuer) Issue(_ context.Context, couponID, userID, _ string) (UserCoupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return UserCoupon{}, f.issueErr
	}
	uc := UserCoupon{ID: uuid.NewString(), CouponID: couponID, UserID: userID, Status: UserCouponIssued}
	f.issued = append(f.issued, uc)
	return uc, nil
}

func (f *fakeIssuer) Cancel(_ context.Context, userCouponID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, userCouponID)
	return nil
}

type fakeResStore struct {
	mu  sync.Mutex
	res map[string]*ClaimReservation
}

func (f *fakeResStore) Get(_ context.Context, id string) (ClaimReservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.res[id]
	if !ok {
		return ClaimReservation{}, ErrReservationMissing
	}
	return *r, nil
}

func (f *fakeResStore) mark(id, status string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.res[id]
	if !ok || r.Status != ReservationPending {
		return false
	}
	r.Status = status
	return true
}

func (f *fakeResStore) MarkCompleted(_ context.Context, id, userCouponID string) (bool, error) {
	ok := f.mark(id, ReservationCompleted)
	if ok {
		f.mu.Lock()
		f.res[id].UserCouponID = &userCouponID
		f.mu.Unlock()
	}
	return ok, nil
}

func (f *fakeResStore) MarkFailed(_ context.Context, id, reason string) (bool, error) {
	ok := f.mark(id, ReservationFailed)
	if ok {
		f.mu.Lock()
		f.res[id].FailureReason = &reason
		f.mu.Unlock()
	}
	return ok, nil
}

func (f *fakeResStore) MarkTimeout(_ context.Context, id string) (bool, error) {
	return f.mark(id, ReservationTimeout), nil
}

// redis yang nggak nyambung: dedup jadi best-effort no-op, persis perilaku
// waktu redis lagi down; guard idempotensi tetap dari status reservation.
func deadRedis() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 10 * time.Millisecond})
}

func newConsumerFixture(res *ClaimReservation) (*ClaimConsumer, *fakeIssuer, *fakeResStore) {
	iss := &fakeIssuer{}
	store := &fakeResStore{res: map[string]*ClaimReservation{}}
	if res != nil {
		store.res[res.ID] = res
	}
	c := &ClaimConsumer{
		Issuer:       iss,
		Reservations: store,
		Redis:        deadRedis(),
		Log:          zap.NewNop(),
		ServiceName:  "test-couponworker",
	}
	return c, iss, store
}

func claimMessage(res *ClaimReservation) kafkago.Message {
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventClaimRequested,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      "test",
		CorrelationID: res.ID,
		Payload: kafkax.MustMarshal(ClaimRequestedPayload{
			ReservationID: res.ID,
			CouponID:      res.CouponID,
			UserID:        res.UserID,
			CouponCode:    "SALE",
		}),
	}
	return kafkago.Message{Key: PartitionKey(res.CouponID), Value: kafkax.MustMarshal(env)}
}

func pendingReservation() *ClaimReservation {
	return &ClaimReservation{
		ID:        uuid.NewString(),
		CouponID:  "c1",
		UserID:    "u1",
		Status:    ReservationPending,
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}
}

func TestClaimConsumer_CompletesReservation(t *testing.T) {
	res := pendingReservation()
	c, iss, store := newConsumerFixture(res)

	if err := c.HandleClaimRequested(context.Background(), claimMessage(res)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := store.Get(context.Background(), res.ID)
	if got.Status != ReservationCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if len(iss.issued) != 1 {
		t.Fatalf("issued = %d, want 1", len(iss.issued))
	}
	if got.UserCouponID == nil || *got.UserCouponID != iss.issued[0].ID {
		t.Fatalf("reservation not linked to issued coupon")
	}
}

// At-least-once: event yang sama datang dua kali, issuance cuma sekali.
func TestClaimConsumer_RedeliveryIsNoop(t *testing.T) {
	res := pendingReservation()
	c, iss, _ := newConsumerFixture(res)
	m := claimMessage(res)

	if err := c.HandleClaimRequested(context.Background(), m); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if err := c.HandleClaimRequested(context.Background(), m); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if len(iss.issued) != 1 {
		t.Fatalf("issued = %d, want 1", len(iss.issued))
	}
}

func TestClaimConsumer_ExhaustedMarksFailed(t *testing.T) {
	res := pendingReservation()
	c, iss, store := newConsumerFixture(res)
	iss.issueErr = ErrCouponExhausted

	if err := c.HandleClaimRequested(context.Background(), claimMessage(res)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := store.Get(context.Background(), res.ID)
	if got.Status != ReservationFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.FailureReason == nil || *got.FailureReason != ErrCouponExhausted.Error() {
		t.Fatalf("failure reason = %v", got.FailureReason)
	}
}

func TestClaimConsumer_ExpiredReservationTimesOut(t *testing.T) {
	res := pendingReservation()
	res.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	c, iss, store := newConsumerFixture(res)

	if err := c.HandleClaimRequested(context.Background(), claimMessage(res)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := store.Get(context.Background(), res.ID)
	if got.Status != ReservationTimeout {
		t.Fatalf("status = %s, want TIMEOUT", got.Status)
	}
	if len(iss.issued) != 0 {
		t.Fatalf("issued = %d, want 0", len(iss.issued))
	}
}

// Kalah race sama timeout sweep setelah issue: coupon ditarik balik.
func TestClaimConsumer_LostRaceCancelsIssued(t *testing.T) {
	res := pendingReservation()
	c, iss, store := newConsumerFixture(res)
	c.Issuer = &racingIssuer{fakeIssuer: iss, store: store, resID: res.ID}

	if err := c.HandleClaimRequested(context.Background(), claimMessage(res)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(iss.cancelled) != 1 {
		t.Fatalf("cancelled = %d, want 1", len(iss.cancelled))
	}
	got, _ := store.Get(context.Background(), res.ID)
	if got.Status != ReservationTimeout {
		t.Fatalf("status = %s, want TIMEOUT", got.Status)
	}
}

// racingIssuer bikin reservation keburu TIMEOUT tepat setelah issue sukses.
type racingIssuer struct {
	*fakeIssuer
	store *fakeResStore
	resID string
}

func (r *racingIssuer) Issue(ctx context.Context, couponID, userID, code string) (UserCoupon, error) {
	uc, err := r.fakeIssuer.Issue(ctx, couponID, userID, code)
	if err == nil {
		_, _ = r.store.MarkTimeout(ctx, r.resID)
	}
	return uc, err
}
