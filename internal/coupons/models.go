package coupons

import "time"

const (
	DiscountFixed      = "FIXED"
	DiscountPercentage = "PERCENTAGE"
)

const (
	UserCouponIssued    = "ISSUED"
	UserCouponUsed      = "USED"
	UserCouponCancelled = "CANCELLED"
)

const (
	ReservationPending   = "PENDING"
	ReservationCompleted = "COMPLETED"
	ReservationFailed    = "FAILED"
	ReservationTimeout   = "TIMEOUT"
)

type Coupon struct {
	ID               string
	Code             string
	TotalCount       int
	IssuedCount      int
	UsedCount        int
	DiscountType     string
	DiscountValue    int
	MinOrderCents    int
	MaxDiscountCents *int
	ValidFrom        time.Time
	ValidUntil       time.Time
}

type UserCoupon struct {
	ID            string
	CouponID      string
	UserID        string
	Status        string
	DiscountCents *int
	OrderID       *string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ClaimReservation nge-bridge claim request async ke issuance; tidak pernah
// dihapus, cuma transisi status atau kena sweep TIMEOUT.
type ClaimReservation struct {
	ID             string
	CouponID       string
	UserID         string
	IdempotencyKey string
	Status         string
	FailureReason  *string
	UserCouponID   *string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
