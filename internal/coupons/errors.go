package coupons

import "errors"

var (
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrCouponExhausted    = errors.New("coupon exhausted")
	ErrCouponExpired      = errors.New("coupon expired")
	ErrCouponNotYetValid  = errors.New("coupon not yet valid")
	ErrCodeMismatch       = errors.New("coupon code mismatch")
	ErrUserCouponNotFound = errors.New("user coupon not found")
	ErrCouponNotUsable    = errors.New("user coupon not in usable state")
	ErrMinOrderPrice      = errors.New("order price below coupon minimum")
	ErrReservationMissing = errors.New("coupon reservation not found")
)
