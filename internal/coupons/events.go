package coupons

import (
	"encoding/json"
	"time"
)

const (
	EventClaimRequested = "CouponClaimRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // reservation_id
	Payload       json.RawMessage `json:"payload"`
}

type ClaimRequestedPayload struct {
	ReservationID string `json:"reservation_id"`
	CouponID      string `json:"coupon_id"`
	UserID        string `json:"user_id"`
	CouponCode    string `json:"coupon_code"`
}
