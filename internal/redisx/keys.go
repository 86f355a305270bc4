package redisx

import "time"

const (
	// Idempotency placeOrder: idem:order:place:{idempotency_key} -> order_id
	KeyIdemPlaceOrder = "idem:order:place:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", ...}
	KeyOrderStatus = "order_status:%s"

	// Cache status coupon claim: claim_status:{reservation_id}
	KeyClaimStatus = "claim_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
