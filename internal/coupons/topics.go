package coupons

const (
	TopicClaimRequested = "coupon.claim.requested"
)

// Partition key = coupon_id, supaya claim satu coupon jalan berurutan
// di satu partition dan counter panasnya tidak diperebutkan antar partition.
func PartitionKey(couponID string) []byte { return []byte(couponID) }
