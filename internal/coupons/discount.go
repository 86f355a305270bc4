package coupons

// ComputeDiscount menghitung potongan harga dalam cents.
// FIXED: discount_value apa adanya. PERCENTAGE: floor(price*value/100),
// dibatasi max_discount_cents kalau ada. Hasil selalu <= orderPrice.
func ComputeDiscount(c Coupon, orderPriceCents int) int {
	var d int
	switch c.DiscountType {
	case DiscountFixed:
		d = c.DiscountValue
	case DiscountPercentage:
		d = orderPriceCents * c.DiscountValue / 100
		if c.MaxDiscountCents != nil && d > *c.MaxDiscountCents {
			d = *c.MaxDiscountCents
		}
	default:
		return 0
	}
	if d > orderPriceCents {
		d = orderPriceCents
	}
	if d < 0 {
		d = 0
	}
	return d
}
