package orders

import "time"

type Order struct {
	ID                  string
	UserID              string
	TotalCents          int
	DiscountCents       int
	FinalCents          int // invariant: final = total - discount
	Status              Status
	FailureReason       *string
	IdempotencyKey      string
	AppliedUserCouponID *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type OrderItem struct {
	ID         string
	OrderID    string
	ProductID  string
	Qty        int
	PriceCents int
	TotalCents int
}
