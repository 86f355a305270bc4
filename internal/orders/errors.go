package orders

import "errors"

var (
	ErrOrderExists     = errors.New("order already exists for idempotency key")
	ErrOrderNotFound   = errors.New("order not found")
	ErrEmptyOrder      = errors.New("order has no items")
	ErrInvalidQty      = errors.New("invalid item quantity")
	ErrProductNotFound = errors.New("product not found")
	ErrProductInactive = errors.New("product not active")
)
