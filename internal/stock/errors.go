package stock

import "errors"

var (
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrProductNotFound    = errors.New("product not found")
	ErrReservationMissing = errors.New("reservation not found")
)
