package stock

import "time"

const (
	StatusReserved  = "RESERVED"
	StatusConfirmed = "CONFIRMED"
	StatusReleased  = "RELEASED"
)

type Reservation struct {
	ID        string
	OrderID   string
	ProductID string
	UserID    string
	Qty       int
	Status    string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
