package wallet

import "time"

const (
	TxnCharge  = "CHARGE"
	TxnUse     = "USE"
	TxnRecover = "RECOVER"
)

type Transaction struct {
	ID        string
	UserID    string
	Amount    int64 // selalu magnitude positif, arah ditentukan type
	Type      string
	RefID     string
	CreatedAt time.Time
}
