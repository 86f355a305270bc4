package wallet

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrDuplicateTxn        = errors.New("duplicate transaction for ref")
)
