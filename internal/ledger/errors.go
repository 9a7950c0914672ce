package ledger

import "errors"

// Validation failures returned to the immediate caller; never retried
// automatically. Checked with errors.Is.
var (
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInsufficientFunds    = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)
