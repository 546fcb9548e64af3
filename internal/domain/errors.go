package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrNoSuchAccount        = errors.New("no_such_account")
	ErrNoSuchHolding        = errors.New("no_such_holding")
	ErrNoSuchOrder          = errors.New("no_such_order")
	ErrInsufficientFunds    = errors.New("insufficient_funds")
	ErrInsufficientQuantity = errors.New("insufficient_quantity")
	ErrOrderNotPending      = errors.New("order_not_pending")
	ErrNoReferencePrice     = errors.New("no_reference_price")
	ErrUserAlreadyExists    = errors.New("user_already_exists")
	ErrUserNotFound         = errors.New("user_not_found")
	ErrInvalidCredentials   = errors.New("invalid_credentials")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
