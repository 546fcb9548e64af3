package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's cash ledger. WalletBalance is spendable cash;
// LockedBalance is cash reserved by pending buy limit orders. Both are
// always >= 0.
type Account struct {
	UserID        string          `json:"userId"`
	WalletBalance decimal.Decimal `json:"walletBalance"`
	LockedBalance decimal.Decimal `json:"lockedBalance"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// AvailableBalance returns the spendable cash. LockedBalance is already
// excluded from WalletBalance at reservation time, so this is just the
// wallet balance; the method exists to keep call sites explicit about
// which number they mean.
func (a *Account) AvailableBalance() decimal.Decimal {
	return a.WalletBalance
}

// Holding is a user's position in a single currency. LockedQuantity is
// the portion reserved by pending sell limit orders and never exceeds
// Quantity. PurchasePrice is the volume-weighted average cost;
// CurrentPrice is the last observed reference price and is display-only.
type Holding struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Currency       string          `json:"currency"`
	Quantity       decimal.Decimal `json:"quantity"`
	LockedQuantity decimal.Decimal `json:"lockedQuantity"`
	PurchasePrice  decimal.Decimal `json:"purchasePrice"`
	CurrentPrice   decimal.Decimal `json:"currentPrice"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// AvailableQuantity returns the unreserved quantity that can be sold or
// reserved by a new sell order.
func (h *Holding) AvailableQuantity() decimal.Decimal {
	return h.Quantity.Sub(h.LockedQuantity)
}

// User is a registered account owner. The ledger documents are keyed by
// UserID; the email is only used for login. Handlers never marshal User
// directly, so the password hash stays server-side.
type User struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}
