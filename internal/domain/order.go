package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderSide indicates whether an order buys or sells the base currency.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus represents the lifecycle state of an order. Pending is the
// only non-terminal state; an order transitions away from it exactly once.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusExecuted || s == OrderStatusExpired || s == OrderStatusCancelled
}

// Order is a user's instruction to trade the base currency of a market
// against an external reference price. Limit orders reserve funds (buy)
// or holding quantity (sell) at placement and release or transfer the
// reservation exactly once at their terminal transition. Market orders
// settle immediately and are stored already executed, for history only.
//
// All fields except Status, ExecutionPrice, and SettledAt are immutable
// after creation.
type Order struct {
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	Market    string    `json:"market"` // BASE_QUOTE, e.g. SOL_USDC
	Type      OrderType `json:"type"`
	Side      OrderSide `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	TotalCost decimal.Decimal `json:"totalCost"` // Price × Amount at placement

	Status         OrderStatus     `json:"status"`
	ExecutionPrice decimal.Decimal `json:"executionPrice"` // set only on execution

	// HoldingID back-references the holding a sell order reserves
	// against. Lookup only; it never controls the holding's lifetime.
	HoldingID string `json:"holdingId,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"` // CreatedAt + TTL; zero for market orders
	SettledAt *time.Time `json:"settledAt,omitempty"`
}

// ExpiredBy reports whether the order's TTL has elapsed at the given
// instant. Expiry is exact: now == expiresAt already expires.
func (o *Order) ExpiredBy(now time.Time) bool {
	if o.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(o.ExpiresAt)
}

// ExecutableAt reports whether the reference price satisfies the order's
// limit: buys execute at or below the limit, sells at or above it.
func (o *Order) ExecutableAt(refPrice decimal.Decimal) bool {
	if o.Side == OrderSideBuy {
		return refPrice.LessThanOrEqual(o.Price)
	}
	return refPrice.GreaterThanOrEqual(o.Price)
}

// BaseCurrency returns the market's base currency (the traded asset).
func (o *Order) BaseCurrency() string {
	base, _, _ := SplitMarket(o.Market)
	return base
}
