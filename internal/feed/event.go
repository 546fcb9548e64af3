// Package feed delivers reference-price events from an external market
// data stream to in-process consumers. The Multiplexer owns fanout and
// per-market reference counting; the Client speaks the upstream
// websocket protocol and decodes its payloads into the closed event
// union exactly once, at the boundary.
package feed

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the closed union of feed event kinds. The unexported method
// keeps the set closed to this package: consumers switch over
// *PriceTick, *TradeEvent, and *DepthUpdate and need no default case
// for unknown kinds.
type Event interface {
	Market() string
	isEvent()
}

// PriceTick is a reference-price update for a market. The trading
// engine consumes only this event kind.
type PriceTick struct {
	MarketID string
	Price    decimal.Decimal
	At       time.Time
}

func (t *PriceTick) Market() string { return t.MarketID }
func (*PriceTick) isEvent()         {}

// TradeEvent is a single executed trade reported by the upstream feed.
type TradeEvent struct {
	MarketID     string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	IsBuyerMaker bool
	At           time.Time
}

func (t *TradeEvent) Market() string { return t.MarketID }
func (*TradeEvent) isEvent()         {}

// DepthUpdate carries order-book level changes. Levels are [price,
// quantity] string pairs exactly as the feed sends them; this engine
// only forwards them to display consumers.
type DepthUpdate struct {
	MarketID string
	Bids     [][2]string
	Asks     [][2]string
	At       time.Time
}

func (d *DepthUpdate) Market() string { return d.MarketID }
func (*DepthUpdate) isEvent()         {}
