package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// The upstream wire format wraps every event in a data envelope and
// tags it with a single-letter event-type field:
//
//	ticker: {"data":{"e":"ticker","s":"SOL_USDC","c":"147.67",...}}
//	trade:  {"data":{"e":"trade","s":"SOL_USDC","p":"147.67","q":"6.36","m":false,"t":358343642,"E":1750178488219634}}
//	depth:  {"data":{"e":"depth","s":"SOL_USDC","b":[["147.66","1.2"]],"a":[["147.68","0.4"]]}}
type wireMessage struct {
	Data wireData `json:"data"`
}

type wireData struct {
	Event      string      `json:"e"`
	Symbol     string      `json:"s"`
	LastPrice  string      `json:"c"`
	Price      string      `json:"p"`
	Quantity   string      `json:"q"`
	BuyerMaker bool        `json:"m"`
	Bids       [][2]string `json:"b"`
	Asks       [][2]string `json:"a"`
	EventTime  int64       `json:"E"` // microseconds since epoch
}

// Decode parses a raw websocket payload into one event of the closed
// union. Unknown event types return an error so the caller can skip
// them without guessing.
func Decode(raw []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("feed: malformed payload: %w", err)
	}
	d := msg.Data
	if d.Symbol == "" {
		return nil, fmt.Errorf("feed: payload missing symbol")
	}

	at := time.Now()
	if d.EventTime > 0 {
		at = time.UnixMicro(d.EventTime)
	}

	switch d.Event {
	case "ticker":
		price, err := decimal.NewFromString(d.LastPrice)
		if err != nil {
			return nil, fmt.Errorf("feed: ticker price %q: %w", d.LastPrice, err)
		}
		return &PriceTick{MarketID: d.Symbol, Price: price, At: at}, nil

	case "trade":
		price, err := decimal.NewFromString(d.Price)
		if err != nil {
			return nil, fmt.Errorf("feed: trade price %q: %w", d.Price, err)
		}
		qty, err := decimal.NewFromString(d.Quantity)
		if err != nil {
			return nil, fmt.Errorf("feed: trade quantity %q: %w", d.Quantity, err)
		}
		return &TradeEvent{
			MarketID:     d.Symbol,
			Price:        price,
			Quantity:     qty,
			IsBuyerMaker: d.BuyerMaker,
			At:           at,
		}, nil

	case "depth":
		return &DepthUpdate{MarketID: d.Symbol, Bids: d.Bids, Asks: d.Asks, At: at}, nil

	default:
		return nil, fmt.Errorf("feed: unknown event type %q", d.Event)
	}
}
