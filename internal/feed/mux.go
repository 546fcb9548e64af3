package feed

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Handler receives events for a subscribed market. Handlers run on the
// publisher's goroutine and should not block for long.
type Handler func(Event)

// Upstream is notified when a market gains its first subscriber or
// loses its last one, so the transport subscribes to exactly the
// streams someone is listening to. Optional.
type Upstream interface {
	SubscribeMarket(market string)
	UnsubscribeMarket(market string)
}

// Multiplexer fans feed events out to per-market subscribers with
// reference-counted upstream subscriptions, and caches the last
// observed reference price per market. Construct one per process and
// inject it; there is no package-level instance.
type Multiplexer struct {
	mu       sync.Mutex
	subs     map[string]map[int]Handler // market → id → handler
	next     int
	upstream Upstream
	last     map[string]lastQuote
}

type lastQuote struct {
	price decimal.Decimal
	at    time.Time
}

// NewMultiplexer creates an empty multiplexer.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		subs: make(map[string]map[int]Handler),
		last: make(map[string]lastQuote),
	}
}

// SetUpstream wires the transport that owns the actual feed
// subscriptions. Set once during startup, before Subscribe is used.
func (m *Multiplexer) SetUpstream(u Upstream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstream = u
}

// Subscribe registers a handler for a market's events and returns a
// cancel func. The first subscriber of a market triggers an upstream
// subscription; the last cancel triggers the upstream unsubscribe.
func (m *Multiplexer) Subscribe(market string, h Handler) (cancel func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	handlers, ok := m.subs[market]
	if !ok {
		handlers = make(map[int]Handler)
		m.subs[market] = handlers
	}
	handlers[id] = h
	first := len(handlers) == 1
	upstream := m.upstream
	m.mu.Unlock()

	if first && upstream != nil {
		upstream.SubscribeMarket(market)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			handlers := m.subs[market]
			delete(handlers, id)
			last := len(handlers) == 0
			if last {
				delete(m.subs, market)
			}
			upstream := m.upstream
			m.mu.Unlock()

			if last && upstream != nil {
				upstream.UnsubscribeMarket(market)
			}
		})
	}
}

// Publish delivers an event to every subscriber of its market and, for
// price ticks, refreshes the last-price cache. Handlers are invoked
// outside the multiplexer lock so they may subscribe or cancel freely.
func (m *Multiplexer) Publish(ev Event) {
	market := ev.Market()

	m.mu.Lock()
	if tick, ok := ev.(*PriceTick); ok {
		m.last[market] = lastQuote{price: tick.Price, at: tick.At}
	}
	handlers := make([]Handler, 0, len(m.subs[market]))
	for _, h := range m.subs[market] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// LastPrice returns the most recent reference price observed for the
// market, if any tick has arrived yet.
func (m *Multiplexer) LastPrice(market string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.last[market]
	return q.price, ok
}

// Subscribers returns the current subscriber count for a market.
func (m *Multiplexer) Subscribers(market string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[market])
}
