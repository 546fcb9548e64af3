package feed

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// recordingUpstream counts per-market subscribe/unsubscribe calls.
type recordingUpstream struct {
	subscribed   []string
	unsubscribed []string
}

func (u *recordingUpstream) SubscribeMarket(market string)   { u.subscribed = append(u.subscribed, market) }
func (u *recordingUpstream) UnsubscribeMarket(market string) { u.unsubscribed = append(u.unsubscribed, market) }

func TestMultiplexerPublishFansOut(t *testing.T) {
	m := NewMultiplexer()

	var got []Event
	cancel := m.Subscribe("SOL_USDC", func(ev Event) { got = append(got, ev) })
	defer cancel()

	var other []Event
	cancelOther := m.Subscribe("BTC_USDC", func(ev Event) { other = append(other, ev) })
	defer cancelOther()

	m.Publish(&PriceTick{MarketID: "SOL_USDC", Price: decimal.NewFromInt(147), At: time.Now()})

	if len(got) != 1 {
		t.Fatalf("subscriber got %d events, want 1", len(got))
	}
	if len(other) != 0 {
		t.Fatalf("other market got %d events, want 0", len(other))
	}
}

func TestMultiplexerLastPrice(t *testing.T) {
	m := NewMultiplexer()

	if _, ok := m.LastPrice("SOL_USDC"); ok {
		t.Fatal("LastPrice reported a price before any tick")
	}

	m.Publish(&PriceTick{MarketID: "SOL_USDC", Price: decimal.NewFromInt(100), At: time.Now()})
	m.Publish(&PriceTick{MarketID: "SOL_USDC", Price: decimal.NewFromInt(105), At: time.Now()})

	p, ok := m.LastPrice("SOL_USDC")
	if !ok || !p.Equal(decimal.NewFromInt(105)) {
		t.Errorf("LastPrice = %s, %v; want 105, true", p, ok)
	}

	// Trades do not refresh the reference price.
	m.Publish(&TradeEvent{MarketID: "SOL_USDC", Price: decimal.NewFromInt(999), At: time.Now()})
	p, _ = m.LastPrice("SOL_USDC")
	if !p.Equal(decimal.NewFromInt(105)) {
		t.Errorf("LastPrice after trade = %s, want 105", p)
	}
}

func TestMultiplexerUpstreamRefcount(t *testing.T) {
	m := NewMultiplexer()
	up := &recordingUpstream{}
	m.SetUpstream(up)

	cancel1 := m.Subscribe("SOL_USDC", func(Event) {})
	cancel2 := m.Subscribe("SOL_USDC", func(Event) {})

	if len(up.subscribed) != 1 {
		t.Fatalf("upstream subscribe calls = %d, want 1 (first subscriber only)", len(up.subscribed))
	}
	if m.Subscribers("SOL_USDC") != 2 {
		t.Fatalf("Subscribers = %d, want 2", m.Subscribers("SOL_USDC"))
	}

	cancel1()
	if len(up.unsubscribed) != 0 {
		t.Fatal("upstream unsubscribed while a subscriber remained")
	}

	cancel2()
	if len(up.unsubscribed) != 1 || up.unsubscribed[0] != "SOL_USDC" {
		t.Fatalf("upstream unsubscribe calls = %v, want [SOL_USDC]", up.unsubscribed)
	}
	if m.Subscribers("SOL_USDC") != 0 {
		t.Fatalf("Subscribers = %d, want 0", m.Subscribers("SOL_USDC"))
	}
}

func TestMultiplexerCancelIdempotent(t *testing.T) {
	m := NewMultiplexer()
	up := &recordingUpstream{}
	m.SetUpstream(up)

	cancelA := m.Subscribe("SOL_USDC", func(Event) {})
	cancelB := m.Subscribe("SOL_USDC", func(Event) {})

	cancelA()
	cancelA()

	if len(up.unsubscribed) != 0 {
		t.Fatal("double cancel dropped the remaining subscriber's upstream")
	}
	if m.Subscribers("SOL_USDC") != 1 {
		t.Fatalf("Subscribers = %d, want 1", m.Subscribers("SOL_USDC"))
	}
	cancelB()
}

func TestMultiplexerHandlerMayResubscribe(t *testing.T) {
	m := NewMultiplexer()

	// Handlers run outside the multiplexer lock, so subscribing from
	// inside one must not deadlock.
	done := make(chan struct{})
	cancel := m.Subscribe("SOL_USDC", func(Event) {
		c := m.Subscribe("BTC_USDC", func(Event) {})
		c()
		close(done)
	})
	defer cancel()

	go m.Publish(&PriceTick{MarketID: "SOL_USDC", Price: decimal.NewFromInt(1), At: time.Now()})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler deadlocked subscribing from publish path")
	}
}
