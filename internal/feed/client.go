package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// subMessage is the upstream subscription frame. IDs are sequential per
// connection manager, matching the upstream protocol.
type subMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// Client maintains the websocket connection to the market data feed,
// turns multiplexer demand into SUBSCRIBE/UNSUBSCRIBE frames, and
// publishes decoded events back into the multiplexer.
//
// Subscriptions requested while the socket is down are only recorded;
// the full active-market set is replayed on every (re)connect, so a
// subscribe before the first open behaves like the original buffered
// send.
type Client struct {
	url    string
	mux    *Multiplexer
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	markets map[string]struct{}
	nextID  int
}

// NewClient creates a feed client and registers it as the multiplexer's
// upstream.
func NewClient(url string, mux *Multiplexer, logger *slog.Logger) *Client {
	c := &Client{
		url:     url,
		mux:     mux,
		logger:  logger,
		markets: make(map[string]struct{}),
		nextID:  1,
	}
	mux.SetUpstream(c)
	return c
}

// SubscribeMarket requests the ticker stream for a market.
func (c *Client) SubscribeMarket(market string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[market] = struct{}{}
	c.send(subMessage{Method: "SUBSCRIBE", Params: []string{"ticker." + market}})
}

// UnsubscribeMarket drops the ticker stream for a market.
func (c *Client) UnsubscribeMarket(market string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, market)
	c.send(subMessage{Method: "UNSUBSCRIBE", Params: []string{"ticker." + market}})
}

// send assigns a frame ID and writes the frame; it is a no-op while the
// socket is down (attach replays the market set instead). Caller holds
// c.mu, which also serializes writes.
func (c *Client) send(msg subMessage) {
	if c.conn == nil {
		return
	}
	msg.ID = c.nextID
	c.nextID++
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warn("feed write failed", slog.String("method", msg.Method), slog.String("error", err.Error()))
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff. Blocks; run it on its own goroutine.
func (c *Client) Run(ctx context.Context) {
	delay := reconnectMinDelay
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Warn("feed dial failed",
				slog.String("url", c.url),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}
		delay = reconnectMinDelay
		c.logger.Info("feed connected", slog.String("url", c.url))

		c.attach(conn)
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		c.readLoop(conn)
		stop()
		c.detach()
		conn.Close()
	}
}

// attach installs the open connection and replays subscriptions for all
// active markets.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	for market := range c.markets {
		c.send(subMessage{Method: "SUBSCRIBE", Params: []string{"ticker." + market}})
	}
}

func (c *Client) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
}

// readLoop publishes decoded events until the connection fails.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("feed read failed", slog.String("error", err.Error()))
			return
		}
		ev, err := Decode(raw)
		if err != nil {
			c.logger.Debug("feed payload skipped", slog.String("error", err.Error()))
			continue
		}
		c.mux.Publish(ev)
	}
}
