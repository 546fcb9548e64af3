// Package engine drives pending limit orders to their terminal state.
//
// The evaluator wakes on every reference-price tick for a market with
// pending orders, and on a fixed periodic clock so expiry is detected
// during illiquid stretches with no ticks. Every terminal transition
// re-checks the order's status inside the same store transaction that
// releases or transfers its reservation, so at-most-once settlement
// holds no matter how many evaluators race.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/feed"
	"papertrade/internal/ledger"
)

// Feed is what the evaluator needs from the price feed multiplexer.
type Feed interface {
	Subscribe(market string, h feed.Handler) (cancel func())
	LastPrice(market string) (decimal.Decimal, bool)
}

// trackedOrder is the evaluator's local index entry for one pending
// order. Order fields other than status are immutable, so the copy
// never goes stale; the authoritative status lives in the store.
type trackedOrder struct {
	orderID   string
	userID    string
	market    string
	side      domain.OrderSide
	price     decimal.Decimal
	expiresAt time.Time
}

// Evaluator owns the limit-order lifecycle state machine.
type Evaluator struct {
	store    ledger.Store
	feed     Feed
	interval time.Duration
	logger   *slog.Logger
	guard    *inflightGuard

	mu          sync.Mutex
	tracked     map[string]*trackedOrder            // order_id → entry
	byMarket    map[string]map[string]*trackedOrder // market → order_id → entry
	feedCancels map[string]func()                   // market → feed unsubscribe
	expiry      *expiryIndex
}

// NewEvaluator creates an evaluator sweeping on the given interval.
func NewEvaluator(store ledger.Store, fd Feed, interval time.Duration, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:       store,
		feed:        fd,
		interval:    interval,
		logger:      logger,
		guard:       newInflightGuard(),
		tracked:     make(map[string]*trackedOrder),
		byMarket:    make(map[string]map[string]*trackedOrder),
		feedCancels: make(map[string]func()),
		expiry:      newExpiryIndex(),
	}
}

// Start launches the periodic expiry sweep goroutine. It stops when ctx
// is cancelled. Price-triggered evaluation needs no goroutine: it runs
// on the feed's publish path via the per-market subscriptions Track
// sets up.
func (e *Evaluator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				e.Sweep(ctx, t)
			}
		}
	}()
}

// Track registers a pending limit order for evaluation. The first
// tracked order of a market subscribes the evaluator to that market's
// price stream; the reverse happens when the last one settles.
func (e *Evaluator) Track(o *domain.Order) {
	if o.Type != domain.OrderTypeLimit || o.Status != domain.OrderStatusPending {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tracked[o.OrderID]; exists {
		return
	}
	t := &trackedOrder{
		orderID:   o.OrderID,
		userID:    o.UserID,
		market:    o.Market,
		side:      o.Side,
		price:     o.Price,
		expiresAt: o.ExpiresAt,
	}
	e.tracked[t.orderID] = t
	orders, ok := e.byMarket[t.market]
	if !ok {
		orders = make(map[string]*trackedOrder)
		e.byMarket[t.market] = orders
		market := t.market
		e.feedCancels[market] = e.feed.Subscribe(market, func(ev feed.Event) {
			if tick, isTick := ev.(*feed.PriceTick); isTick {
				e.EvaluateMarket(context.Background(), tick.MarketID, tick.Price)
			}
		})
	}
	orders[t.orderID] = t
	e.expiry.add(t.expiresAt, t.orderID)
}

// untrack removes a settled order from all local indexes and drops the
// market's feed subscription when it was the last one.
func (e *Evaluator) untrack(orderID string) {
	e.mu.Lock()
	t, ok := e.tracked[orderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.tracked, orderID)
	e.expiry.remove(t.expiresAt, orderID)

	var cancel func()
	if orders := e.byMarket[t.market]; orders != nil {
		delete(orders, orderID)
		if len(orders) == 0 {
			delete(e.byMarket, t.market)
			cancel = e.feedCancels[t.market]
			delete(e.feedCancels, t.market)
		}
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Restore re-tracks every pending limit order found in the store. Run
// once at startup before the feed connects.
func (e *Evaluator) Restore(ctx context.Context) error {
	docs, err := e.store.Query(ctx, ledger.AllOrdersPrefix)
	if err != nil {
		return err
	}
	restored := 0
	for _, doc := range docs {
		var o domain.Order
		if err := doc.Unmarshal(&o); err != nil {
			e.logger.Warn("skipping undecodable order document", slog.String("key", doc.Key))
			continue
		}
		if o.Type == domain.OrderTypeLimit && o.Status == domain.OrderStatusPending {
			e.Track(&o)
			restored++
		}
	}
	if restored > 0 {
		e.logger.Info("restored pending orders", slog.Int("count", restored))
	}
	return nil
}

// TrackedCount returns the number of orders currently tracked.
func (e *Evaluator) TrackedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracked)
}

// LastPrice exposes the feed's last observed reference price; the
// account service uses it to settle market orders.
func (e *Evaluator) LastPrice(market string) (decimal.Decimal, bool) {
	return e.feed.LastPrice(market)
}

// EvaluateMarket runs one price-triggered pass over the market's
// pending orders: expiry is checked first, unconditionally, and only
// non-expired orders are checked against the execution guard.
func (e *Evaluator) EvaluateMarket(ctx context.Context, market string, price decimal.Decimal) {
	e.mu.Lock()
	candidates := make([]*trackedOrder, 0, len(e.byMarket[market]))
	for _, t := range e.byMarket[market] {
		candidates = append(candidates, t)
	}
	e.mu.Unlock()

	now := time.Now()
	for _, t := range candidates {
		e.evaluate(ctx, t, price, true, now)
	}
}

// Sweep runs one timer-triggered pass: expiry only, regardless of
// price activity. Orders whose TTL has not elapsed are not touched.
func (e *Evaluator) Sweep(ctx context.Context, now time.Time) {
	e.mu.Lock()
	ids := e.expiry.due(now)
	due := make([]*trackedOrder, 0, len(ids))
	for _, id := range ids {
		if t, ok := e.tracked[id]; ok {
			due = append(due, t)
		}
	}
	e.mu.Unlock()

	for _, t := range due {
		e.evaluate(ctx, t, decimal.Zero, false, now)
	}
}

// evaluate decides and applies at most one terminal transition for one
// order. Expiry takes precedence over execution when both hold.
func (e *Evaluator) evaluate(ctx context.Context, t *trackedOrder, price decimal.Decimal, hasPrice bool, now time.Time) {
	if !e.guard.TryAcquire(t.orderID) {
		return
	}
	defer e.guard.Release(t.orderID)

	switch {
	case !now.Before(t.expiresAt):
		e.settle(ctx, t.userID, t.orderID, domain.OrderStatusExpired, decimal.Zero)
	case hasPrice && executable(t.side, t.price, price):
		e.settle(ctx, t.userID, t.orderID, domain.OrderStatusExecuted, price)
	}
}

func executable(side domain.OrderSide, limit, refPrice decimal.Decimal) bool {
	if side == domain.OrderSideBuy {
		return refPrice.LessThanOrEqual(limit)
	}
	return refPrice.GreaterThanOrEqual(limit)
}

// settle attempts a terminal transition and interprets the outcome. A
// store conflict is left alone: either another evaluator settled the
// order (the next pass observes the terminal status and untracks), or
// an unrelated write to the same account raced us and the next pass
// will simply try again.
func (e *Evaluator) settle(ctx context.Context, userID, orderID string, target domain.OrderStatus, refPrice decimal.Decimal) {
	o, err := e.Transition(ctx, userID, orderID, target, refPrice)
	switch {
	case err == nil:
		e.untrack(orderID)
		e.logger.Info("order settled",
			slog.String("order_id", orderID),
			slog.String("status", string(o.Status)),
			slog.String("market", o.Market),
		)
		if o.Status == domain.OrderStatusExecuted && o.Side == domain.OrderSideBuy {
			e.reconcile(ctx, o)
		}
	case errors.Is(err, domain.ErrOrderNotPending), errors.Is(err, ledger.ErrNotFound):
		e.untrack(orderID)
	case errors.Is(err, ledger.ErrConflict):
		e.logger.Debug("transition lost race", slog.String("order_id", orderID))
	default:
		e.logger.Error("transition failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}

// Cancel performs the user-initiated terminal transition. It returns
// domain.ErrOrderNotPending when the order already settled (the caller
// tells the user it executed or expired moments earlier), and retries
// pure store conflicts a few times since a concurrent deposit touching
// the same account is not a settlement race.
func (e *Evaluator) Cancel(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	const attempts = 3
	var (
		o   *domain.Order
		err error
	)
	for i := 0; i < attempts; i++ {
		o, err = e.Transition(ctx, userID, orderID, domain.OrderStatusCancelled, decimal.Zero)
		if !errors.Is(err, ledger.ErrConflict) {
			break
		}
	}
	if err == nil || errors.Is(err, domain.ErrOrderNotPending) {
		e.untrack(orderID)
	}
	return o, err
}

// Transition applies one terminal transition atomically: it re-reads
// the order, no-ops unless the status is still pending, releases or
// transfers the reservation, and writes order and ledger records in the
// same transaction. An executed target is downgraded to expired when
// the TTL elapsed in the meantime; an expired reservation never
// executes.
func (e *Evaluator) Transition(ctx context.Context, userID, orderID string, target domain.OrderStatus, refPrice decimal.Decimal) (*domain.Order, error) {
	if !target.Terminal() {
		return nil, errors.New("engine: transition target must be terminal")
	}

	var settled domain.Order
	err := e.store.Transact(ctx, func(tx *ledger.Txn) error {
		var o domain.Order
		if err := tx.GetJSON(ledger.OrderKey(userID, orderID), &o); err != nil {
			return err
		}
		if o.Status != domain.OrderStatusPending {
			return domain.ErrOrderNotPending
		}

		now := time.Now()
		status := target
		if status == domain.OrderStatusExecuted && o.ExpiredBy(now) {
			status = domain.OrderStatusExpired
		}
		o.Status = status
		o.SettledAt = &now
		if status == domain.OrderStatusExecuted {
			o.ExecutionPrice = refPrice
		}

		if o.Side == domain.OrderSideBuy {
			if err := e.settleBuy(tx, &o, status); err != nil {
				return err
			}
		} else {
			if err := e.settleSell(tx, &o, status); err != nil {
				return err
			}
		}

		if err := tx.Put(ledger.OrderKey(userID, orderID), &o); err != nil {
			return err
		}
		settled = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &settled, nil
}

// settleBuy releases the cash reservation. Funds left the wallet at
// placement, so execution only burns the locked amount; cancel and
// expiry return it to the wallet.
func (e *Evaluator) settleBuy(tx *ledger.Txn, o *domain.Order, status domain.OrderStatus) error {
	var acct domain.Account
	if err := tx.GetJSON(ledger.AccountKey(o.UserID), &acct); err != nil {
		return err
	}
	acct.LockedBalance = domain.SubFloor(acct.LockedBalance, o.TotalCost)
	if status != domain.OrderStatusExecuted {
		acct.WalletBalance = acct.WalletBalance.Add(o.TotalCost)
	}
	return tx.Put(ledger.AccountKey(o.UserID), &acct)
}

// settleSell releases the quantity reservation and, on execution,
// credits the proceeds. Proceeds use TotalCost — the limit price fixed
// at placement — matching the placement-side reservation semantics.
func (e *Evaluator) settleSell(tx *ledger.Txn, o *domain.Order, status domain.OrderStatus) error {
	key := ledger.HoldingKey(o.UserID, o.BaseCurrency())
	var h domain.Holding
	err := tx.GetJSON(key, &h)
	if errors.Is(err, ledger.ErrNotFound) {
		// Holding gone; nothing left to release. Executed proceeds
		// are still credited below.
		err = nil
		h = domain.Holding{}
	}
	if err != nil {
		return err
	}

	if h.UserID != "" {
		h.LockedQuantity = domain.SubFloor(h.LockedQuantity, o.Amount)
		if status == domain.OrderStatusExecuted {
			h.Quantity = domain.SubFloor(h.Quantity, o.Amount)
		}
		if h.Quantity.IsZero() && h.LockedQuantity.IsZero() {
			tx.Delete(key)
		} else if err := tx.Put(key, &h); err != nil {
			return err
		}
	}

	if status == domain.OrderStatusExecuted {
		var acct domain.Account
		if err := tx.GetJSON(ledger.AccountKey(o.UserID), &acct); err != nil {
			return err
		}
		acct.WalletBalance = acct.WalletBalance.Add(o.TotalCost)
		return tx.Put(ledger.AccountKey(o.UserID), &acct)
	}
	return nil
}
