package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"papertrade/internal/domain"
	"papertrade/internal/engine"
	"papertrade/internal/ledger"
)

// PlaceLimitOrderRequest represents the input for limit-order placement.
// Price and Amount arrive as decimal strings straight from the API.
type PlaceLimitOrderRequest struct {
	UserID string
	Market string
	Side   domain.OrderSide
	Price  string
	Amount string
}

// OrderService handles limit-order placement, cancellation, retrieval,
// and the pending-order projection.
type OrderService struct {
	store     ledger.Store
	evaluator *engine.Evaluator
	ttl       time.Duration
	retries   int
}

// NewOrderService creates an OrderService. ttl is the fixed
// time-to-live applied to every limit order; retries bounds how often a
// placement transaction is retried on store conflicts.
func NewOrderService(store ledger.Store, evaluator *engine.Evaluator, ttl time.Duration, retries int) *OrderService {
	return &OrderService{
		store:     store,
		evaluator: evaluator,
		ttl:       ttl,
		retries:   retries,
	}
}

// PlaceLimitOrder validates the request and, in one atomic transaction,
// reserves the order's funds (buy) or holding quantity (sell) and
// creates the pending order. The reservation and the order commit
// together or not at all. The new order is then handed to the evaluator
// and immediately checked against the last known reference price.
func (s *OrderService) PlaceLimitOrder(ctx context.Context, req PlaceLimitOrderRequest) (*domain.Order, error) {
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if !domain.ValidMarket(req.Market) {
		return nil, &domain.ValidationError{Message: "market must have the form BASE_QUOTE, e.g. SOL_USDC"}
	}
	price, err := domain.ParsePositiveDecimal("price", req.Price)
	if err != nil {
		return nil, err
	}
	amount, err := domain.ParsePositiveDecimal("amount", req.Amount)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &domain.Order{
		OrderID:   uuid.NewString(),
		UserID:    req.UserID,
		Market:    req.Market,
		Type:      domain.OrderTypeLimit,
		Side:      req.Side,
		Price:     price,
		Amount:    amount,
		TotalCost: price.Mul(amount),
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	err = ledger.WithRetry(ctx, s.store, s.retries, func(tx *ledger.Txn) error {
		if req.Side == domain.OrderSideBuy {
			if err := reserveFunds(tx, order); err != nil {
				return err
			}
		} else {
			if err := reserveQuantity(tx, order); err != nil {
				return err
			}
		}
		return tx.Put(ledger.OrderKey(order.UserID, order.OrderID), order)
	})
	if err != nil {
		return nil, err
	}

	s.evaluator.Track(order)
	if p, ok := s.evaluator.LastPrice(order.Market); ok {
		s.evaluator.EvaluateMarket(ctx, order.Market, p)
	}

	// The immediate pass may already have settled the order; return the
	// committed state either way.
	return s.GetOrder(ctx, order.UserID, order.OrderID)
}

// reserveFunds moves the order's total cost from the wallet to the
// locked balance.
func reserveFunds(tx *ledger.Txn, order *domain.Order) error {
	var acct domain.Account
	if err := tx.GetJSON(ledger.AccountKey(order.UserID), &acct); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.ErrNoSuchAccount
		}
		return err
	}
	if acct.WalletBalance.LessThan(order.TotalCost) {
		return fmt.Errorf("%w: need %s, have %s",
			domain.ErrInsufficientFunds, order.TotalCost, acct.WalletBalance)
	}
	acct.WalletBalance = acct.WalletBalance.Sub(order.TotalCost)
	acct.LockedBalance = acct.LockedBalance.Add(order.TotalCost)
	return tx.Put(ledger.AccountKey(order.UserID), &acct)
}

// reserveQuantity locks the order's amount on the holding of the
// market's base currency and back-references the holding on the order.
func reserveQuantity(tx *ledger.Txn, order *domain.Order) error {
	key := ledger.HoldingKey(order.UserID, order.BaseCurrency())
	var h domain.Holding
	if err := tx.GetJSON(key, &h); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.ErrNoSuchHolding
		}
		return err
	}
	if h.AvailableQuantity().LessThan(order.Amount) {
		return fmt.Errorf("%w: need %s, have %s unlocked",
			domain.ErrInsufficientQuantity, order.Amount, h.AvailableQuantity())
	}
	h.LockedQuantity = h.LockedQuantity.Add(order.Amount)
	order.HoldingID = h.ID
	return tx.Put(key, &h)
}

// CancelOrder attempts the user-initiated terminal transition. If the
// order settled first, domain.ErrOrderNotPending tells the caller the
// order already executed or expired.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	o, err := s.evaluator.Cancel(ctx, userID, orderID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, domain.ErrNoSuchOrder
	}
	return o, err
}

// GetOrder returns one of the user's orders.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	doc, err := s.store.Get(ctx, ledger.OrderKey(userID, orderID))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, domain.ErrNoSuchOrder
		}
		return nil, err
	}
	var o domain.Order
	if err := doc.Unmarshal(&o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders returns all of the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	docs, err := s.store.Query(ctx, ledger.OrderPrefix(userID))
	if err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, 0, len(docs))
	for _, doc := range docs {
		var o domain.Order
		if err := doc.Unmarshal(&o); err != nil {
			return nil, err
		}
		orders = append(orders, &o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// PendingOrders returns the user's currently pending orders, newest first.
func (s *OrderService) PendingOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	orders, err := s.ListOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	pending := orders[:0]
	for _, o := range orders {
		if o.Status == domain.OrderStatusPending {
			pending = append(pending, o)
		}
	}
	return pending, nil
}

// WatchPendingOrders streams the user's pending-order list after every
// ledger commit touching their orders. The stream is latest-wins, so
// the UI always converges on current state without back-pressuring
// commits. The cancel func must be called when the watcher goes away.
func (s *OrderService) WatchPendingOrders(userID string) (<-chan []domain.Order, func()) {
	docs, cancel := s.store.Subscribe(ledger.OrderPrefix(userID))
	out := make(chan []domain.Order, 1)

	go func() {
		defer close(out)
		for batch := range docs {
			pending := make([]domain.Order, 0, len(batch))
			for _, doc := range batch {
				var o domain.Order
				if err := doc.Unmarshal(&o); err != nil {
					continue
				}
				if o.Status == domain.OrderStatusPending {
					pending = append(pending, o)
				}
			}
			sort.Slice(pending, func(i, j int) bool {
				return pending[i].CreatedAt.After(pending[j].CreatedAt)
			})
			select {
			case out <- pending:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- pending:
				default:
				}
			}
		}
	}()
	return out, cancel
}
