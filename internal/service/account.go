package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/ledger"
)

// PriceSource supplies the last observed reference price per market.
type PriceSource interface {
	LastPrice(market string) (decimal.Decimal, bool)
}

// PlaceMarketOrderRequest represents the input for market-order placement.
type PlaceMarketOrderRequest struct {
	UserID string
	Market string
	Side   domain.OrderSide
	Amount string
}

// AccountService handles market orders and the account/holding read
// models. Market orders bypass the reservation protocol entirely: they
// validate and settle the ledger in a single transaction, with no
// pending state.
type AccountService struct {
	store   ledger.Store
	prices  PriceSource
	retries int
}

// NewAccountService creates an AccountService.
func NewAccountService(store ledger.Store, prices PriceSource, retries int) *AccountService {
	return &AccountService{store: store, prices: prices, retries: retries}
}

// PlaceMarketOrder settles a buy or sell immediately at the feed's last
// reference price. Fails with domain.ErrNoReferencePrice before any
// transaction when no price has been observed for the market yet. The
// returned order is stored already executed, for history.
func (s *AccountService) PlaceMarketOrder(ctx context.Context, req PlaceMarketOrderRequest) (*domain.Order, error) {
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if !domain.ValidMarket(req.Market) {
		return nil, &domain.ValidationError{Message: "market must have the form BASE_QUOTE, e.g. SOL_USDC"}
	}
	amount, err := domain.ParsePositiveDecimal("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	price, ok := s.prices.LastPrice(req.Market)
	if !ok {
		return nil, domain.ErrNoReferencePrice
	}

	now := time.Now()
	order := &domain.Order{
		OrderID:        uuid.NewString(),
		UserID:         req.UserID,
		Market:         req.Market,
		Type:           domain.OrderTypeMarket,
		Side:           req.Side,
		Price:          price,
		Amount:         amount,
		TotalCost:      price.Mul(amount),
		Status:         domain.OrderStatusExecuted,
		ExecutionPrice: price,
		CreatedAt:      now,
		SettledAt:      &now,
	}

	err = ledger.WithRetry(ctx, s.store, s.retries, func(tx *ledger.Txn) error {
		if req.Side == domain.OrderSideBuy {
			if err := settleMarketBuy(tx, order); err != nil {
				return err
			}
		} else {
			if err := settleMarketSell(tx, order); err != nil {
				return err
			}
		}
		return tx.Put(ledger.OrderKey(order.UserID, order.OrderID), order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// settleMarketBuy debits the wallet and upserts the holding with the
// average-cost formula, all in the caller's transaction.
func settleMarketBuy(tx *ledger.Txn, order *domain.Order) error {
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
	if err := tx.Put(ledger.AccountKey(order.UserID), &acct); err != nil {
		return err
	}

	base := order.BaseCurrency()
	key := ledger.HoldingKey(order.UserID, base)
	var h domain.Holding
	err := tx.GetJSON(key, &h)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		h = domain.Holding{
			ID:            uuid.NewString(),
			UserID:        order.UserID,
			Currency:      base,
			Quantity:      order.Amount,
			PurchasePrice: order.ExecutionPrice,
			CurrentPrice:  order.ExecutionPrice,
			CreatedAt:     time.Now(),
		}
	case err != nil:
		return err
	default:
		h.PurchasePrice = domain.AverageCost(h.Quantity, h.PurchasePrice, order.Amount, order.ExecutionPrice)
		h.Quantity = h.Quantity.Add(order.Amount)
		h.CurrentPrice = order.ExecutionPrice
	}
	order.HoldingID = h.ID
	return tx.Put(key, &h)
}

// settleMarketSell credits the wallet and reduces the holding, deleting
// it when the position is fully closed and nothing is locked against it.
func settleMarketSell(tx *ledger.Txn, order *domain.Order) error {
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
	order.HoldingID = h.ID

	h.Quantity = domain.SubFloor(h.Quantity, order.Amount)
	h.CurrentPrice = order.ExecutionPrice
	if h.Quantity.IsZero() && h.LockedQuantity.IsZero() {
		tx.Delete(key)
	} else if err := tx.Put(key, &h); err != nil {
		return err
	}

	var acct domain.Account
	if err := tx.GetJSON(ledger.AccountKey(order.UserID), &acct); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.ErrNoSuchAccount
		}
		return err
	}
	acct.WalletBalance = acct.WalletBalance.Add(order.TotalCost)
	return tx.Put(ledger.AccountKey(order.UserID), &acct)
}

// GetAccount returns the user's cash account.
func (s *AccountService) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	doc, err := s.store.Get(ctx, ledger.AccountKey(userID))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, domain.ErrNoSuchAccount
		}
		return nil, err
	}
	var acct domain.Account
	if err := doc.Unmarshal(&acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// ListHoldings returns the user's holdings ordered by currency.
func (s *AccountService) ListHoldings(ctx context.Context, userID string) ([]*domain.Holding, error) {
	docs, err := s.store.Query(ctx, ledger.HoldingPrefix(userID))
	if err != nil {
		return nil, err
	}
	holdings := make([]*domain.Holding, 0, len(docs))
	for _, doc := range docs {
		var h domain.Holding
		if err := doc.Unmarshal(&h); err != nil {
			return nil, err
		}
		holdings = append(holdings, &h)
	}
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].Currency < holdings[j].Currency
	})
	return holdings, nil
}

// Deposit tops up the paper-trading wallet.
func (s *AccountService) Deposit(ctx context.Context, userID, amount string) (*domain.Account, error) {
	d, err := domain.ParsePositiveDecimal("amount", amount)
	if err != nil {
		return nil, err
	}

	var updated domain.Account
	err = ledger.WithRetry(ctx, s.store, s.retries, func(tx *ledger.Txn) error {
		var acct domain.Account
		if err := tx.GetJSON(ledger.AccountKey(userID), &acct); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return domain.ErrNoSuchAccount
			}
			return err
		}
		acct.WalletBalance = acct.WalletBalance.Add(d)
		updated = acct
		return tx.Put(ledger.AccountKey(userID), &acct)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
