package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"papertrade/internal/domain"
	"papertrade/internal/ledger"
)

const (
	reconcileAttempts = 3
	reconcileBackoff  = 50 * time.Millisecond
)

// reconcile applies the post-execution holding upsert for a buy order,
// retrying a bounded number of times. The order is already terminal; a
// persistent failure here leaves funds settled but the holding behind,
// which is logged loudly as a recoverable inconsistency rather than
// rolled back.
func (e *Evaluator) reconcile(ctx context.Context, o *domain.Order) {
	var err error
	for attempt := 1; attempt <= reconcileAttempts; attempt++ {
		err = e.ReconcileFill(ctx, o)
		if err == nil {
			return
		}
		e.logger.Warn("holding reconciliation attempt failed",
			slog.String("order_id", o.OrderID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
		case <-time.After(reconcileBackoff):
		}
		if ctx.Err() != nil {
			break
		}
	}
	e.logger.Error("holding reconciliation failed; holding lags executed order until re-run",
		slog.String("order_id", o.OrderID),
		slog.String("user_id", o.UserID),
		slog.String("market", o.Market),
		slog.String("error", err.Error()),
	)
}

// ReconcileFill finds or creates the holding for the order's base
// currency and applies the volume-weighted average-cost update at the
// order's execution price. Exported so a compensating re-run can be
// driven from outside the evaluator.
func (e *Evaluator) ReconcileFill(ctx context.Context, o *domain.Order) error {
	base := o.BaseCurrency()
	key := ledger.HoldingKey(o.UserID, base)

	return e.store.Transact(ctx, func(tx *ledger.Txn) error {
		var h domain.Holding
		err := tx.GetJSON(key, &h)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			h = domain.Holding{
				ID:            uuid.NewString(),
				UserID:        o.UserID,
				Currency:      base,
				Quantity:      o.Amount,
				PurchasePrice: o.ExecutionPrice,
				CurrentPrice:  o.ExecutionPrice,
				CreatedAt:     time.Now(),
			}
		case err != nil:
			return err
		default:
			h.PurchasePrice = domain.AverageCost(h.Quantity, h.PurchasePrice, o.Amount, o.ExecutionPrice)
			h.Quantity = h.Quantity.Add(o.Amount)
			h.CurrentPrice = o.ExecutionPrice
		}
		return tx.Put(key, &h)
	})
}
