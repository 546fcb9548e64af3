package ledger

import (
	"context"
	"errors"
)

// WithRetry runs fn through Transact, retrying up to attempts times on
// ErrConflict. It is meant for placement-style transactions where a
// conflict is transient contention; lifecycle transitions must NOT use
// it, because there a conflict means another evaluator already settled
// the order.
func WithRetry(ctx context.Context, s Store, attempts int, fn func(tx *Txn) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = s.Transact(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}
