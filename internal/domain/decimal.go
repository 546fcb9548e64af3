package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxDecimalPlaces is the finest precision accepted for prices and
// amounts (one satoshi for eight-decimal assets).
const MaxDecimalPlaces = 8

// SubFloor returns a − b, floored at zero. Every balance or quantity
// decrement in the ledger goes through this helper so the "never
// negative" invariant is enforced in one place.
func SubFloor(a, b decimal.Decimal) decimal.Decimal {
	d := a.Sub(b)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// AverageCost recomputes a holding's volume-weighted average purchase
// price after a fill: (oldQty·oldAvg + fillQty·fillPrice) / (oldQty+fillQty).
// Returns fillPrice when the combined quantity is zero.
func AverageCost(oldQty, oldAvg, fillQty, fillPrice decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(fillQty)
	if total.IsZero() {
		return fillPrice
	}
	return oldQty.Mul(oldAvg).Add(fillQty.Mul(fillPrice)).Div(total)
}

// ParsePositiveDecimal parses a positive decimal with at most
// MaxDecimalPlaces fractional digits. Used for price and amount inputs.
func ParsePositiveDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{
			Message: fmt.Sprintf("%s must be a valid decimal number", field),
		}
	}
	if !d.IsPositive() {
		return decimal.Zero, &ValidationError{
			Message: fmt.Sprintf("%s must be greater than 0", field),
		}
	}
	if d.Exponent() < -MaxDecimalPlaces {
		return decimal.Zero, &ValidationError{
			Message: fmt.Sprintf("%s must have at most %d decimal places", field, MaxDecimalPlaces),
		}
	}
	return d, nil
}
