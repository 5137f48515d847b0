package domain

import (
	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits money is kept with.
// Balances are NUMERIC(15,2) in the store.
const AmountScale = 2

// DefaultTransferLimit is the per-transfer ceiling in currency units.
var DefaultTransferLimit = decimal.NewFromInt(1_000_000)

// ValidateAmount checks that amount is strictly positive, carries no more
// than AmountScale fractional digits and does not exceed limit.
func ValidateAmount(amount, limit decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(limit) {
		return ErrAmountExceedsLimit
	}
	return nil
}

// FormatAmount renders money the way the API reports it, e.g. "300.00".
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}
