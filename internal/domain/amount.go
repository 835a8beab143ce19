// internal/domain/amount.go
package domain

import "github.com/shopspring/decimal"

// Amounts and balances are stored as NUMERIC(38,18): at most 18 fractional
// digits and an integer part below 10^20.
const AmountScale = 18

var amountLimit = decimal.New(1, 20)

// ValidAmount reports whether amount is strictly positive and storable
// without rounding or overflow.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && Storable(amount)
}

// Storable reports whether d fits the stored precision exactly.
func Storable(d decimal.Decimal) bool {
	return d.Abs().LessThan(amountLimit) && d.Equal(d.Truncate(AmountScale))
}
