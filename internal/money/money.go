// Package money holds monetary values as signed integers in KES minor units
// (1 KES = 100 units). All arithmetic stays in integers; decimals appear only
// at the formatting and percentage boundaries.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor units.
type Amount int64

// CurrencyCode is the single currency this system operates in.
const CurrencyCode = "KES"

// FromKES converts whole shillings to minor units.
func FromKES(kes int64) Amount {
	return Amount(kes * 100)
}

// Minor returns the raw minor-unit value.
func (a Amount) Minor() int64 {
	return int64(a)
}

// Decimal returns the amount in KES as an exact decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String renders the amount for logs and messages, e.g. "KES 1048.00".
func (a Amount) String() string {
	return CurrencyCode + " " + a.Decimal().StringFixed(2)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a > 0
}

// IsNegative reports whether the amount is strictly less than zero.
func (a Amount) IsNegative() bool {
	return a < 0
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a == 0
}

// MultiplyDays scales a per-day amount by a day count.
func (a Amount) MultiplyDays(days int) Amount {
	return a * Amount(days)
}

// ParseKES parses a decimal KES string ("1048", "87.50") into minor units.
// More than two decimal places is an error, never silently truncated.
func ParseKES(value string) (Amount, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", value, err)
	}

	minor := dec.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than two decimal places", value)
	}

	return Amount(minor.IntPart()), nil
}

// SplitPercent splits the amount into (share, remainder) where share is
// percent% of the amount rounded half-up to a minor unit. share + remainder
// always equals the original amount, so journal entries built from a split
// stay balanced.
func (a Amount) SplitPercent(percent decimal.Decimal) (share, remainder Amount) {
	shareDec := decimal.New(int64(a), 0).
		Mul(percent).
		Div(decimal.NewFromInt(100)).
		Round(0)

	share = Amount(shareDec.IntPart())
	remainder = a - share
	return share, remainder
}
