package data

import "github.com/bodasure/bodasure-backend/internal/money"

// Production program constants. Amounts are defaults only — configuration may
// override them — but the day count is structural: the wallet counter, the
// CHECK constraints and the eleven-month qualification all assume 30.
const (
	// DaysRequiredForElevenMonthPolicy is how many daily payments qualify the
	// rider for the eleven-month policy.
	DaysRequiredForElevenMonthPolicy = 30

	// DefaultDepositAmount is KES 1048 in minor units.
	DefaultDepositAmount money.Amount = 104800
	// DefaultDailyAmount is KES 87 in minor units.
	DefaultDailyAmount money.Amount = 8700
)
