package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeSchedule carries the fee rates applied by the ledger, as fractions (0.01 = 1%).
type FeeSchedule struct {
	Withdrawal decimal.Decimal
	Conversion decimal.Decimal
	Transfer   decimal.Decimal
}

// Validate rejects negative rates and rates of 100% or more.
func (f FeeSchedule) Validate() error {
	one := decimal.NewFromInt(1)
	for name, rate := range map[string]decimal.Decimal{
		"withdrawal": f.Withdrawal,
		"conversion": f.Conversion,
		"transfer":   f.Transfer,
	} {
		if rate.IsNegative() || rate.GreaterThanOrEqual(one) {
			return fmt.Errorf("%s fee rate out of range [0, 1): %s", name, rate)
		}
	}
	return nil
}

// FeeOn returns amount * rate.
func FeeOn(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate)
}
