package onramp

import "github.com/shopspring/decimal"

// Order is the client-visible aggregate owned by the Machine. It is created
// empty per onramp attempt and lives entirely in memory; callers receive
// copies and never mutate it directly.
type Order struct {
	Status Status

	// OrderID is set once on creation and never mutated afterwards.
	OrderID string

	// Error holds the user-facing message for a failure transition. Cleared
	// when a new order is created.
	Error string

	// TotalUSD is the total charged, EffectiveAmount the amount credited net
	// of fees. Both are decimal strings from the order quote.
	TotalUSD        string
	EffectiveAmount string

	// TxID is set only once delivery completes.
	TxID string
}

// FeeUSD derives the fee as TotalUSD minus EffectiveAmount. It returns false
// when either amount is missing or unparseable, or when the difference is
// negative, which a well-formed quote never produces.
func (o Order) FeeUSD() (decimal.Decimal, bool) {
	if o.TotalUSD == "" || o.EffectiveAmount == "" {
		return decimal.Zero, false
	}
	total, err := decimal.NewFromString(o.TotalUSD)
	if err != nil {
		return decimal.Zero, false
	}
	effective, err := decimal.NewFromString(o.EffectiveAmount)
	if err != nil {
		return decimal.Zero, false
	}
	fee := total.Sub(effective)
	if fee.IsNegative() {
		return decimal.Zero, false
	}
	return fee, true
}
